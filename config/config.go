package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig

	// PushTransport selects the push side of the broadcaster:
	// "ws" (in-process websocket hub), "redis" (pub/sub fan-out across
	// instances) or "none" (polling-only mode).
	PushTransport string

	// RedisPresence stores the participant roster in Redis instead of
	// process memory. Required when running more than one instance.
	RedisPresence bool

	BufferCapacity    int
	PollInterval      time.Duration
	PresenceStaleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Load() *Config {
	// Optional local overrides; a missing .env is fine.
	_ = godotenv.Load()

	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		PushTransport:     getEnv("PUSH_TRANSPORT", "ws"),
		RedisPresence:     getEnv("REDIS_PRESENCE", "false") == "true",
		BufferCapacity:    getEnvInt("BUFFER_CAPACITY", 100),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PresenceStaleTime: getEnvDuration("PRESENCE_STALE_AFTER", 45*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
