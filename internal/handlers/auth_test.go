package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamhive/signal-relay/internal/middleware"
)

func TestLoginIssuesParsableToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", Login(testSecret))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"alice","password":"whatever"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.UserID)

	// The issued token must round-trip through the same claims the
	// bearer middleware and the websocket endpoint parse.
	userID, err := middleware.ParseUserID(resp.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", Login(testSecret))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOriginFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OriginFilter([]string{"https://app.example.com"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		origin string
		want   int
	}{
		{"allowed origin", "https://app.example.com", http.StatusOK},
		{"unknown origin", "https://evil.example.com", http.StatusForbidden},
		{"no origin header", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK && tc.origin != "" {
				assert.Equal(t, tc.origin, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestOriginFilterPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OriginFilter([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
