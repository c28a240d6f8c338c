package handlers

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/buffer"
	"github.com/teamhive/signal-relay/internal/membership"
	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/presence"
	"github.com/teamhive/signal-relay/internal/redis"
)

const (
	roomCodeLength = 6
	roomTTL        = 24 * time.Hour
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom creates a new room; the creator becomes its first member
func CreateRoom(members *membership.RedisMembers) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		// Body is optional
		var req models.CreateRoomRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		roomID := uuid.New().String()
		roomCode := generateRoomCode()

		room := models.RoomMetadata{
			ID:        roomID,
			Code:      roomCode,
			CreatorID: userID.(string),
			CreatedAt: time.Now(),
		}

		redisClient := redis.GetClient()
		ctx := redis.GetContext()

		roomData, err := json.Marshal(room)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		if err := redisClient.Set(ctx, "room:"+roomID, roomData, roomTTL).Err(); err != nil {
			log.Error().Err(err).Msg("failed to store room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		// Store code-to-ID mapping for easy lookup
		if err := redisClient.Set(ctx, "code:"+roomCode, roomID, roomTTL).Err(); err != nil {
			log.Error().Err(err).Msg("failed to store room code")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		if err := members.Add(c.Request.Context(), roomID, userID.(string)); err != nil {
			log.Error().Err(err).Msg("failed to add creator to room members")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		log.Info().Str("room", roomID).Str("code", roomCode).Str("creator", userID.(string)).Msg("room created")

		c.JSON(http.StatusCreated, models.CreateRoomResponse{
			RoomID: roomID,
			Code:   roomCode,
		})
	}
}

// GetRoom gets room information by code or ID (public)
func GetRoom(members *membership.RedisMembers, store presence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, room, err := resolveRoom(c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		memberCount, _ := members.Count(c.Request.Context(), roomID)
		room.MemberCount = int(memberCount)

		participants, _ := store.List(c.Request.Context(), roomID)
		room.ParticipantCount = len(participants)

		c.JSON(http.StatusOK, room)
	}
}

// JoinRoom adds the caller to the room's membership set
func JoinRoom(members *membership.RedisMembers) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		roomID, room, err := resolveRoom(c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		if err := members.Add(c.Request.Context(), roomID, userID.(string)); err != nil {
			log.Error().Err(err).Msg("failed to add room member")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join room"})
			return
		}

		log.Info().Str("room", roomID).Str("user", userID.(string)).Msg("member joined room")

		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "code": room.Code})
	}
}

// DeleteRoom deletes a room (requires authentication and creator)
func DeleteRoom(members *membership.RedisMembers, ring *buffer.Ring) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		roomID, room, err := resolveRoom(c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		// Verify user is the creator
		if room.CreatorID != userID.(string) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
			return
		}

		redisClient := redis.GetClient()
		ctx := redis.GetContext()
		redisClient.Del(ctx, "room:"+roomID)
		redisClient.Del(ctx, "code:"+room.Code)
		if err := members.Drop(c.Request.Context(), roomID); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("failed to drop membership set")
		}
		ring.DropRoom(roomID)

		log.Info().Str("room", roomID).Str("user", userID.(string)).Msg("room deleted")

		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	}
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// resolveRoom looks a room up by short code or ID and returns its metadata
func resolveRoom(roomIdentifier string) (string, *models.RoomMetadata, error) {
	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	roomID := roomIdentifier

	// Check if it's a code (6 chars) vs UUID
	if len(roomIdentifier) == roomCodeLength {
		id, err := redisClient.Get(ctx, "code:"+roomIdentifier).Result()
		if err != nil {
			return "", nil, fmt.Errorf("room not found")
		}
		roomID = id
	}

	roomData, err := redisClient.Get(ctx, "room:"+roomID).Result()
	if err != nil {
		return "", nil, fmt.Errorf("room not found")
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(roomData), &room); err != nil {
		return "", nil, fmt.Errorf("failed to parse room data")
	}

	return roomID, &room, nil
}
