package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/membership"
	"github.com/teamhive/signal-relay/internal/models"
	"github.com/teamhive/signal-relay/internal/relay"
)

// Signal accepts one signaling event for a room. The body is normalized at
// the boundary (userId/from and userName/fromName aliases collapse to one
// actor identity) and handed to the relay. 403 for non-members, 202 on
// acceptance; push delivery problems are invisible to the caller.
func Signal(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		roomID := c.Param("roomId")

		var in models.InboundSignal
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signal body"})
			return
		}

		event := in.Normalize(roomID)

		if err := r.Handle(c.Request.Context(), roomID, userID.(string), event); err != nil {
			if errors.Is(err, relay.ErrNotMember) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process signal"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"id": event.ID, "timestamp": event.Timestamp})
	}
}

// requireMember resolves the authenticated caller and checks room
// membership. The polling fallback and roster endpoints carry the same
// precondition as the signal and websocket paths: room traffic (buffered
// SDP offers, ICE candidates, the roster) is only visible to members.
func requireMember(c *gin.Context, members membership.Checker, roomID string) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}

	ok, err := members.IsMember(c.Request.Context(), roomID, userID.(string))
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Membership check failed"})
		return "", false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
		return "", false
	}
	return userID.(string), true
}

// PollEvents returns buffered room events newer than the since parameter
// (epoch milliseconds, strict comparison, defaults to 0). Members only.
func PollEvents(r *relay.Relay, members membership.Checker, pollInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		if _, ok := requireMember(c, members, roomID); !ok {
			return
		}

		since := int64(0)
		if raw := c.Query("since"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since parameter"})
				return
			}
			since = parsed
		}

		messages := r.Poll(roomID, since)

		c.JSON(http.StatusOK, models.PollResponse{
			Messages:     messages,
			Timestamp:    time.Now().UnixMilli(),
			PollInterval: pollInterval.Milliseconds(),
		})
	}
}

// Participants returns the room's current roster in first-join order.
// Members only.
func Participants(r *relay.Relay, members membership.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		if _, ok := requireMember(c, members, roomID); !ok {
			return
		}

		participants, err := r.Roster(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read roster"})
			return
		}
		if participants == nil {
			participants = []models.Participant{}
		}

		c.JSON(http.StatusOK, gin.H{"participants": participants})
	}
}
