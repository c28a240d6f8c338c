package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/membership"
	"github.com/teamhive/signal-relay/internal/middleware"
	"github.com/teamhive/signal-relay/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// SubscribeFeed upgrades the connection and streams the room's event feed.
// The socket is receive-only: signaling ingress goes through the POST
// endpoint so push and polling clients share one code path. The JWT rides
// in the token query parameter since browsers cannot set websocket headers.
func SubscribeFeed(hub *transport.Hub, members membership.Checker, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
			return
		}

		userID, err := middleware.ParseUserID(c.Query("token"), jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		ok, err := members.IsMember(c.Request.Context(), roomID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Membership check failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		sub := hub.Subscribe(uuid.New().String(), roomID, conn)
		log.Info().Str("room", roomID).Str("user", userID).Str("subscriber", sub.ID).Msg("feed subscriber connected")

		go sub.WritePump()
		go sub.ReadPump()
	}
}
