package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub fans events out to websocket subscribers, one subscriber set per room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Subscriber
}

// Subscriber is one websocket client receiving a room's event feed.
type Subscriber struct {
	ID     string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	hub *Hub
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Subscriber)}
}

// Trigger implements PushChannel.
func (h *Hub) Trigger(_ context.Context, roomID string, event models.SignalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.deliver(roomID, data)
	return nil
}

func (h *Hub) deliver(roomID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.rooms[roomID] {
		select {
		case sub.Send <- data:
		default:
			log.Warn().Str("room", roomID).Str("subscriber", id).Msg("subscriber buffer full, dropping event")
		}
	}
}

// Subscribe registers a websocket connection for a room's feed. The caller
// must start the subscriber's pumps.
func (h *Hub) Subscribe(id, roomID string, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		ID:     id,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]*Subscriber)
		h.rooms[roomID] = room
	}
	room[id] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sub.RoomID]
	if !ok {
		return
	}
	delete(room, sub.ID)
	if len(room) == 0 {
		delete(h.rooms, sub.RoomID)
	}
}

// ReadPump drains the connection until it closes. Subscribers are
// receive-only; inbound frames are discarded, the read side exists to
// notice disconnects and answer pings.
func (s *Subscriber) ReadPump() {
	defer func() {
		s.hub.unsubscribe(s)
		s.Conn.Close()
		log.Debug().Str("room", s.RoomID).Str("subscriber", s.ID).Msg("subscriber disconnected")
	}()

	s.Conn.SetReadLimit(512)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("subscriber", s.ID).Msg("websocket read error")
			}
			return
		}
	}
}

func (s *Subscriber) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("subscriber", s.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
