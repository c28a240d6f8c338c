package presence

import (
	"context"
	"sync"
	"time"

	"github.com/teamhive/signal-relay/internal/models"
)

type memoryRoom struct {
	participants map[string]*models.Participant
	order        []string // userIDs in first-join order
}

// MemoryStore is the single-instance Store: a map of rooms guarded by one
// mutex, with lazy staleness eviction on read and write.
type MemoryStore struct {
	mu         sync.Mutex
	rooms      map[string]*memoryRoom
	staleAfter time.Duration
	now        func() time.Time
}

func NewMemoryStore(staleAfter time.Duration) *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[string]*memoryRoom),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, roomID, userID, displayName, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = &memoryRoom{participants: make(map[string]*models.Participant)}
		s.rooms[roomID] = room
	}
	s.evictStale(roomID, room)

	if p, ok := room.participants[userID]; ok {
		if displayName != "" {
			p.DisplayName = displayName
		}
		if peerID != "" {
			p.PeerID = peerID
		}
		p.LastSeenAt = s.now()
		return nil
	}

	room.participants[userID] = &models.Participant{
		UserID:      userID,
		DisplayName: displayName,
		PeerID:      peerID,
		LastSeenAt:  s.now(),
	}
	room.order = append(room.order, userID)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	s.dropLocked(roomID, room, userID)
	return nil
}

func (s *MemoryStore) List(_ context.Context, roomID string) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	s.evictStale(roomID, room)

	out := make([]models.Participant, 0, len(room.order))
	for _, userID := range room.order {
		out = append(out, *room.participants[userID])
	}
	return out, nil
}

// dropLocked removes one participant and garbage-collects the room when it
// empties. Caller holds s.mu.
func (s *MemoryStore) dropLocked(roomID string, room *memoryRoom, userID string) {
	if _, ok := room.participants[userID]; !ok {
		return
	}
	delete(room.participants, userID)
	for i, id := range room.order {
		if id == userID {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}
	if len(room.participants) == 0 {
		delete(s.rooms, roomID)
	}
}

// evictStale drops participants not seen within staleAfter. Caller holds s.mu.
func (s *MemoryStore) evictStale(roomID string, room *memoryRoom) {
	if s.staleAfter <= 0 {
		return
	}
	cutoff := s.now().Add(-s.staleAfter)
	var stale []string
	for userID, p := range room.participants {
		if p.LastSeenAt.Before(cutoff) {
			stale = append(stale, userID)
		}
	}
	for _, userID := range stale {
		s.dropLocked(roomID, room, userID)
	}
}
