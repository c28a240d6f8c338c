package pion

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamhive/signal-relay/internal/models"
)

type recordingSender struct {
	mu     sync.Mutex
	events []models.SignalEvent
}

func (s *recordingSender) Send(_ context.Context, event models.SignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestCloseUnregistersConnection(t *testing.T) {
	d := NewDialer("a", &recordingSender{}, nil)

	conn, err := d.newConn("b", nil)
	require.NoError(t, err)
	require.Same(t, conn, d.lookup("b"))

	require.NoError(t, conn.Close())
	assert.Nil(t, d.lookup("b"), "a closed connection must not keep receiving signals")
}

func TestStaleCloseKeepsReplacementRegistered(t *testing.T) {
	d := NewDialer("a", &recordingSender{}, nil)

	old, err := d.newConn("b", nil)
	require.NoError(t, err)
	replacement, err := d.newConn("b", nil)
	require.NoError(t, err)

	// Closing the superseded connection must not unregister the one that
	// replaced it.
	require.NoError(t, old.Close())
	assert.Same(t, replacement, d.lookup("b"))

	require.NoError(t, replacement.Close())
	assert.Nil(t, d.lookup("b"))
}
