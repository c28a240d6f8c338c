// Package client is the Go client for the relay's HTTP surface: signal
// submission plus the polling fallback with event de-duplication. It backs
// the peer orchestrator when no push transport is available.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/internal/models"
)

// EventHandler receives every event the poller has not seen before, in
// buffer order.
type EventHandler func(ctx context.Context, event models.SignalEvent)

type Client struct {
	baseURL string
	roomID  string
	token   string
	http    *http.Client

	mu    sync.Mutex
	since int64
	seen  map[string]int64 // event id -> timestamp
}

func New(baseURL, roomID, token string) *Client {
	return &Client{
		baseURL: baseURL,
		roomID:  roomID,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		seen:    make(map[string]int64),
	}
}

// Send posts one signal to the relay.
func (c *Client) Send(ctx context.Context, event models.SignalEvent) error {
	body, err := json.Marshal(models.InboundSignal{
		Type:     string(event.Type),
		UserID:   event.UserID,
		UserName: event.UserName,
		PeerID:   event.PeerID,
		Payload:  event.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/rooms/%s/signal", c.baseURL, c.roomID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("signal rejected: %s", resp.Status)
	}
	return nil
}

// PollOnce fetches events newer than the client's watermark and dispatches
// unseen ones. The server advances the watermark; de-duplication by event
// id guards against the strict-since window replaying an edge event.
func (c *Client) PollOnce(ctx context.Context, handle EventHandler) error {
	c.mu.Lock()
	since := c.since
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/rooms/%s/events?since=%d", c.baseURL, c.roomID, since), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll failed: %s", resp.Status)
	}

	var poll models.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return err
	}

	fresh := c.dedupe(poll.Messages, poll.Timestamp)

	for _, event := range fresh {
		handle(ctx, event)
	}
	return nil
}

// dedupe filters already-seen events and advances the watermark. Ids
// strictly below the watermark cannot be served again, even by a server
// comparing inclusively at the edge, so they are pruned to keep the set
// bounded over long sessions; edge ids (timestamp equal to the watermark)
// stay one more window.
func (c *Client) dedupe(events []models.SignalEvent, watermark int64) []models.SignalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := events[:0]
	for _, e := range events {
		if _, ok := c.seen[e.ID]; ok {
			continue
		}
		c.seen[e.ID] = e.Timestamp
		fresh = append(fresh, e)
	}
	c.since = watermark
	for id, ts := range c.seen {
		if ts < watermark {
			delete(c.seen, id)
		}
	}
	return fresh
}

// Run polls on the given interval until ctx is canceled. Poll errors are
// logged and the loop keeps going; a dead relay shows up as staleness, the
// same failure mode push clients have.
func (c *Client) Run(ctx context.Context, interval time.Duration, handle EventHandler) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.PollOnce(ctx, handle); err != nil {
				log.Warn().Err(err).Str("room", c.roomID).Msg("poll failed")
			}
		}
	}
}
