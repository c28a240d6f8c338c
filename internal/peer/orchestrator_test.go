package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamhive/signal-relay/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	video  VideoSource
}

func (c *fakeConn) ReplaceVideo(v VideoSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.video = v
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer counts dials network-wide so initiator-selection tests can
// assert on the total.
type fakeDialer struct {
	mu          sync.Mutex
	dials       []string // "self->remote"
	err         error
	transitions map[string]func(Status)
	selfID      string
}

func (d *fakeDialer) Dial(_ context.Context, remoteUserID, _ string, transition func(Status)) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, d.selfID+"->"+remoteUserID)
	if d.transitions == nil {
		d.transitions = make(map[string]func(Status))
	}
	d.transitions[remoteUserID] = transition
	if d.err != nil {
		return nil, d.err
	}
	return &fakeConn{}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

type fakeMedia struct {
	mu     sync.Mutex
	closed bool
}

type fakeVideo string

func (v fakeVideo) ID() string { return string(v) }

func (m *fakeMedia) Video() VideoSource { return fakeVideo("camera") }
func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func waitForDials(t *testing.T, d *fakeDialer, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return d.dialCount() == want },
		time.Second, 5*time.Millisecond)
}

func TestExactlyOneSideInitiates(t *testing.T) {
	// Both clients discover each other; only the lexicographically
	// greater identity ("b2") may dial.
	roster := []models.Participant{
		{UserID: "a1", PeerID: "peer-a"},
		{UserID: "b2", PeerID: "peer-b"},
	}

	dialerA := &fakeDialer{selfID: "a1"}
	dialerB := &fakeDialer{selfID: "b2"}
	a := New("a1", dialerA, nil, nil)
	b := New("b2", dialerB, nil, nil)

	ctx := context.Background()
	a.HandleRoster(ctx, roster)
	b.HandleRoster(ctx, roster)

	waitForDials(t, dialerB, 1)
	assert.Equal(t, []string{"b2->a1"}, dialerB.dials)
	assert.Zero(t, dialerA.dialCount(), "the lesser identity must wait for the inbound offer")
}

func TestDuplicateAnnouncementDialsOnce(t *testing.T) {
	dialer := &fakeDialer{selfID: "z"}
	o := New("z", dialer, nil, nil)
	ctx := context.Background()

	p := models.Participant{UserID: "a", PeerID: "peer-a"}
	o.HandleJoined(ctx, p)
	o.HandleJoined(ctx, p)
	o.HandleRoster(ctx, []models.Participant{p})

	waitForDials(t, dialer, 1)
	// Give any spurious dial a chance to land before asserting.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestRosterReconciliationTearsDownAbsentPeers(t *testing.T) {
	dialer := &fakeDialer{selfID: "z"}
	o := New("z", dialer, nil, nil)
	ctx := context.Background()

	o.HandleRoster(ctx, []models.Participant{{UserID: "a"}, {UserID: "b"}})
	waitForDials(t, dialer, 2)
	require.Eventually(t, func() bool { return len(o.Peers()) == 2 }, time.Second, 5*time.Millisecond)

	o.HandleRoster(ctx, []models.Participant{{UserID: "b"}})
	peers := o.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "b", peers[0].UserID)
}

func TestConnectionLifecycle(t *testing.T) {
	dialer := &fakeDialer{selfID: "z"}
	o := New("z", dialer, nil, nil)
	ctx := context.Background()

	o.HandleJoined(ctx, models.Participant{UserID: "a"})
	waitForDials(t, dialer, 1)

	peers := o.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, StatusConnecting, peers[0].Status)

	dialer.mu.Lock()
	transition := dialer.transitions["a"]
	dialer.mu.Unlock()
	transition(StatusConnected)

	peers = o.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, StatusConnected, peers[0].Status)
}

func TestFailureIsPerPeerAndReconnectable(t *testing.T) {
	dialer := &fakeDialer{selfID: "z"}
	o := New("z", dialer, nil, nil)
	ctx := context.Background()

	o.HandleRoster(ctx, []models.Participant{{UserID: "a"}, {UserID: "b"}})
	waitForDials(t, dialer, 2)

	dialer.mu.Lock()
	dialer.transitions["a"](StatusFailed)
	dialer.transitions["b"](StatusConnected)
	dialer.mu.Unlock()

	statuses := map[string]Status{}
	for _, p := range o.Peers() {
		statuses[p.UserID] = p.Status
	}
	assert.Equal(t, StatusFailed, statuses["a"])
	assert.Equal(t, StatusConnected, statuses["b"], "one peer failing must not affect the others")

	require.NoError(t, o.Reconnect(ctx, "a"))
	waitForDials(t, dialer, 3)

	assert.ErrorIs(t, o.Reconnect(ctx, "b"), ErrNotFailed)
	assert.ErrorIs(t, o.Reconnect(ctx, "nobody"), ErrUnknownPeer)
}

func TestIncomingConnectionLifecycle(t *testing.T) {
	// The answering side never dials, so its state changes arrive through
	// UpdateStatus instead of a Dial transition callback.
	dialer := &fakeDialer{selfID: "a"}
	o := New("a", dialer, nil, nil)

	conn := &fakeConn{}
	require.NoError(t, o.AcceptIncoming("b", "peer-b", conn))

	o.UpdateStatus("b", StatusConnected)
	peers := o.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, StatusConnected, peers[0].Status)

	o.UpdateStatus("b", StatusFailed)
	assert.True(t, conn.isClosed(), "a failed connection is torn down")
	peers = o.Peers()
	require.Len(t, peers, 1, "the entry survives for a manual reconnect")
	assert.Equal(t, StatusFailed, peers[0].Status)

	require.NoError(t, o.Reconnect(context.Background(), "b"))
	waitForDials(t, dialer, 1)
	assert.Equal(t, []string{"a->b"}, dialer.dials)
}

// failBeforeReturnDialer reports failure through the transition callback
// before Dial itself returns a connection, the way a transport can when
// ICE fails immediately.
type failBeforeReturnDialer struct {
	conn *fakeConn
}

func (d *failBeforeReturnDialer) Dial(_ context.Context, _, _ string, transition func(Status)) (Connection, error) {
	transition(StatusFailed)
	return d.conn, nil
}

func TestFailureDuringDialDoesNotLeakConnection(t *testing.T) {
	conn := &fakeConn{}
	o := New("z", &failBeforeReturnDialer{conn: conn}, nil, nil)

	o.HandleJoined(context.Background(), models.Participant{UserID: "a"})

	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond,
		"a connection returned after the failure report must be closed, not kept")
	peers := o.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, StatusFailed, peers[0].Status)
}

func TestHandleLeftClosesConnection(t *testing.T) {
	dialer := &fakeDialer{selfID: "z"}
	o := New("z", dialer, nil, nil)
	ctx := context.Background()

	o.HandleJoined(ctx, models.Participant{UserID: "a"})
	waitForDials(t, dialer, 1)
	require.Eventually(t, func() bool {
		for _, p := range o.Peers() {
			if p.UserID == "a" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	o.HandleLeft("a")
	assert.Empty(t, o.Peers())
}

func TestVideoSwapReachesAllConnections(t *testing.T) {
	conns := map[string]*fakeConn{}
	o := New("z", nil, nil, nil)
	for _, id := range []string{"a", "b"} {
		conn := &fakeConn{}
		conns[id] = conn
		require.NoError(t, o.AcceptIncoming(id, "peer-"+id, conn))
	}

	o.SetVideoSource(fakeVideo("screen"))

	for id, conn := range conns {
		conn.mu.Lock()
		assert.Equal(t, fakeVideo("screen"), conn.video, "connection %s missed the swap", id)
		conn.mu.Unlock()
	}
}

func TestCloseSendsLeaveAndAlwaysCleansUp(t *testing.T) {
	dialer := &fakeDialer{selfID: "z"}
	media := &fakeMedia{}
	leaveErr := errors.New("relay unreachable")
	leaveCalls := 0
	o := New("z", dialer, media, func(context.Context) error {
		leaveCalls++
		return leaveErr
	})
	ctx := context.Background()

	conn := &fakeConn{}
	require.NoError(t, o.AcceptIncoming("a", "peer-a", conn))

	err := o.Close(ctx)
	require.Error(t, err, "leave failure is reported")
	assert.Equal(t, 1, leaveCalls)
	assert.True(t, conn.isClosed(), "cleanup must run even when the leave signal fails")
	assert.True(t, media.isClosed())

	// Second close is a no-op, no second leave signal.
	require.NoError(t, o.Close(ctx))
	assert.Equal(t, 1, leaveCalls)
}

func TestClosedSessionRejectsNewPeers(t *testing.T) {
	o := New("z", &fakeDialer{selfID: "z"}, nil, nil)
	require.NoError(t, o.Close(context.Background()))

	conn := &fakeConn{}
	assert.ErrorIs(t, o.AcceptIncoming("a", "p", conn), ErrClosed)
	assert.True(t, conn.isClosed())

	o.HandleJoined(context.Background(), models.Participant{UserID: "a"})
	assert.Empty(t, o.Peers())
}
