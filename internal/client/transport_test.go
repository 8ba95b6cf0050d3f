package client

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/errors"
)

// fakeConn is a scriptable Conn: tests push frames in and read frames out.
type fakeConn struct {
	mu       sync.Mutex
	incoming chan []byte
	written  [][]byte
	done     chan struct{}
	once     sync.Once
	readErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return websocket.TextMessage, data, nil
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
		}
		return 0, nil, err
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// closeWith fails the next read with the given error.
func (c *fakeConn) closeWith(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) deliver(t *testing.T, msg domain.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	c.incoming <- data
}

func (c *fakeConn) frames() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, 0, len(c.written))
	for _, raw := range c.written {
		var msg domain.Message
		if json.Unmarshal(raw, &msg) == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (c *fakeConn) waitFrame(t *testing.T, typ domain.MessageType) domain.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range c.frames() {
			if f.Type == typ {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q frame written", typ)
	return domain.Message{}
}

// fakeDialer hands out fakeConns, optionally failing the first failures dials.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, net.ErrClosed
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func waitDials(t *testing.T, d *fakeDialer, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if d.dialCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d dials, got %d", n, d.dialCount())
}

func waitStatus(t *testing.T, m *StateManager, want domain.ConnectionStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never became %q (last %q)", want, m.State().Status)
}

func fastBackoff(maxAttempts int) BackoffConfig {
	return BackoffConfig{
		Base:        time.Millisecond,
		Factor:      1.5,
		Max:         10 * time.Millisecond,
		MaxAttempts: maxAttempts,
		Jitter:      0,
	}
}

func newTestTransport(t *testing.T, dialer *fakeDialer, maxAttempts int) (*Transport, *StateManager) {
	t.Helper()
	state := NewStateManager(fastBackoff(maxAttempts), testLogger())
	cfg := TransportConfig{
		URL:            "ws://127.0.0.1:8090/ws",
		ConnectTimeout: time.Second,
		PingInterval:   time.Hour, // keep the ping loop quiet unless a test wants it
		Topics:         []string{domain.TopicFollowers},
	}
	tr := NewTransport(cfg, dialer.dial, state, testLogger())
	return tr, state
}

func TestTransport_ConnectSubscribes(t *testing.T) {
	dialer := &fakeDialer{}
	tr, state := newTestTransport(t, dialer, 10)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, domain.StatusConnected, state.State().Status)

	sub := dialer.conn(0).waitFrame(t, domain.MessageSubscribe)
	assert.Equal(t, []string{domain.TopicFollowers}, sub.Topics)
}

func TestTransport_DispatchesFollowerEvents(t *testing.T) {
	dialer := &fakeDialer{}
	tr, _ := newTestTransport(t, dialer, 10)
	defer tr.Disconnect()

	received := make(chan domain.FollowerEvent, 4)
	tr.OnFollower(func(e domain.FollowerEvent) { received <- e })

	require.NoError(t, tr.Connect(context.Background()))

	follower := domain.FollowerEvent{ID: "u1", DisplayName: "viewer", Source: domain.SourceReal}
	dialer.conn(0).deliver(t, domain.NewFollowerMessage(follower))

	select {
	case got := <-received:
		assert.Equal(t, "u1", got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("follower event never dispatched")
	}
}

func TestTransport_MalformedFrameKeptAlive(t *testing.T) {
	dialer := &fakeDialer{}
	tr, state := newTestTransport(t, dialer, 10)
	defer tr.Disconnect()

	received := make(chan domain.FollowerEvent, 4)
	tr.OnFollower(func(e domain.FollowerEvent) { received <- e })

	require.NoError(t, tr.Connect(context.Background()))

	dialer.conn(0).incoming <- []byte("{not json")

	select {
	case terr := <-tr.Errors():
		assert.Equal(t, errors.TransportMessage, terr.Kind)
		assert.Equal(t, errors.SeverityLow, terr.Severity)
	case <-time.After(3 * time.Second):
		t.Fatal("no transport error reported")
	}

	// The connection survives and keeps delivering.
	dialer.conn(0).deliver(t, domain.NewFollowerMessage(domain.FollowerEvent{ID: "u2"}))
	select {
	case got := <-received:
		assert.Equal(t, "u2", got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("event after malformed frame never dispatched")
	}
	assert.Equal(t, domain.StatusConnected, state.State().Status)
}

func TestTransport_PanickingHandlerIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	tr, _ := newTestTransport(t, dialer, 10)
	defer tr.Disconnect()

	received := make(chan domain.FollowerEvent, 4)
	tr.OnFollower(func(domain.FollowerEvent) { panic("handler blew up") })
	tr.OnFollower(func(e domain.FollowerEvent) { received <- e })

	require.NoError(t, tr.Connect(context.Background()))
	dialer.conn(0).deliver(t, domain.NewFollowerMessage(domain.FollowerEvent{ID: "u1"}))

	select {
	case got := <-received:
		assert.Equal(t, "u1", got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("second handler never ran")
	}
}

func TestTransport_ReconnectsOnAbnormalClose(t *testing.T) {
	dialer := &fakeDialer{}
	tr, state := newTestTransport(t, dialer, 10)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background()))
	waitDials(t, dialer, 1)

	dialer.conn(0).closeWith(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})

	waitDials(t, dialer, 2)
	waitStatus(t, state, domain.StatusConnected)
	assert.Equal(t, 0, state.State().ReconnectAttempts)
}

func TestTransport_NormalClosureDoesNotReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	tr, state := newTestTransport(t, dialer, 10)

	require.NoError(t, tr.Connect(context.Background()))
	dialer.conn(0).closeWith(&websocket.CloseError{Code: websocket.CloseNormalClosure})

	waitStatus(t, state, domain.StatusDisconnected)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Empty(t, state.State().Error)
}

func TestTransport_ExhaustedAttemptsAreTerminal(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	tr, state := newTestTransport(t, dialer, 3)
	defer tr.Disconnect()

	err := tr.Connect(context.Background())
	require.Error(t, err)

	waitStatus(t, state, domain.StatusError)
	// Initial dial plus the three allowed reconnect attempts.
	assert.Equal(t, 4, dialer.dialCount())

	var critical bool
	deadline := time.After(3 * time.Second)
	for !critical {
		select {
		case terr := <-tr.Errors():
			if terr.Severity == errors.SeverityCritical {
				critical = true
			}
		case <-deadline:
			t.Fatal("no critical error reported")
		}
	}
}

func TestTransport_ForceReconnectAfterExhaustion(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	tr, state := newTestTransport(t, dialer, 2)
	defer tr.Disconnect()

	_ = tr.Connect(context.Background())
	waitStatus(t, state, domain.StatusError)

	// Let subsequent dials succeed.
	dialer.mu.Lock()
	dialer.failures = 0
	dialer.mu.Unlock()

	require.NoError(t, tr.ForceReconnect(context.Background()))
	assert.Equal(t, domain.StatusConnected, state.State().Status)
	assert.Equal(t, 0, state.State().ReconnectAttempts)
}

func TestTransport_SendRequiresConnection(t *testing.T) {
	dialer := &fakeDialer{}
	tr, _ := newTestTransport(t, dialer, 10)

	err := tr.Send(domain.Message{Type: domain.MessagePing})
	assert.ErrorIs(t, err, errors.ErrTransportNotConnected)
}

func TestTransport_DisconnectSendsNormalClosure(t *testing.T) {
	dialer := &fakeDialer{}
	tr, state := newTestTransport(t, dialer, 10)

	require.NoError(t, tr.Connect(context.Background()))
	tr.Disconnect()

	waitStatus(t, state, domain.StatusDisconnected)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())

	err := tr.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrTransportClosed)
}

func TestTransport_PongFeedsLatency(t *testing.T) {
	dialer := &fakeDialer{}
	tr, state := newTestTransport(t, dialer, 10)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background()))

	tr.mu.Lock()
	tr.lastPingAt = time.Now().Add(-40 * time.Millisecond)
	tr.mu.Unlock()

	dialer.conn(0).deliver(t, domain.Message{Type: domain.MessagePong})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if state.State().Latency >= 40*time.Millisecond {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("latency never updated, got %v", state.State().Latency)
}
