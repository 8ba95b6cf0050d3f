package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/errors"
)

// Conn is the subset of a WebSocket connection the transport needs. Tests
// inject fakes; production uses a gorilla connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// GorillaDialer returns the production dialer.
func GorillaDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// TransportConfig holds event-stream transport configuration.
type TransportConfig struct {
	URL            string
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	Topics         []string
}

// DefaultTransportConfig returns the standard transport timings.
func DefaultTransportConfig(url string) TransportConfig {
	return TransportConfig{
		URL:            url,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		Topics:         []string{domain.TopicFollowers},
	}
}

// Transport maintains the bidirectional channel to the notifier server. It
// reconnects with backoff on unplanned closes, sends periodic pings whose
// pong round-trips feed the latency metric, and dispatches incoming frames to
// typed handlers. It never emits the same underlying frame twice, but may
// redeliver an already-processed event after a reconnect; final dedup is the
// playback queue's job.
type Transport struct {
	cfg    TransportConfig
	dialer Dialer
	state  *StateManager
	logger *slog.Logger

	mu             sync.Mutex
	conn           Conn
	pingStop       chan struct{}
	reconnectTimer *time.Timer
	closed         bool
	lastPingAt     time.Time

	wmu sync.Mutex // serializes frame writes

	followerHandlers []func(domain.FollowerEvent)
	settingsHandlers []func(json.RawMessage)

	errs chan *errors.TransportError
}

// NewTransport creates a transport. A nil dialer selects the gorilla dialer.
func NewTransport(cfg TransportConfig, dialer Dialer, state *StateManager, logger *slog.Logger) *Transport {
	if dialer == nil {
		dialer = GorillaDialer(cfg.ConnectTimeout)
	}
	return &Transport{
		cfg:    cfg,
		dialer: dialer,
		state:  state,
		logger: logger,
		errs:   make(chan *errors.TransportError, 16),
	}
}

// OnFollower registers a handler for incoming follower events. Register
// handlers before Connect.
func (t *Transport) OnFollower(fn func(domain.FollowerEvent)) {
	t.followerHandlers = append(t.followerHandlers, fn)
}

// OnSettings registers a handler for settings updates.
func (t *Transport) OnSettings(fn func(json.RawMessage)) {
	t.settingsHandlers = append(t.settingsHandlers, fn)
}

// Errors returns the structured error channel. Errors are dropped, not
// blocked on, when no one is draining it.
func (t *Transport) Errors() <-chan *errors.TransportError {
	return t.errs
}

// Connect opens the connection. A failed attempt schedules a reconnect and
// returns the dial error.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrTransportClosed
	}
	t.mu.Unlock()
	return t.dial(ctx)
}

// Disconnect closes the connection with a normal closure code so the server
// does not see an error, and stops any pending reconnect. The transport
// cannot be reused afterwards.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	t.mu.Unlock()

	if conn != nil {
		t.wmu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.wmu.Unlock()
		_ = conn.Close()
		t.state.OnDisconnected(nil)
	}
}

// Send writes a frame to the server.
func (t *Transport) Send(msg domain.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.ErrTransportNotConnected
	}
	return t.write(conn, msg)
}

// ForceReconnect cancels any pending reconnect, resets the attempt counter,
// and dials immediately. This is the only way out of the terminal error state
// after the attempt cap is exhausted.
func (t *Transport) ForceReconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrTransportClosed
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.state.ForceReconnect()
	return t.dial(ctx)
}

func (t *Transport) dial(ctx context.Context) error {
	t.state.StartConnection(uuid.NewString())

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	conn, err := t.dialer(dialCtx, t.cfg.URL)
	cancel()
	if err != nil {
		kind := errors.TransportConnection
		if stderrors.Is(err, context.DeadlineExceeded) {
			kind = errors.TransportTimeout
		}
		t.report(errors.NewTransportError(kind, err))
		t.state.OnDisconnected(err)
		t.scheduleReconnect(ctx)
		return err
	}

	stop := make(chan struct{})
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return errors.ErrTransportClosed
	}
	t.conn = conn
	t.pingStop = stop
	t.mu.Unlock()

	t.state.OnConnected()

	if err := t.write(conn, domain.SubscribeMessage(t.cfg.Topics...)); err != nil {
		t.logger.Warn("failed to send subscription", "error", err)
	}

	go t.readLoop(ctx, conn)
	go t.pingLoop(conn, stop)
	return nil
}

// readLoop reads frames until the connection dies. Silence beyond the ping
// interval plus the connect timeout indicates a half-open connection and
// fails the read via the deadline.
func (t *Transport) readLoop(ctx context.Context, conn Conn) {
	idle := t.cfg.PingInterval + t.cfg.ConnectTimeout
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(ctx, conn, err)
			return
		}
		t.dispatch(data)
	}
}

func (t *Transport) handleReadError(ctx context.Context, conn Conn, err error) {
	// A connection that was already detached (Disconnect or ForceReconnect)
	// has had its lifecycle settled elsewhere.
	if !t.detach(conn) {
		return
	}
	_ = conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.logger.Info("connection closed normally")
		t.state.OnDisconnected(nil)
		return
	}

	terr := classifyReadError(err)
	t.report(terr)
	t.state.OnDisconnected(err)
	t.scheduleReconnect(ctx)
}

// detach clears the connection if it is still the live one, stopping its ping
// loop. Returns false when another path already took ownership.
func (t *Transport) detach(conn Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != conn {
		return false
	}
	t.conn = nil
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	return true
}

func (t *Transport) dispatch(data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.report(errors.NewTransportError(errors.TransportMessage, err))
		return
	}

	switch msg.Type {
	case domain.MessagePong:
		t.mu.Lock()
		sent := t.lastPingAt
		t.mu.Unlock()
		if !sent.IsZero() {
			t.state.UpdateLatency(time.Since(sent))
		}
	case domain.MessageNewFollower:
		if msg.Follower == nil {
			t.report(errors.NewTransportError(errors.TransportMessage,
				fmt.Errorf("new_follower frame without follower payload")))
			return
		}
		for _, fn := range t.followerHandlers {
			t.invoke(func() { fn(*msg.Follower) })
		}
	case domain.MessageSettingsUpdated:
		for _, fn := range t.settingsHandlers {
			settings := msg.Settings
			t.invoke(func() { fn(settings) })
		}
	case domain.MessageError:
		t.report(&errors.TransportError{
			Kind:     errors.TransportServer,
			Err:      fmt.Errorf("server error: %s", msg.Message),
			Reason:   msg.Message,
			Severity: errors.SeverityMedium,
		})
	default:
		t.report(errors.NewTransportError(errors.TransportMessage,
			fmt.Errorf("unknown message type %q", msg.Type)))
	}
}

// invoke runs a handler with panic isolation so one failing handler does not
// prevent the others from running.
func (t *Transport) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("message handler panicked", "panic", r)
		}
	}()
	fn()
}

func (t *Transport) pingLoop(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.lastPingAt = time.Now()
			t.mu.Unlock()
			if err := t.write(conn, domain.Message{Type: domain.MessagePing}); err != nil {
				t.logger.Debug("ping write failed", "error", err)
				return
			}
		}
	}
}

func (t *Transport) scheduleReconnect(ctx context.Context) {
	delay, err := t.state.StartReconnect()
	if err != nil {
		if stderrors.Is(err, errors.ErrReconnectExhausted) {
			t.logger.Error("reconnect attempts exhausted, manual reconnect required")
			t.report(&errors.TransportError{
				Kind:     errors.TransportConnection,
				Err:      err,
				Severity: errors.SeverityCritical,
			})
		}
		return
	}

	t.logger.Info("scheduling reconnect",
		"attempt", t.state.State().ReconnectAttempts,
		"delay", delay,
	)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		_ = t.dial(ctx)
	})
	t.mu.Unlock()
}

func (t *Transport) write(conn Conn, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) report(err *errors.TransportError) {
	select {
	case t.errs <- err:
	default:
		t.logger.Debug("error channel full, dropping", "error", err)
	}
}

func classifyReadError(err error) *errors.TransportError {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTransportError(errors.TransportTimeout, err)
	}
	var closeErr *websocket.CloseError
	if stderrors.As(err, &closeErr) {
		return &errors.TransportError{
			Kind:     errors.TransportConnection,
			Err:      err,
			Code:     closeErr.Code,
			Reason:   closeErr.Text,
			Severity: errors.SeverityMedium,
		}
	}
	return errors.NewTransportError(errors.TransportConnection, err)
}
