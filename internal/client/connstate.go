// Package client implements the overlay-side delivery stack: the event-stream
// transport, the connection state manager, and the playback queue that
// serializes notification presentation.
package client

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/errors"
)

const (
	// intervalRingSize bounds the connection interval history used to
	// compute reliability.
	intervalRingSize = 100

	// reliabilityWindow is the trailing window reliability is computed over.
	reliabilityWindow = 24 * time.Hour
)

// BackoffConfig controls the reconnection delay schedule.
type BackoffConfig struct {
	Base        time.Duration
	Factor      float64
	Max         time.Duration
	MaxAttempts int
	Jitter      float64 // symmetric jitter fraction, 0.25 means ±25%
}

// DefaultBackoffConfig returns the standard reconnection schedule.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        time.Second,
		Factor:      1.5,
		Max:         30 * time.Second,
		MaxAttempts: 10,
		Jitter:      0.25,
	}
}

// connInterval is one connected period. DisconnectedAt stays zero while the
// connection is live.
type connInterval struct {
	connectedAt    time.Time
	disconnectedAt time.Time
}

// StateObserver receives read-only state snapshots on every transition.
type StateObserver func(domain.ConnectionState)

// StateManager owns the connection lifecycle state and health metrics,
// decoupled from transport mechanics so UI, metrics, and reconnection policy
// all observe the same source of truth. Single-writer: the transport mutates
// it, observers receive snapshots.
type StateManager struct {
	mu        sync.Mutex
	state     domain.ConnectionState
	backoff   BackoffConfig
	intervals []connInterval

	totalConnections    int
	totalDisconnections int
	totalReconnects     int
	latencySum          time.Duration
	latencySamples      int
	lastConnDuration    time.Duration

	observers []StateObserver
	logger    *slog.Logger

	now func() time.Time
}

// NewStateManager creates a state manager with the given backoff schedule.
func NewStateManager(backoff BackoffConfig, logger *slog.Logger) *StateManager {
	return &StateManager{
		state: domain.ConnectionState{
			Status:               domain.StatusDisconnected,
			MaxReconnectAttempts: backoff.MaxAttempts,
		},
		backoff: backoff,
		logger:  logger,
		now:     time.Now,
	}
}

// Subscribe registers an observer notified on every state transition. A
// panicking observer does not prevent the others from running.
func (m *StateManager) Subscribe(obs StateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// StartConnection records the beginning of a connection attempt.
func (m *StateManager) StartConnection(connectionID string) {
	m.mu.Lock()
	m.state.Status = domain.StatusConnecting
	m.state.ConnectionID = connectionID
	m.notifyLocked()
	m.mu.Unlock()
}

// OnConnected records a successful connection. It always resets the reconnect
// attempt counter and clears the error.
func (m *StateManager) OnConnected() {
	m.mu.Lock()
	now := m.now()

	if m.state.Status == domain.StatusReconnecting || m.state.ReconnectAttempts > 0 {
		m.totalReconnects++
	}

	m.state.Status = domain.StatusConnected
	m.state.ReconnectAttempts = 0
	m.state.Error = ""
	m.state.LastConnectedAt = now
	m.totalConnections++

	m.intervals = append(m.intervals, connInterval{connectedAt: now})
	if len(m.intervals) > intervalRingSize {
		m.intervals = m.intervals[len(m.intervals)-intervalRingSize:]
	}

	m.notifyLocked()
	m.mu.Unlock()
}

// OnDisconnected records a connection loss. A nil err means a clean close.
func (m *StateManager) OnDisconnected(err error) {
	m.mu.Lock()
	now := m.now()

	m.state.Status = domain.StatusDisconnected
	m.state.LastDisconnectedAt = now
	if err != nil {
		m.state.Error = err.Error()
	} else {
		m.state.Error = ""
	}
	m.totalDisconnections++

	if n := len(m.intervals); n > 0 && m.intervals[n-1].disconnectedAt.IsZero() {
		m.intervals[n-1].disconnectedAt = now
		m.lastConnDuration = now.Sub(m.intervals[n-1].connectedAt)
	}

	m.notifyLocked()
	m.mu.Unlock()
}

// StartReconnect advances the reconnect attempt counter and returns the delay
// to wait before the next connection attempt. It is a no-op when a connection
// is already live or in progress. Once the attempt cap is exceeded the state
// becomes terminal and errors.ErrReconnectExhausted is returned; only
// ForceReconnect leaves that state.
func (m *StateManager) StartReconnect() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.Status {
	case domain.StatusConnecting, domain.StatusConnected:
		m.logger.Warn("reconnect requested while connection is live",
			"status", m.state.Status,
		)
		return 0, errors.ErrAlreadyConnecting
	}

	if m.state.ReconnectAttempts >= m.backoff.MaxAttempts {
		m.state.Status = domain.StatusError
		m.state.Error = errors.ErrReconnectExhausted.Error()
		m.notifyLocked()
		return 0, errors.ErrReconnectExhausted
	}

	m.state.ReconnectAttempts++
	m.state.Status = domain.StatusReconnecting
	delay := m.delayFor(m.state.ReconnectAttempts)
	m.notifyLocked()
	return delay, nil
}

// CancelReconnect abandons a pending reconnect without resetting the attempt
// counter.
func (m *StateManager) CancelReconnect() {
	m.mu.Lock()
	if m.state.Status == domain.StatusReconnecting {
		m.state.Status = domain.StatusDisconnected
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// ForceReconnect resets the attempt counter and error so a manual reconnect
// can proceed, including out of the terminal error state.
func (m *StateManager) ForceReconnect() {
	m.mu.Lock()
	m.state.ReconnectAttempts = 0
	m.state.Error = ""
	m.state.Status = domain.StatusDisconnected
	m.notifyLocked()
	m.mu.Unlock()
}

// UpdateLatency feeds a measured round-trip time into the latency metrics.
func (m *StateManager) UpdateLatency(rtt time.Duration) {
	m.mu.Lock()
	m.state.Latency = rtt
	m.latencySum += rtt
	m.latencySamples++
	m.mu.Unlock()
}

// State returns a snapshot of the current connection state.
func (m *StateManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Metrics computes the accumulated counters and the rolling reliability
// percentage over the trailing window.
func (m *StateManager) Metrics() domain.ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	windowStart := now.Add(-reliabilityWindow)

	var uptime, inWindow time.Duration
	for _, iv := range m.intervals {
		end := iv.disconnectedAt
		if end.IsZero() {
			end = now
		}
		uptime += end.Sub(iv.connectedAt)

		start := iv.connectedAt
		if start.Before(windowStart) {
			start = windowStart
		}
		if end.After(start) {
			inWindow += end.Sub(start)
		}
	}

	lastDuration := m.lastConnDuration
	if n := len(m.intervals); n > 0 && m.intervals[n-1].disconnectedAt.IsZero() {
		lastDuration = now.Sub(m.intervals[n-1].connectedAt)
	}

	var avgLatency time.Duration
	if m.latencySamples > 0 {
		avgLatency = m.latencySum / time.Duration(m.latencySamples)
	}

	return domain.ConnectionMetrics{
		TotalConnections:       m.totalConnections,
		TotalDisconnections:    m.totalDisconnections,
		TotalReconnects:        m.totalReconnects,
		AverageLatency:         avgLatency,
		Uptime:                 uptime,
		Reliability:            float64(inWindow) / float64(reliabilityWindow) * 100,
		LastConnectionDuration: lastDuration,
	}
}

// delayFor computes min(max, base*factor^(attempt-1)) with symmetric jitter.
func (m *StateManager) delayFor(attempt int) time.Duration {
	delay := float64(m.backoff.Base)
	for i := 1; i < attempt; i++ {
		delay *= m.backoff.Factor
		if delay >= float64(m.backoff.Max) {
			break
		}
	}
	if delay > float64(m.backoff.Max) {
		delay = float64(m.backoff.Max)
	}
	if m.backoff.Jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*m.backoff.Jitter
	}
	return time.Duration(delay)
}

// notifyLocked snapshots the state and invokes observers. Callers hold the
// mutex; observers run inline, so they must not call back into the manager.
func (m *StateManager) notifyLocked() {
	snapshot := m.state
	for _, obs := range m.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("state observer panicked", "panic", r)
				}
			}()
			obs(snapshot)
		}()
	}
}
