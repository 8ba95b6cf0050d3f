package domain

import "time"

// ConnectionStatus is the lifecycle state of the event-stream transport.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

// ConnectionState is a read-only snapshot of the transport lifecycle.
// Status == StatusConnected implies ReconnectAttempts == 0, and Error is
// non-empty only when the status is error or disconnected.
type ConnectionState struct {
	Status               ConnectionStatus `json:"status"`
	ConnectionID         string           `json:"connectionId,omitempty"`
	ReconnectAttempts    int              `json:"reconnectAttempts"`
	MaxReconnectAttempts int              `json:"maxReconnectAttempts"`
	LastConnectedAt      time.Time        `json:"lastConnectedAt,omitzero"`
	LastDisconnectedAt   time.Time        `json:"lastDisconnectedAt,omitzero"`
	Latency              time.Duration    `json:"latencyMs,omitempty"`
	Error                string           `json:"error,omitempty"`
}

// ConnectionMetrics holds monotonically accumulating connection counters plus
// a rolling reliability percentage computed over a trailing time window.
type ConnectionMetrics struct {
	TotalConnections       int           `json:"totalConnections"`
	TotalDisconnections    int           `json:"totalDisconnections"`
	TotalReconnects        int           `json:"totalReconnects"`
	AverageLatency         time.Duration `json:"averageLatencyMs"`
	Uptime                 time.Duration `json:"uptimeMs"`
	Reliability            float64       `json:"reliability"`
	LastConnectionDuration time.Duration `json:"lastConnectionDurationMs"`
}
