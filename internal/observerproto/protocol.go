// Package observerproto defines the status feed watchers subscribe to.
package observerproto

import "turtlecraft.ai/internal/nav/navigator"

// Version is the observer protocol version (separate from the turtle link protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeStatus    = "STATUS"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the interval.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	IntervalMs      int    `json:"interval_ms"`
}

// Server -> Client. Sent every interval and for GET /status.
type StatusMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Seq             uint64          `json:"seq"`
	Stats           navigator.Stats `json:"stats"`
}

const (
	DefaultIntervalMs = 1000
	MinIntervalMs     = 100
	MaxIntervalMs     = 60000
)

func (m *SubscribeMsg) Normalize() {
	if m.IntervalMs <= 0 {
		m.IntervalMs = DefaultIntervalMs
	}
	if m.IntervalMs < MinIntervalMs {
		m.IntervalMs = MinIntervalMs
	}
	if m.IntervalMs > MaxIntervalMs {
		m.IntervalMs = MaxIntervalMs
	}
}
