package api

import (
	"github.com/skobkin/threadtop-web/internal/sampler"
)

// SearchResponse lists the pids matching a process search, ascending.
type SearchResponse struct {
	PIDs []int `json:"pids"`
}

// ProcessInfo carries best-effort descriptive details of one process.
// Fields that could not be read are omitted.
type ProcessInfo struct {
	PID          int     `json:"pid"`
	Name         string  `json:"name,omitempty"`
	Cmdline      string  `json:"cmdline,omitempty"`
	PPID         *int    `json:"ppid,omitempty"`
	NumThreads   *int    `json:"num_threads,omitempty"`
	Username     string  `json:"username,omitempty"`
	CreateTimeMS *int64  `json:"create_time_ms,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type           string `json:"type"`
	IntervalMS     int    `json:"interval_ms"`
	TicksPerSecond int    `json:"ticks_per_second"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS, ticksPerSecond int) HelloMessage {
	return HelloMessage{
		Type:           "hello",
		IntervalMS:     intervalMS,
		TicksPerSecond: ticksPerSecond,
	}
}

// SnapshotMessage wraps a sampled process snapshot for transport.
type SnapshotMessage struct {
	Type string `json:"type"`
	sampler.Sample
}

// NewSnapshotMessage constructs a snapshot payload.
func NewSnapshotMessage(sample sampler.Sample) SnapshotMessage {
	return SnapshotMessage{
		Type:   "snapshot",
		Sample: sample,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// SubscribeMessage requests a snapshot stream for a process.
type SubscribeMessage struct {
	Type string `json:"type"`
	PID  int    `json:"pid"`
}

// SubscribedMessage acknowledges a subscription change. PID is zero after an
// unsubscribe.
type SubscribedMessage struct {
	Type string `json:"type"`
	PID  int    `json:"pid"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
