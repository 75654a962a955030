package core

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrBackpressure = errors.New("backpressure")

// ErrSinkClosed is returned by a sink whose connection already went away.
var ErrSinkClosed = errors.New("sink closed")

const TopicHeartbeat = "heartbeat"

// Event is a server-push message. Data is encoded once per publish and shared
// by every sink.
type Event struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Time   time.Time       `json:"time"`
}

// Sink abstracts a push transport (SSE stream, WebSocket).
// Owned by the adapter; TrySend must never block.
type Sink interface {
	TrySend(Event) error
	Close()
}

// PublishResult reports delivery stats to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []string
}
