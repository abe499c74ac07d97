package redisqueue

import (
	"fmt"
	"time"
)

// Mode is the delivery mode a stream resolved to. It is decided the first
// time the stream is touched and held for the process lifetime.
type Mode string

const (
	// ModeGroup is the preferred mode: an append-log stream with consumer
	// groups, acknowledgment, and stale-claim recovery.
	ModeGroup Mode = "group"

	// ModeList is the degraded backward-compatibility mode for legacy plain
	// list keys: append/blocking-pop only, no ack, no redelivery.
	ModeList Mode = "list"
)

// Message is one dequeued envelope. ID, Stream, Mode, and PulledAt are broker
// bookkeeping for the acknowledgment path; they are never persisted into job
// payloads.
type Message struct {
	ID       string
	Stream   string
	Mode     Mode
	Values   map[string]string
	PulledAt time.Time
}

// Get returns the named payload field or "".
func (m *Message) Get(key string) string {
	if m == nil {
		return ""
	}
	return m.Values[key]
}

// DeadLetter is one entry in the dead-letter stream: the original payload
// fields plus the reason and failure timestamp added when it was parked.
type DeadLetter struct {
	ID     string
	Values map[string]string
}

// Get returns the named field or "".
func (d DeadLetter) Get(key string) string {
	return d.Values[key]
}

// stringifyValues converts broker field maps to flat string payloads.
func stringifyValues(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch s := v.(type) {
		case string:
			out[k] = s
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
