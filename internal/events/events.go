package events

import (
	"time"

	"codeberg.org/mutker/treadlink/internal/protocol"
)

// Type identifies the kind of event emitted on the Bus.
type Type int

const (
	// Link events
	EventLinkStateChanged Type = iota + 1
	EventSampleDecoded

	// Session events
	EventSessionUpdated
	EventSegmentStarted
	EventSegmentEnded
	EventSessionSaved
	EventSessionRolledOver
)

// Event is the envelope delivered to Bus subscribers.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   interface{}
}

// LinkStateEvent is the payload for link state transitions.
type LinkStateEvent struct {
	State  string
	Reason string
}

// SampleEvent is the payload for decoded sample frames.
type SampleEvent struct {
	Frame protocol.Frame
}

// SessionEvent is the payload for session mutations and saves.
type SessionEvent struct {
	SessionID string
	Steps     uint64
}

// SegmentEvent is the payload for segment lifecycle events.
type SegmentEvent struct {
	SessionID string
	Start     time.Time
	End       time.Time
}
