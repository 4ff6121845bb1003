package domain

import (
	"encoding/json"
	"time"
)

// EventKind identifies the kind of a task session event.
type EventKind string

const (
	// EventKindStarted records the creation of a session.
	EventKindStarted EventKind = "started"
	// EventKindUpdated records a progress note with no status change.
	EventKindUpdated EventKind = "updated"
	// EventKindBlocked records the session stalling on an external dependency.
	EventKindBlocked EventKind = "blocked"
	// EventKindBlockResolved records resolution of a block report.
	EventKindBlockResolved EventKind = "block_resolved"
	// EventKindPaused records a voluntary suspension of work.
	EventKindPaused EventKind = "paused"
	// EventKindResumed records work resuming after a pause.
	EventKindResumed EventKind = "resumed"
	// EventKindCompleted records the terminal completion of a session.
	EventKindCompleted EventKind = "completed"
	// EventKindCancelled records the terminal cancellation of a session.
	EventKindCancelled EventKind = "cancelled"
	// EventKindThreadLinked records where the chat notification thread lives.
	EventKindThreadLinked EventKind = "thread_linked"
)

// IsTechnical reports whether the kind is internal bookkeeping hidden from
// default event listings.
func (k EventKind) IsTechnical() bool {
	return k == EventKindThreadLinked
}

// TechnicalEventKinds returns the kinds hidden from default event listings.
func TechnicalEventKinds() []EventKind {
	return []EventKind{EventKindThreadLinked}
}

// IsValid reports whether the kind is known.
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindStarted, EventKindUpdated, EventKindBlocked, EventKindBlockResolved,
		EventKindPaused, EventKindResumed, EventKindCompleted, EventKindCancelled,
		EventKindThreadLinked:
		return true
	default:
		return false
	}
}

// Event is one immutable entry in a session's append-only log.
type Event struct {
	ID        string
	SessionID string
	Kind      EventKind
	// Version is the strictly-increasing per-session sequence, starting at 0.
	// Assigned by storage on append.
	Version    int64
	Summary    string
	Reason     string
	RawContext json.RawMessage // optional structured context
	CreatedAt  time.Time
}
