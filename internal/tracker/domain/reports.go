package domain

import "time"

// BlockReport records the session being stalled on an external dependency.
// A session may accumulate many block reports over its lifetime, but at most
// one may be open (ResolvedAt == nil) at a time.
type BlockReport struct {
	ID         string
	SessionID  string
	Reason     string
	CreatedAt  time.Time
	ResolvedAt *time.Time // nil while the block is open
}

// Open reports whether the block is still unresolved.
func (b BlockReport) Open() bool {
	return b.ResolvedAt == nil
}

// PauseReport records a voluntary suspension of work on a session. It needs
// no explicit resolution: resuming the session implicitly closes it.
type PauseReport struct {
	ID        string
	SessionID string
	Reason    string
	CreatedAt time.Time
}

// Completion records the terminal outcome of a session. At most one exists
// per session.
type Completion struct {
	ID        string
	SessionID string
	// ExternalRef points at the delivered artifact, e.g. a pull-request URL.
	ExternalRef string
	Summary     string
	CreatedAt   time.Time
}
