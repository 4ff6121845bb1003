// Package storage defines the persistence contracts for the task session
// lifecycle engine. Implementations must execute each transition as one
// atomic unit of work: status re-read, guard check, session update, event
// append, and child-record writes either all commit or none do.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskmirror/taskmirror/internal/tracker/domain"
)

var (
	// ErrNotFound indicates a requested record is missing or out of scope.
	ErrNotFound = errors.New("record not found")
	// ErrBlockNotFound indicates a block report is missing or already resolved.
	ErrBlockNotFound = errors.New("block report not found or already resolved")
	// ErrOpenBlockExists indicates a session already has an open block report.
	ErrOpenBlockExists = errors.New("an open block report already exists")
	// ErrConflict indicates a write conflicted with a uniqueness constraint.
	ErrConflict = errors.New("storage conflict")
)

// InvalidStatusError reports a transition rejected because the stored status
// was not in the request's allowed-from set. The loser of a concurrent
// transition race receives this error, never a corrupted write.
type InvalidStatusError struct {
	Current domain.Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("transition not allowed from status %q", e.Current)
}

// Scope restricts reads and writes to one workspace, and optionally to one
// user within it. A session outside the scope behaves as if it did not exist.
type Scope struct {
	WorkspaceID string
	UserID      string // empty means any user within the workspace
}

// TransitionRequest describes one guarded mutation of a session.
type TransitionRequest struct {
	Scope      Scope
	SessionID  string
	Transition domain.Transition

	// AllowedFrom lists the statuses the stored session must currently be in.
	AllowedFrom []domain.Status
	// NewStatus replaces the session status; StatusUnspecified keeps it.
	NewStatus domain.Status
	// ConditionalOnNoOpenBlocks applies NewStatus only when no block reports
	// remain open after the request's block resolution.
	ConditionalOnNoOpenBlocks bool

	// Event is appended to the session log; the store assigns Version.
	Event domain.Event

	SetPausedAt   *time.Time
	ClearPausedAt bool
	SetResumedAt  *time.Time

	OpenBlock      *domain.BlockReport
	ResolveBlockID string
	OpenPause      *domain.PauseReport
	Completion     *domain.Completion
}

// TransitionResult reports the committed outcome of a transition.
type TransitionResult struct {
	Session       domain.TaskSession
	Event         domain.Event
	OpenBlocks    []domain.BlockReport // blocks still open after the transition
	ResolvedBlock *domain.BlockReport
}

// ListSessionsRequest configures read-side session listing.
type ListSessionsRequest struct {
	Scope  Scope
	Status domain.Status // StatusUnspecified disables the filter
	Limit  int
}

// ListEventsRequest configures read-side event listing.
type ListEventsRequest struct {
	Scope            Scope
	SessionID        string
	Limit            int
	IncludeTechnical bool
}

// Store persists task sessions and their append-only event logs.
type Store interface {
	// CreateSession atomically inserts the session row and its "started"
	// event at version 0, returning the stored event.
	CreateSession(ctx context.Context, session domain.TaskSession, startEvent domain.Event) (domain.Event, error)

	// ApplyTransition executes one guarded transition atomically against the
	// stored status. It returns ErrNotFound when the session is absent or out
	// of scope, an *InvalidStatusError when the stored status is not in
	// AllowedFrom, and ErrBlockNotFound when ResolveBlockID names no open block.
	ApplyTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error)

	GetSession(ctx context.Context, scope Scope, sessionID string) (domain.TaskSession, error)
	ListSessions(ctx context.Context, req ListSessionsRequest) ([]domain.TaskSession, error)
	// ListEvents returns events most-recent-first (descending version).
	ListEvents(ctx context.Context, req ListEventsRequest) ([]domain.Event, error)
	ListOpenBlocks(ctx context.Context, sessionID string) ([]domain.BlockReport, error)
	GetCompletion(ctx context.Context, sessionID string) (domain.Completion, error)

	// CountSessionsByUser counts a user's sessions across all statuses.
	CountSessionsByUser(ctx context.Context, userID string) (int, error)
}
