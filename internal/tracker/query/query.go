// Package query is the read side of the tracker: session and event
// listings with projection policies. It never mutates state.
package query

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/storage"
)

// DefaultLimit bounds listings when the caller does not set one.
const DefaultLimit = 50

// Service answers read-only queries against the store.
type Service struct {
	store storage.Store
}

// New creates a query service.
func New(store storage.Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{store: store}, nil
}

// Scope identifies the caller; an empty UserID reads workspace-wide.
type Scope struct {
	WorkspaceID string
	UserID      string
}

// SessionView is a session enriched with read-side derived fields.
type SessionView struct {
	domain.TaskSession
	// Duration is completion time minus creation time; set only for
	// completed sessions.
	Duration *time.Duration
}

// ListSessionsRequest configures a session listing.
type ListSessionsRequest struct {
	Scope  Scope
	Status domain.Status // StatusUnspecified lists every status
	Limit  int
}

// ListSessions returns sessions ordered by recency. Completed sessions
// carry their duration.
func (s *Service) ListSessions(ctx context.Context, req ListSessionsRequest) ([]SessionView, error) {
	scope, appErr := normalizeScope(req.Scope)
	if appErr != nil {
		return nil, appErr
	}
	if req.Status != domain.StatusUnspecified && !req.Status.IsValid() {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknown, "unknown status filter",
			map[string]string{"status": string(req.Status)})
	}

	sessions, err := s.store.ListSessions(ctx, storage.ListSessionsRequest{
		Scope:  scope,
		Status: req.Status,
		Limit:  limitOrDefault(req.Limit),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list sessions", err)
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		view := SessionView{TaskSession: session}
		if session.Status == domain.StatusCompleted {
			completion, err := s.store.GetCompletion(ctx, session.ID)
			switch {
			case err == nil:
				duration := completion.CreatedAt.Sub(session.CreatedAt)
				view.Duration = &duration
			case errors.Is(err, storage.ErrNotFound):
				// A completed session without its completion record is a
				// data inconsistency; the listing still returns it.
			default:
				return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "load completion", err)
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// ListEventsRequest configures an event listing for one session.
type ListEventsRequest struct {
	Scope     Scope
	SessionID string
	Limit     int
	// IncludeTechnical also returns bookkeeping kinds such as
	// thread_linked, which default listings hide.
	IncludeTechnical bool
}

// ListEvents returns a session's events most-recent-first.
func (s *Service) ListEvents(ctx context.Context, req ListEventsRequest) ([]domain.Event, error) {
	scope, appErr := normalizeScope(req.Scope)
	if appErr != nil {
		return nil, appErr
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}

	events, err := s.store.ListEvents(ctx, storage.ListEventsRequest{
		Scope:            scope,
		SessionID:        sessionID,
		Limit:            limitOrDefault(req.Limit),
		IncludeTechnical: req.IncludeTechnical,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeSessionNotFound, "session not found", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list events", err)
	}
	return events, nil
}

// ListOpenBlocks returns the session's unresolved block reports.
func (s *Service) ListOpenBlocks(ctx context.Context, scope Scope, sessionID string) ([]domain.BlockReport, error) {
	normalized, appErr := normalizeScope(scope)
	if appErr != nil {
		return nil, appErr
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}

	// Scope is enforced by the session lookup.
	if _, err := s.store.GetSession(ctx, normalized, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeSessionNotFound, "session not found", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "load session", err)
	}
	blocks, err := s.store.ListOpenBlocks(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list open blocks", err)
	}
	return blocks, nil
}

func normalizeScope(scope Scope) (storage.Scope, *apperrors.Error) {
	workspaceID := strings.TrimSpace(scope.WorkspaceID)
	if workspaceID == "" {
		return storage.Scope{}, apperrors.New(apperrors.CodeSessionEmptyWorkspace, "workspace id is required")
	}
	return storage.Scope{WorkspaceID: workspaceID, UserID: strings.TrimSpace(scope.UserID)}, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
