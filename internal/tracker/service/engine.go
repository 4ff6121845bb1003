// Package service implements the task session lifecycle engine: one
// guarded operation per transition, each executed as a single atomic
// unit of work against the store, with a best-effort chat notification
// after commit.
package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskmirror/taskmirror/internal/notify"
	"github.com/taskmirror/taskmirror/internal/plan"
	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/platform/id"
	"github.com/taskmirror/taskmirror/internal/platform/timeouts"
	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/storage"
)

// Engine executes lifecycle transitions. All dependencies are injected;
// the zero value is not usable.
type Engine struct {
	store      storage.Store
	guard      *plan.Guard
	dispatcher notify.Dispatcher // nil disables notifications
	clock      func() time.Time
	newID      func() (string, error)
	tracer     trace.Tracer
}

// Config carries the engine's collaborators.
type Config struct {
	Store      storage.Store
	Guard      *plan.Guard
	Dispatcher notify.Dispatcher
	Clock      func() time.Time
	NewID      func() (string, error)
}

// New creates an engine. Store is required; Guard and Dispatcher are
// optional collaborators, and Clock/NewID default to the real ones.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = id.NewID
	}
	return &Engine{
		store:      cfg.Store,
		guard:      cfg.Guard,
		dispatcher: cfg.Dispatcher,
		clock:      cfg.Clock,
		newID:      cfg.NewID,
		tracer:     otel.Tracer("taskmirror/tracker"),
	}, nil
}

// Scope identifies the caller. WorkspaceID is always required; UserID
// is required for operations that act on behalf of one user.
type Scope struct {
	WorkspaceID string
	UserID      string
}

func (s Scope) normalize(requireUser bool) (Scope, *apperrors.Error) {
	s.WorkspaceID = strings.TrimSpace(s.WorkspaceID)
	if s.WorkspaceID == "" {
		return Scope{}, apperrors.New(apperrors.CodeSessionEmptyWorkspace, "workspace id is required")
	}
	s.UserID = strings.TrimSpace(s.UserID)
	if requireUser && s.UserID == "" {
		return Scope{}, apperrors.New(apperrors.CodeSessionEmptyUser, "user id is required")
	}
	return s, nil
}

func (s Scope) storageScope() storage.Scope {
	return storage.Scope{WorkspaceID: s.WorkspaceID, UserID: s.UserID}
}

// Result is the success envelope every transition returns.
type Result struct {
	Session domain.TaskSession
	EventID string
	// OpenBlocks lists block reports still unresolved after the
	// transition, so callers can surface them (notably on Complete).
	OpenBlocks []domain.BlockReport
	// Receipt is set when the post-commit notification was delivered.
	Receipt *notify.Receipt
}

func asAppError(err error) *apperrors.Error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// mapStorageError translates storage sentinels into the caller-facing
// error taxonomy.
func mapStorageError(err error) *apperrors.Error {
	if appErr := asAppError(err); appErr != nil {
		return appErr
	}

	var invalid *storage.InvalidStatusError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeSessionNotFound, "session not found", err)
	case errors.As(err, &invalid):
		return apperrors.WrapWithMetadata(apperrors.CodeSessionInvalidState,
			"transition not allowed from current status",
			map[string]string{"current_status": string(invalid.Current)}, err)
	case errors.Is(err, storage.ErrBlockNotFound):
		return apperrors.Wrap(apperrors.CodeBlockNotFound, "block report not found or already resolved", err)
	case errors.Is(err, storage.ErrOpenBlockExists):
		return apperrors.Wrap(apperrors.CodeBlockAlreadyOpen, "session already has an open block report", err)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Wrap(apperrors.CodeStorageConflict, "write conflicted with a concurrent transition", err)
	default:
		return apperrors.Wrap(apperrors.CodeStorageFailure, "storage operation failed", err)
	}
}

// apply runs one transition through the store and returns the envelope.
func (e *Engine) apply(ctx context.Context, req storage.TransitionRequest) (Result, storage.TransitionResult, *apperrors.Error) {
	res, err := e.store.ApplyTransition(ctx, req)
	if err != nil {
		return Result{}, storage.TransitionResult{}, mapStorageError(err)
	}
	return Result{
		Session:    res.Session,
		EventID:    res.Event.ID,
		OpenBlocks: res.OpenBlocks,
	}, res, nil
}

// notifyCommitted projects and dispatches a notification for a
// committed transition. Failures are logged and never propagated: the
// transition has already committed and must not appear to fail.
func (e *Engine) notifyCommitted(ctx context.Context, view notify.TransitionView) *notify.Receipt {
	if e.dispatcher == nil {
		return nil
	}

	payload, err := notify.Project(view)
	if err != nil {
		log.Printf("notify: project %s event for session %s: %v", view.Event.Kind, view.Session.ID, err)
		return nil
	}
	if payload == nil {
		return nil
	}
	if err := payload.Validate(); err != nil {
		log.Printf("notify: invalid %s payload for session %s: %v", payload.Template(), view.Session.ID, err)
		return nil
	}

	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.NotifyDispatch)
	defer cancel()
	receipt, err := e.dispatcher.Dispatch(dispatchCtx, payload)
	if err != nil {
		log.Printf("notify: dispatch %s for session %s: %v", payload.Template(), view.Session.ID, err)
		return nil
	}
	return &receipt
}

func logLinkFailure(sessionID string, err error) {
	log.Printf("notify: link thread for session %s: %v", sessionID, err)
}

func (e *Engine) startSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, name)
	if sessionID != "" {
		span.SetAttributes(attribute.String("session.id", sessionID))
	}
	return ctx, span
}

func (e *Engine) newEvent(sessionID string, kind domain.EventKind) (domain.Event, *apperrors.Error) {
	eventID, err := e.newID()
	if err != nil {
		return domain.Event{}, apperrors.Wrap(apperrors.CodeUnknown, "generate event id", err)
	}
	return domain.Event{
		ID:        eventID,
		SessionID: sessionID,
		Kind:      kind,
		CreatedAt: e.clock().UTC(),
	}, nil
}
