package service

import (
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/taskmirror/taskmirror/internal/notify"
	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/storage"
)

// StartInput describes a new session.
type StartInput struct {
	Issue          domain.IssueRef
	InitialSummary string
	// UserDisplayName feeds the "started" notification; falls back to
	// the user id when empty.
	UserDisplayName string
}

// Start creates a session in progress with its "started" event at
// version 0. Creation is gated by the plan limit guard. After commit it
// dispatches the "started" notification; when the receipt names a chat
// thread, the engine links it to the session as a technical event.
func (e *Engine) Start(ctx context.Context, scope Scope, input StartInput) (Result, error) {
	scope, scopeErr := scope.normalize(true)
	if scopeErr != nil {
		return Result{}, scopeErr
	}
	ctx, span := e.startSpan(ctx, "engine.start", "")
	defer span.End()

	if e.guard != nil {
		if err := e.guard.CheckCreate(ctx, scope.UserID); err != nil {
			if appErr := asAppError(err); appErr != nil {
				return Result{}, appErr
			}
			return Result{}, apperrors.Wrap(apperrors.CodeStorageFailure, "plan limit check", err)
		}
	}

	session, err := domain.NewSession(domain.NewSessionInput{
		UserID:         scope.UserID,
		WorkspaceID:    scope.WorkspaceID,
		Issue:          input.Issue,
		InitialSummary: input.InitialSummary,
	}, e.clock, e.newID)
	if err != nil {
		if appErr := asAppError(err); appErr != nil {
			return Result{}, appErr
		}
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "build session", err)
	}
	span.SetAttributes(attribute.String("session.id", session.ID))

	event, appErr := e.newEvent(session.ID, domain.EventKindStarted)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Summary = session.InitialSummary

	stored, storeErr := e.store.CreateSession(ctx, session, event)
	if storeErr != nil {
		return Result{}, mapStorageError(storeErr)
	}

	result := Result{Session: session, EventID: stored.ID}

	displayName := strings.TrimSpace(input.UserDisplayName)
	if displayName == "" {
		displayName = scope.UserID
	}
	receipt := e.notifyCommitted(ctx, notify.TransitionView{
		Session:         session,
		Event:           stored,
		UserDisplayName: displayName,
	})
	result.Receipt = receipt

	if receipt != nil && receipt.ThreadID != "" {
		if _, err := e.LinkThread(ctx, scope, session.ID, receipt.ThreadID, receipt.MessageID); err != nil {
			// The session and its notification are committed; a failed
			// thread link only loses the bookkeeping record.
			logLinkFailure(session.ID, err)
		}
	}
	return result, nil
}

// Update appends a progress note without changing status.
func (e *Engine) Update(ctx context.Context, scope Scope, sessionID, summary string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return Result{}, apperrors.New(apperrors.CodeUpdateEmptySummary, "update summary is required")
	}
	ctx, span := e.startSpan(ctx, "engine.update", sessionID)
	defer span.End()

	event, appErr := e.newEvent(sessionID, domain.EventKindUpdated)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Summary = summary

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:       scope.storageScope(),
		SessionID:   sessionID,
		Transition:  domain.TransitionUpdate,
		AllowedFrom: domain.AllowedFrom(domain.TransitionUpdate),
		Event:       event,
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{Session: res.Session, Event: res.Event})
	return result, nil
}

// ReportBlock opens a block report and moves the session to blocked.
func (e *Engine) ReportBlock(ctx context.Context, scope Scope, sessionID, reason string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, apperrors.New(apperrors.CodeBlockEmptyReason, "block reason is required")
	}
	ctx, span := e.startSpan(ctx, "engine.report_block", sessionID)
	defer span.End()

	blockID, err := e.newID()
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "generate block id", err)
	}
	event, appErr := e.newEvent(sessionID, domain.EventKindBlocked)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Reason = reason

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:       scope.storageScope(),
		SessionID:   sessionID,
		Transition:  domain.TransitionReportBlock,
		AllowedFrom: domain.AllowedFrom(domain.TransitionReportBlock),
		NewStatus:   domain.StatusBlocked,
		Event:       event,
		OpenBlock: &domain.BlockReport{
			ID:        blockID,
			SessionID: sessionID,
			Reason:    reason,
			CreatedAt: event.CreatedAt,
		},
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{
		Session:    res.Session,
		Event:      res.Event,
		OpenBlocks: res.OpenBlocks,
	})
	return result, nil
}

// ResolveBlock closes the named block report. The session returns to
// in_progress only when no other block remains open.
func (e *Engine) ResolveBlock(ctx context.Context, scope Scope, sessionID, blockID, resolution string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return Result{}, apperrors.New(apperrors.CodeBlockEmptyID, "block id is required")
	}
	ctx, span := e.startSpan(ctx, "engine.resolve_block", sessionID)
	defer span.End()

	event, appErr := e.newEvent(sessionID, domain.EventKindBlockResolved)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Summary = strings.TrimSpace(resolution)

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:                     scope.storageScope(),
		SessionID:                 sessionID,
		Transition:                domain.TransitionResolveBlock,
		AllowedFrom:               domain.AllowedFrom(domain.TransitionResolveBlock),
		NewStatus:                 domain.StatusInProgress,
		ConditionalOnNoOpenBlocks: true,
		Event:                     event,
		ResolveBlockID:            blockID,
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{
		Session:       res.Session,
		Event:         res.Event,
		ResolvedBlock: res.ResolvedBlock,
		OpenBlocks:    res.OpenBlocks,
	})
	return result, nil
}

// Pause records a voluntary suspension of work.
func (e *Engine) Pause(ctx context.Context, scope Scope, sessionID, reason string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, apperrors.New(apperrors.CodePauseEmptyReason, "pause reason is required")
	}
	ctx, span := e.startSpan(ctx, "engine.pause", sessionID)
	defer span.End()

	pauseID, err := e.newID()
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "generate pause id", err)
	}
	event, appErr := e.newEvent(sessionID, domain.EventKindPaused)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Reason = reason
	pausedAt := event.CreatedAt

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:       scope.storageScope(),
		SessionID:   sessionID,
		Transition:  domain.TransitionPause,
		AllowedFrom: domain.AllowedFrom(domain.TransitionPause),
		NewStatus:   domain.StatusPaused,
		Event:       event,
		SetPausedAt: &pausedAt,
		OpenPause: &domain.PauseReport{
			ID:        pauseID,
			SessionID: sessionID,
			Reason:    reason,
			CreatedAt: pausedAt,
		},
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{Session: res.Session, Event: res.Event})
	return result, nil
}

// Resume moves a paused session back to in progress.
func (e *Engine) Resume(ctx context.Context, scope Scope, sessionID string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	ctx, span := e.startSpan(ctx, "engine.resume", sessionID)
	defer span.End()

	event, appErr := e.newEvent(sessionID, domain.EventKindResumed)
	if appErr != nil {
		return Result{}, appErr
	}
	resumedAt := event.CreatedAt

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:         scope.storageScope(),
		SessionID:     sessionID,
		Transition:    domain.TransitionResume,
		AllowedFrom:   domain.AllowedFrom(domain.TransitionResume),
		NewStatus:     domain.StatusInProgress,
		Event:         event,
		ClearPausedAt: true,
		SetResumedAt:  &resumedAt,
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{Session: res.Session, Event: res.Event})
	return result, nil
}

// Complete records the terminal completion of a session. Open block
// reports never prevent completion; they are returned so the caller
// can surface them.
func (e *Engine) Complete(ctx context.Context, scope Scope, sessionID, externalRef, summary string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	ctx, span := e.startSpan(ctx, "engine.complete", sessionID)
	defer span.End()

	completionID, err := e.newID()
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "generate completion id", err)
	}
	event, appErr := e.newEvent(sessionID, domain.EventKindCompleted)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Summary = strings.TrimSpace(summary)

	completion := &domain.Completion{
		ID:          completionID,
		SessionID:   sessionID,
		ExternalRef: strings.TrimSpace(externalRef),
		Summary:     event.Summary,
		CreatedAt:   event.CreatedAt,
	}

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:       scope.storageScope(),
		SessionID:   sessionID,
		Transition:  domain.TransitionComplete,
		AllowedFrom: domain.AllowedFrom(domain.TransitionComplete),
		NewStatus:   domain.StatusCompleted,
		Event:       event,
		Completion:  completion,
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{
		Session:    res.Session,
		Event:      res.Event,
		OpenBlocks: res.OpenBlocks,
		Completion: completion,
	})
	return result, nil
}

// Cancel records the terminal cancellation of a session. The reason is
// optional.
func (e *Engine) Cancel(ctx context.Context, scope Scope, sessionID, reason string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	ctx, span := e.startSpan(ctx, "engine.cancel", sessionID)
	defer span.End()

	event, appErr := e.newEvent(sessionID, domain.EventKindCancelled)
	if appErr != nil {
		return Result{}, appErr
	}
	event.Reason = strings.TrimSpace(reason)

	result, res, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:       scope.storageScope(),
		SessionID:   sessionID,
		Transition:  domain.TransitionCancel,
		AllowedFrom: domain.AllowedFrom(domain.TransitionCancel),
		NewStatus:   domain.StatusCancelled,
		Event:       event,
	})
	if appErr != nil {
		return Result{}, appErr
	}

	result.Receipt = e.notifyCommitted(ctx, notify.TransitionView{Session: res.Session, Event: res.Event})
	return result, nil
}

// LinkThread records where the chat notification thread for a session
// lives. It appends a technical event, changes no status, and emits no
// notification.
func (e *Engine) LinkThread(ctx context.Context, scope Scope, sessionID, threadID, messageID string) (Result, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return Result{}, appErr
	}
	ctx, span := e.startSpan(ctx, "engine.link_thread", sessionID)
	defer span.End()

	event, appErr := e.newEvent(sessionID, domain.EventKindThreadLinked)
	if appErr != nil {
		return Result{}, appErr
	}
	raw, err := json.Marshal(struct {
		ThreadID  string `json:"thread_id"`
		MessageID string `json:"message_id,omitempty"`
	}{strings.TrimSpace(threadID), strings.TrimSpace(messageID)})
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "encode thread context", err)
	}
	event.RawContext = raw

	result, _, appErr := e.apply(ctx, storage.TransitionRequest{
		Scope:       scope.storageScope(),
		SessionID:   sessionID,
		Transition:  domain.TransitionLinkThread,
		AllowedFrom: domain.AllowedFrom(domain.TransitionLinkThread),
		Event:       event,
	})
	if appErr != nil {
		return Result{}, appErr
	}
	return result, nil
}

// Get fetches one session within the caller's scope.
func (e *Engine) Get(ctx context.Context, scope Scope, sessionID string) (domain.TaskSession, error) {
	scope, sessionID, appErr := e.normalizeTarget(scope, sessionID)
	if appErr != nil {
		return domain.TaskSession{}, appErr
	}
	ctx, span := e.startSpan(ctx, "engine.get", sessionID)
	defer span.End()

	session, err := e.store.GetSession(ctx, scope.storageScope(), sessionID)
	if err != nil {
		return domain.TaskSession{}, mapStorageError(err)
	}
	return session, nil
}

func (e *Engine) normalizeTarget(scope Scope, sessionID string) (Scope, string, *apperrors.Error) {
	scope, appErr := scope.normalize(false)
	if appErr != nil {
		return Scope{}, "", appErr
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Scope{}, "", apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	return scope, sessionID, nil
}
