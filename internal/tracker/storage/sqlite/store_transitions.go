package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/storage"
)

const (
	maxBusyRetries = 8
	busyRetryDelay = 10 * time.Millisecond
)

// ApplyTransition executes one guarded transition as a single transaction.
// The stored status is re-read inside the transaction and checked against the
// request's allowed-from set, so concurrent transitions on the same session
// cannot both commit from the same stale status.
func (s *Store) ApplyTransition(ctx context.Context, req storage.TransitionRequest) (storage.TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransitionResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TransitionResult{}, fmt.Errorf("storage is not configured")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return storage.TransitionResult{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(req.Scope.WorkspaceID) == "" {
		return storage.TransitionResult{}, fmt.Errorf("workspace id is required")
	}
	if len(req.AllowedFrom) == 0 {
		return storage.TransitionResult{}, fmt.Errorf("allowed-from statuses are required")
	}
	if !req.Event.Kind.IsValid() {
		return storage.TransitionResult{}, fmt.Errorf("event kind %q is not valid", req.Event.Kind)
	}

	// busy_timeout handles most lock contention at the driver level.
	// The retry loop backstops the cases the driver surfaces anyway,
	// such as a timeout that elapses under sustained write pressure.
	for attempt := 0; ; attempt++ {
		result, err := s.applyTransitionTx(ctx, req)
		if err == nil || !isSQLiteBusyError(err) {
			return result, err
		}
		if attempt >= maxBusyRetries {
			return storage.TransitionResult{}, fmt.Errorf("transition for session %s remained busy: %w", req.SessionID, err)
		}
		timer := time.NewTimer(time.Duration(attempt+1) * busyRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return storage.TransitionResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Store) applyTransitionTx(ctx context.Context, req storage.TransitionRequest) (storage.TransitionResult, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.TransitionResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	session, err := getSessionScoped(ctx, tx, req.Scope, req.SessionID)
	if err != nil {
		return storage.TransitionResult{}, err
	}

	allowed := false
	for _, status := range req.AllowedFrom {
		if session.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return storage.TransitionResult{}, &storage.InvalidStatusError{Current: session.Status}
	}

	var resolved *domain.BlockReport
	if req.ResolveBlockID != "" {
		resolved, err = resolveBlockTx(ctx, tx, req.SessionID, req.ResolveBlockID, toMillis(req.Event.CreatedAt))
		if err != nil {
			return storage.TransitionResult{}, err
		}
	}

	if req.OpenBlock != nil {
		if err := insertBlockTx(ctx, tx, *req.OpenBlock); err != nil {
			return storage.TransitionResult{}, err
		}
	}
	if req.OpenPause != nil {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pause_reports (id, task_session_id, reason, created_at)
VALUES (?, ?, ?, ?)
`, req.OpenPause.ID, req.SessionID, req.OpenPause.Reason, toMillis(req.OpenPause.CreatedAt)); err != nil {
			return storage.TransitionResult{}, fmt.Errorf("insert pause report: %w", err)
		}
	}
	if req.Completion != nil {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO completions (id, task_session_id, external_ref, summary, created_at)
VALUES (?, ?, ?, ?, ?)
`, req.Completion.ID, req.SessionID, req.Completion.ExternalRef, req.Completion.Summary, toMillis(req.Completion.CreatedAt)); err != nil {
			if isUniqueConstraintError(err) {
				return storage.TransitionResult{}, storage.ErrConflict
			}
			return storage.TransitionResult{}, fmt.Errorf("insert completion: %w", err)
		}
	}

	openBlocks, err := listOpenBlocks(ctx, tx, req.SessionID)
	if err != nil {
		return storage.TransitionResult{}, err
	}

	newStatus := session.Status
	if req.NewStatus != domain.StatusUnspecified {
		if !req.ConditionalOnNoOpenBlocks || len(openBlocks) == 0 {
			newStatus = req.NewStatus
		}
	}

	req.Event.SessionID = req.SessionID
	version, err := nextEventVersion(ctx, tx, req.SessionID)
	if err != nil {
		return storage.TransitionResult{}, err
	}
	req.Event.Version = version
	if err := insertEvent(ctx, tx, req.Event); err != nil {
		return storage.TransitionResult{}, err
	}

	updatedAt := toMillis(req.Event.CreatedAt)
	var pausedAt, resumedAt sql.NullInt64
	if session.PausedAt != nil {
		pausedAt = sql.NullInt64{Int64: toMillis(*session.PausedAt), Valid: true}
	}
	if session.ResumedAt != nil {
		resumedAt = sql.NullInt64{Int64: toMillis(*session.ResumedAt), Valid: true}
	}
	if req.SetPausedAt != nil {
		pausedAt = sql.NullInt64{Int64: toMillis(*req.SetPausedAt), Valid: true}
		value := req.SetPausedAt.UTC()
		session.PausedAt = &value
	}
	if req.ClearPausedAt {
		pausedAt = sql.NullInt64{}
		session.PausedAt = nil
	}
	if req.SetResumedAt != nil {
		resumedAt = sql.NullInt64{Int64: toMillis(*req.SetResumedAt), Valid: true}
		value := req.SetResumedAt.UTC()
		session.ResumedAt = &value
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE task_sessions
SET status = ?, updated_at = ?, paused_at = ?, resumed_at = ?
WHERE id = ?
`, string(newStatus), updatedAt, pausedAt, resumedAt, req.SessionID); err != nil {
		return storage.TransitionResult{}, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.TransitionResult{}, fmt.Errorf("commit: %w", err)
	}

	session.Status = newStatus
	session.UpdatedAt = fromMillis(updatedAt)
	return storage.TransitionResult{
		Session:       session,
		Event:         req.Event,
		OpenBlocks:    openBlocks,
		ResolvedBlock: resolved,
	}, nil
}

func nextEventVersion(ctx context.Context, q sqlQuerier, sessionID string) (int64, error) {
	var version int64
	if err := q.QueryRowContext(ctx, `
SELECT COALESCE(MAX(version) + 1, 0) FROM task_events WHERE task_session_id = ?
`, sessionID).Scan(&version); err != nil {
		return 0, fmt.Errorf("next event version: %w", err)
	}
	return version, nil
}

func insertEvent(ctx context.Context, q sqlQuerier, event domain.Event) error {
	var rawContext any
	if len(event.RawContext) > 0 {
		rawContext = []byte(event.RawContext)
	}
	if _, err := q.ExecContext(ctx, `
INSERT INTO task_events (id, task_session_id, event_type, version, summary, reason, raw_context, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		event.ID,
		event.SessionID,
		string(event.Kind),
		event.Version,
		event.Summary,
		event.Reason,
		rawContext,
		toMillis(event.CreatedAt),
	); err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func insertBlockTx(ctx context.Context, q sqlQuerier, block domain.BlockReport) error {
	var resolvedAt sql.NullInt64
	if block.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: toMillis(*block.ResolvedAt), Valid: true}
	}
	if _, err := q.ExecContext(ctx, `
INSERT INTO block_reports (id, task_session_id, reason, created_at, resolved_at)
VALUES (?, ?, ?, ?, ?)
`, block.ID, block.SessionID, block.Reason, toMillis(block.CreatedAt), resolvedAt); err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrOpenBlockExists
		}
		return fmt.Errorf("insert block report: %w", err)
	}
	return nil
}

func resolveBlockTx(ctx context.Context, q sqlQuerier, sessionID, blockID string, resolvedAtMillis int64) (*domain.BlockReport, error) {
	result, err := q.ExecContext(ctx, `
UPDATE block_reports
SET resolved_at = ?
WHERE id = ? AND task_session_id = ? AND resolved_at IS NULL
`, resolvedAtMillis, blockID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve block report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve block rows affected: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrBlockNotFound
	}

	row := q.QueryRowContext(ctx, `
SELECT id, task_session_id, reason, created_at, resolved_at
FROM block_reports
WHERE id = ?
`, blockID)
	block, err := scanBlock(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrBlockNotFound
		}
		return nil, fmt.Errorf("load resolved block: %w", err)
	}
	return &block, nil
}
