package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/storage"
)

// ListEvents returns session events most-recent-first. Technical event kinds
// are filtered at read time unless IncludeTechnical is set; they stay stored
// either way.
func (s *Store) ListEvents(ctx context.Context, req storage.ListEventsRequest) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(req.Scope.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	// Scope check first so an out-of-scope session reads as absent.
	if _, err := getSessionScoped(ctx, s.sqlDB, req.Scope, req.SessionID); err != nil {
		return nil, err
	}

	query := `
SELECT id, task_session_id, event_type, version, summary, reason, raw_context, created_at
FROM task_events
WHERE task_session_id = ?`
	args := []any{req.SessionID}
	if !req.IncludeTechnical {
		technical := domain.TechnicalEventKinds()
		placeholders := make([]string, 0, len(technical))
		for _, kind := range technical {
			placeholders = append(placeholders, "?")
			args = append(args, string(kind))
		}
		query += " AND event_type NOT IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY version DESC LIMIT ?"
	args = append(args, req.Limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, req.Limit)
	for rows.Next() {
		event, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan event row: %w", scanErr)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// ListOpenBlocks returns the unresolved block reports for a session, oldest
// first.
func (s *Store) ListOpenBlocks(ctx context.Context, sessionID string) ([]domain.BlockReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	return listOpenBlocks(ctx, s.sqlDB, sessionID)
}

func listOpenBlocks(ctx context.Context, q sqlQuerier, sessionID string) ([]domain.BlockReport, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, task_session_id, reason, created_at, resolved_at
FROM block_reports
WHERE task_session_id = ? AND resolved_at IS NULL
ORDER BY created_at ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list open blocks: %w", err)
	}
	defer rows.Close()

	var blocks []domain.BlockReport
	for rows.Next() {
		block, scanErr := scanBlock(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan block row: %w", scanErr)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block rows: %w", err)
	}
	return blocks, nil
}

// GetCompletion returns the completion record for a session.
func (s *Store) GetCompletion(ctx context.Context, sessionID string) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Completion{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Completion{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, task_session_id, external_ref, summary, created_at
FROM completions
WHERE task_session_id = ?
`, sessionID)
	var completion domain.Completion
	var createdAt int64
	if err := row.Scan(
		&completion.ID,
		&completion.SessionID,
		&completion.ExternalRef,
		&completion.Summary,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Completion{}, storage.ErrNotFound
		}
		return domain.Completion{}, fmt.Errorf("get completion: %w", err)
	}
	completion.CreatedAt = fromMillis(createdAt)
	return completion, nil
}

func scanEvent(scan scanner) (domain.Event, error) {
	var event domain.Event
	var kind string
	var rawContext []byte
	var createdAt int64
	if err := scan(
		&event.ID,
		&event.SessionID,
		&kind,
		&event.Version,
		&event.Summary,
		&event.Reason,
		&rawContext,
		&createdAt,
	); err != nil {
		return domain.Event{}, err
	}
	event.Kind = domain.EventKind(kind)
	if len(rawContext) > 0 {
		event.RawContext = rawContext
	}
	event.CreatedAt = fromMillis(createdAt)
	return event, nil
}

func scanBlock(scan scanner) (domain.BlockReport, error) {
	var block domain.BlockReport
	var createdAt int64
	var resolvedAt sql.NullInt64
	if err := scan(
		&block.ID,
		&block.SessionID,
		&block.Reason,
		&createdAt,
		&resolvedAt,
	); err != nil {
		return domain.BlockReport{}, err
	}
	block.CreatedAt = fromMillis(createdAt)
	if resolvedAt.Valid {
		value := fromMillis(resolvedAt.Int64)
		block.ResolvedAt = &value
	}
	return block, nil
}
