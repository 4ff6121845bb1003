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

const sessionColumns = "id, user_id, workspace_id, issue_provider, issue_id, issue_title, initial_summary, status, created_at, updated_at, paused_at, resumed_at"

// CreateSession atomically inserts a session row and its "started" event at
// version 0.
func (s *Store) CreateSession(ctx context.Context, session domain.TaskSession, startEvent domain.Event) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return domain.Event{}, fmt.Errorf("session id is required")
	}
	if startEvent.Kind != domain.EventKindStarted {
		return domain.Event{}, fmt.Errorf("start event kind must be %q", domain.EventKindStarted)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var pausedAt, resumedAt sql.NullInt64
	if session.PausedAt != nil {
		pausedAt = sql.NullInt64{Int64: toMillis(*session.PausedAt), Valid: true}
	}
	if session.ResumedAt != nil {
		resumedAt = sql.NullInt64{Int64: toMillis(*session.ResumedAt), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO task_sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.UserID,
		session.WorkspaceID,
		string(session.Issue.Provider),
		session.Issue.ExternalID,
		session.Issue.Title,
		session.InitialSummary,
		string(session.Status),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
		pausedAt,
		resumedAt,
	); err != nil {
		if isUniqueConstraintError(err) {
			return domain.Event{}, storage.ErrConflict
		}
		return domain.Event{}, fmt.Errorf("insert session: %w", err)
	}

	startEvent.SessionID = session.ID
	startEvent.Version = 0
	if err := insertEvent(ctx, tx, startEvent); err != nil {
		return domain.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit: %w", err)
	}
	return startEvent, nil
}

// GetSession returns one session within the caller's scope.
func (s *Store) GetSession(ctx context.Context, scope storage.Scope, sessionID string) (domain.TaskSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.TaskSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.TaskSession{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.TaskSession{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(scope.WorkspaceID) == "" {
		return domain.TaskSession{}, fmt.Errorf("workspace id is required")
	}
	return getSessionScoped(ctx, s.sqlDB, scope, sessionID)
}

func getSessionScoped(ctx context.Context, q sqlQuerier, scope storage.Scope, sessionID string) (domain.TaskSession, error) {
	row := q.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM task_sessions
WHERE id = ? AND workspace_id = ? AND (? = '' OR user_id = ?)
`, sessionID, scope.WorkspaceID, scope.UserID, scope.UserID)
	session, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TaskSession{}, storage.ErrNotFound
		}
		return domain.TaskSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions in scope ordered by recency.
func (s *Store) ListSessions(ctx context.Context, req storage.ListSessionsRequest) ([]domain.TaskSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(req.Scope.WorkspaceID) == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	query := `
SELECT ` + sessionColumns + `
FROM task_sessions
WHERE workspace_id = ? AND (? = '' OR user_id = ?)`
	args := []any{req.Scope.WorkspaceID, req.Scope.UserID, req.Scope.UserID}
	if req.Status != domain.StatusUnspecified {
		query += " AND status = ?"
		args = append(args, string(req.Status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, req.Limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.TaskSession, 0, req.Limit)
	for rows.Next() {
		session, scanErr := scanSession(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session row: %w", scanErr)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

// CountSessionsByUser counts a user's sessions across all statuses.
func (s *Store) CountSessionsByUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	var count int
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM task_sessions WHERE user_id = ?", userID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// HasActiveSubscription reports whether the user's subscription row is active
// and unexpired.
func (s *Store) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("user id is required")
	}

	var active int
	var expiresAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT active, expires_at FROM subscriptions WHERE user_id = ?", userID,
	).Scan(&active, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get subscription: %w", err)
	}
	if active != 1 {
		return false, nil
	}
	if expiresAt.Valid && fromMillis(expiresAt.Int64).Before(nowUTC()) {
		return false, nil
	}
	return true, nil
}

// PutSubscription upserts one subscription row. Billing reconciliation lives
// outside this service; this is the write path it uses.
func (s *Store) PutSubscription(ctx context.Context, userID string, active bool, expiresAt *int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	activeValue := 0
	if active {
		activeValue = 1
	}
	var expires sql.NullInt64
	if expiresAt != nil {
		expires = sql.NullInt64{Int64: *expiresAt, Valid: true}
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO subscriptions (user_id, active, expires_at)
VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	active = excluded.active,
	expires_at = excluded.expires_at
`, userID, activeValue, expires); err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

func scanSession(scan scanner) (domain.TaskSession, error) {
	var session domain.TaskSession
	var provider string
	var status string
	var createdAt, updatedAt int64
	var pausedAt, resumedAt sql.NullInt64
	if err := scan(
		&session.ID,
		&session.UserID,
		&session.WorkspaceID,
		&provider,
		&session.Issue.ExternalID,
		&session.Issue.Title,
		&session.InitialSummary,
		&status,
		&createdAt,
		&updatedAt,
		&pausedAt,
		&resumedAt,
	); err != nil {
		return domain.TaskSession{}, err
	}
	session.Issue.Provider = domain.IssueProvider(provider)
	session.Status = domain.Status(status)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	if pausedAt.Valid {
		value := fromMillis(pausedAt.Int64)
		session.PausedAt = &value
	}
	if resumedAt.Valid {
		value := fromMillis(resumedAt.Int64)
		session.ResumedAt = &value
	}
	return session, nil
}
