package domain

import (
	"strings"
	"time"

	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/platform/id"
)

// Status describes the lifecycle state of a task session.
type Status string

const (
	StatusUnspecified Status = ""
	StatusInProgress  Status = "in_progress"
	StatusBlocked     Status = "blocked"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusInProgress, StatusBlocked, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IssueProvider identifies where the tracked issue lives.
type IssueProvider string

const (
	// IssueProviderTracker references an issue in an external tracker.
	IssueProviderTracker IssueProvider = "external-tracker"
	// IssueProviderManual describes ad-hoc work with no tracker reference.
	IssueProviderManual IssueProvider = "manual"
)

// IssueRef describes the unit of work a session tracks.
type IssueRef struct {
	Provider   IssueProvider
	ExternalID string // optional, tracker-assigned identifier
	Title      string
}

// TaskSession is the aggregate tracking one unit of agent work.
type TaskSession struct {
	ID             string
	UserID         string
	WorkspaceID    string
	Issue          IssueRef
	InitialSummary string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PausedAt       *time.Time // nil unless currently paused
	ResumedAt      *time.Time // nil until the first resume
}

// NewSessionInput describes the metadata needed to open a session.
type NewSessionInput struct {
	UserID         string
	WorkspaceID    string
	Issue          IssueRef
	InitialSummary string
}

// NewSession creates an in-progress session with a generated ID and timestamps.
func NewSession(input NewSessionInput, now func() time.Time, idGenerator func() (string, error)) (TaskSession, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeNewSessionInput(input)
	if err != nil {
		return TaskSession{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return TaskSession{}, apperrors.Wrap(apperrors.CodeUnknown, "generate session id", err)
	}

	createdAt := now().UTC()
	return TaskSession{
		ID:             sessionID,
		UserID:         normalized.UserID,
		WorkspaceID:    normalized.WorkspaceID,
		Issue:          normalized.Issue,
		InitialSummary: normalized.InitialSummary,
		Status:         StatusInProgress,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}, nil
}

// NormalizeNewSessionInput trims and validates session input metadata.
func NormalizeNewSessionInput(input NewSessionInput) (NewSessionInput, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return NewSessionInput{}, ErrEmptyUserID
	}
	input.WorkspaceID = strings.TrimSpace(input.WorkspaceID)
	if input.WorkspaceID == "" {
		return NewSessionInput{}, ErrEmptyWorkspaceID
	}

	input.Issue.Provider = IssueProvider(strings.TrimSpace(string(input.Issue.Provider)))
	switch input.Issue.Provider {
	case IssueProviderTracker, IssueProviderManual:
	default:
		return NewSessionInput{}, ErrInvalidIssueProvider
	}
	input.Issue.ExternalID = strings.TrimSpace(input.Issue.ExternalID)
	input.Issue.Title = strings.TrimSpace(input.Issue.Title)
	if input.Issue.Title == "" {
		return NewSessionInput{}, ErrEmptyIssueTitle
	}

	input.InitialSummary = strings.TrimSpace(input.InitialSummary)
	return input, nil
}
