package domain

import (
	"errors"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestNewSessionDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	session, err := NewSession(NewSessionInput{
		UserID:      "user-1",
		WorkspaceID: "ws-1",
		Issue: IssueRef{
			Provider: IssueProviderManual,
			Title:    "  Fix flaky deploy  ",
		},
		InitialSummary: " begin ",
	}, fixedClock(now), staticID("sess-1"))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if session.ID != "sess-1" {
		t.Fatalf("session id = %q, want %q", session.ID, "sess-1")
	}
	if session.Status != StatusInProgress {
		t.Fatalf("status = %q, want %q", session.Status, StatusInProgress)
	}
	if session.Issue.Title != "Fix flaky deploy" {
		t.Fatalf("issue title = %q, want trimmed", session.Issue.Title)
	}
	if session.InitialSummary != "begin" {
		t.Fatalf("initial summary = %q, want trimmed", session.InitialSummary)
	}
	if !session.CreatedAt.Equal(now) || !session.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps = %v / %v, want %v", session.CreatedAt, session.UpdatedAt, now)
	}
	if session.PausedAt != nil || session.ResumedAt != nil {
		t.Fatal("expected nil pause timestamps on a new session")
	}
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input NewSessionInput
		want  error
	}{
		{
			name:  "missing user",
			input: NewSessionInput{WorkspaceID: "ws-1", Issue: IssueRef{Provider: IssueProviderManual, Title: "x"}},
			want:  ErrEmptyUserID,
		},
		{
			name:  "missing workspace",
			input: NewSessionInput{UserID: "user-1", Issue: IssueRef{Provider: IssueProviderManual, Title: "x"}},
			want:  ErrEmptyWorkspaceID,
		},
		{
			name:  "bad provider",
			input: NewSessionInput{UserID: "user-1", WorkspaceID: "ws-1", Issue: IssueRef{Provider: "jira", Title: "x"}},
			want:  ErrInvalidIssueProvider,
		},
		{
			name:  "missing title",
			input: NewSessionInput{UserID: "user-1", WorkspaceID: "ws-1", Issue: IssueRef{Provider: IssueProviderTracker, ExternalID: "T-9"}},
			want:  ErrEmptyIssueTitle,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSession(tc.input, nil, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, status := range []Status{StatusInProgress, StatusBlocked, StatusPaused} {
		if status.IsTerminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
	for _, status := range []Status{StatusCompleted, StatusCancelled} {
		if !status.IsTerminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
}
