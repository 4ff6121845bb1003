// Package notify maps committed session transitions to outbound chat
// notifications. Each notification template is its own payload type;
// the Payload interface is sealed so the serialization site can switch
// over the full set and treat anything else as a bug.
package notify

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/tracker/domain"
)

// Payload is one of the eight notification templates. Implementations
// live in this package only.
type Payload interface {
	// Template names the chat template this payload feeds.
	Template() string
	// Validate checks the payload carries every field its template needs.
	Validate() error

	sealed()
}

func invalid(template, field string) error {
	return apperrors.WithMetadata(apperrors.CodeNotificationInvalid,
		fmt.Sprintf("%s notification is missing %s", template, field),
		map[string]string{"template": template, "field": field})
}

// StartedPayload announces a freshly created session.
type StartedPayload struct {
	SessionID       string
	WorkspaceID     string
	Issue           domain.IssueRef
	Summary         string
	UserDisplayName string
}

func (p StartedPayload) Template() string { return "started" }
func (p StartedPayload) sealed()          {}

func (p StartedPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.SessionID) == "":
		return invalid(p.Template(), "session id")
	case strings.TrimSpace(p.Issue.Title) == "":
		return invalid(p.Template(), "issue title")
	case strings.TrimSpace(p.UserDisplayName) == "":
		return invalid(p.Template(), "user display name")
	}
	return nil
}

// UpdatedPayload carries a progress note.
type UpdatedPayload struct {
	SessionID string
	Summary   string
}

func (p UpdatedPayload) Template() string { return "updated" }
func (p UpdatedPayload) sealed()          {}

func (p UpdatedPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.SessionID) == "":
		return invalid(p.Template(), "session id")
	case strings.TrimSpace(p.Summary) == "":
		return invalid(p.Template(), "summary")
	}
	return nil
}

// BlockedPayload reports a newly opened block.
type BlockedPayload struct {
	SessionID string
	BlockID   string
	Reason    string
}

func (p BlockedPayload) Template() string { return "blocked" }
func (p BlockedPayload) sealed()          {}

func (p BlockedPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.SessionID) == "":
		return invalid(p.Template(), "session id")
	case strings.TrimSpace(p.BlockID) == "":
		return invalid(p.Template(), "block id")
	case strings.TrimSpace(p.Reason) == "":
		return invalid(p.Template(), "reason")
	}
	return nil
}

// BlockResolvedPayload reports a block being cleared.
type BlockResolvedPayload struct {
	SessionID  string
	BlockID    string
	Resolution string
	// StillBlocked is set when the session keeps other open blocks.
	StillBlocked bool
}

func (p BlockResolvedPayload) Template() string { return "block_resolved" }
func (p BlockResolvedPayload) sealed()          {}

func (p BlockResolvedPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.SessionID) == "":
		return invalid(p.Template(), "session id")
	case strings.TrimSpace(p.BlockID) == "":
		return invalid(p.Template(), "block id")
	}
	return nil
}

// PausedPayload reports a voluntary suspension.
type PausedPayload struct {
	SessionID string
	Reason    string
}

func (p PausedPayload) Template() string { return "paused" }
func (p PausedPayload) sealed()          {}

func (p PausedPayload) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return invalid(p.Template(), "session id")
	}
	return nil
}

// ResumedPayload reports work picking back up.
type ResumedPayload struct {
	SessionID string
}

func (p ResumedPayload) Template() string { return "resumed" }
func (p ResumedPayload) sealed()          {}

func (p ResumedPayload) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return invalid(p.Template(), "session id")
	}
	return nil
}

// CompletedPayload reports a finished session, including any blocks
// that were still open at completion time.
type CompletedPayload struct {
	SessionID        string
	ExternalRef      string
	Summary          string
	Duration         time.Duration
	OpenBlockReasons []string
}

func (p CompletedPayload) Template() string { return "completed" }
func (p CompletedPayload) sealed()          {}

func (p CompletedPayload) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return invalid(p.Template(), "session id")
	}
	return nil
}

// CancelledPayload reports an abandoned session.
type CancelledPayload struct {
	SessionID string
	Reason    string
}

func (p CancelledPayload) Template() string { return "cancelled" }
func (p CancelledPayload) sealed()          {}

func (p CancelledPayload) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return invalid(p.Template(), "session id")
	}
	return nil
}
