package notify

import (
	"fmt"

	"github.com/taskmirror/taskmirror/internal/tracker/domain"
)

// TransitionView is the committed state a projection reads from. It is
// a snapshot: projecting never touches storage.
type TransitionView struct {
	Session         domain.TaskSession
	Event           domain.Event
	ResolvedBlock   *domain.BlockReport
	OpenBlocks      []domain.BlockReport
	Completion      *domain.Completion
	UserDisplayName string
}

// Project maps a committed transition to its notification payload. It
// returns a nil payload for technical event kinds, which carry no
// notification template.
func Project(view TransitionView) (Payload, error) {
	if view.Event.Kind.IsTechnical() {
		return nil, nil
	}

	switch view.Event.Kind {
	case domain.EventKindStarted:
		return StartedPayload{
			SessionID:       view.Session.ID,
			WorkspaceID:     view.Session.WorkspaceID,
			Issue:           view.Session.Issue,
			Summary:         view.Session.InitialSummary,
			UserDisplayName: view.UserDisplayName,
		}, nil
	case domain.EventKindUpdated:
		return UpdatedPayload{
			SessionID: view.Session.ID,
			Summary:   view.Event.Summary,
		}, nil
	case domain.EventKindBlocked:
		var blockID string
		if len(view.OpenBlocks) > 0 {
			blockID = view.OpenBlocks[len(view.OpenBlocks)-1].ID
		}
		return BlockedPayload{
			SessionID: view.Session.ID,
			BlockID:   blockID,
			Reason:    view.Event.Reason,
		}, nil
	case domain.EventKindBlockResolved:
		var blockID string
		if view.ResolvedBlock != nil {
			blockID = view.ResolvedBlock.ID
		}
		return BlockResolvedPayload{
			SessionID:    view.Session.ID,
			BlockID:      blockID,
			Resolution:   view.Event.Summary,
			StillBlocked: len(view.OpenBlocks) > 0,
		}, nil
	case domain.EventKindPaused:
		return PausedPayload{
			SessionID: view.Session.ID,
			Reason:    view.Event.Reason,
		}, nil
	case domain.EventKindResumed:
		return ResumedPayload{SessionID: view.Session.ID}, nil
	case domain.EventKindCompleted:
		payload := CompletedPayload{
			SessionID: view.Session.ID,
			Summary:   view.Event.Summary,
		}
		if view.Completion != nil {
			payload.ExternalRef = view.Completion.ExternalRef
			payload.Duration = view.Completion.CreatedAt.Sub(view.Session.CreatedAt)
		}
		for _, block := range view.OpenBlocks {
			payload.OpenBlockReasons = append(payload.OpenBlockReasons, block.Reason)
		}
		return payload, nil
	case domain.EventKindCancelled:
		return CancelledPayload{
			SessionID: view.Session.ID,
			Reason:    view.Event.Reason,
		}, nil
	default:
		return nil, fmt.Errorf("no notification template for event kind %q", view.Event.Kind)
	}
}
