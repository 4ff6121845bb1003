// Package plan enforces per-user session quotas.
//
// Free-tier users may hold at most FreeTierLimit task sessions; users
// with an active subscription are exempt. The check is advisory: it
// reads the current count before the session insert, so two requests
// racing past the guard can both land. The limit exists to nudge users
// toward the upgrade flow, not to meter a hard resource, so the window
// is acceptable.
package plan

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
)

// FreeTierLimit is the maximum number of task sessions a free-tier
// user may create, counting sessions in any status.
const FreeTierLimit = 5

// Quota exposes the storage lookups the guard needs.
type Quota interface {
	HasActiveSubscription(ctx context.Context, userID string) (bool, error)
	CountSessionsByUser(ctx context.Context, userID string) (int, error)
}

// Guard checks a user's session quota before session creation.
type Guard struct {
	quota Quota
	limit int
}

// NewGuard creates a guard backed by the given quota source.
func NewGuard(quota Quota) *Guard {
	return &Guard{quota: quota, limit: FreeTierLimit}
}

// CheckCreate returns a CodePlanLimitExceeded error when the user is on
// the free tier and already holds the maximum number of sessions.
func (g *Guard) CheckCreate(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g == nil || g.quota == nil {
		return fmt.Errorf("plan guard is not configured")
	}

	subscribed, err := g.quota.HasActiveSubscription(ctx, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "check subscription", err)
	}
	if subscribed {
		return nil
	}

	count, err := g.quota.CountSessionsByUser(ctx, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "count sessions", err)
	}
	if count >= g.limit {
		return apperrors.WithMetadata(apperrors.CodePlanLimitExceeded,
			fmt.Sprintf("free tier allows at most %d task sessions", g.limit),
			map[string]string{
				"limit":        strconv.Itoa(g.limit),
				"count":        strconv.Itoa(count),
				"upgrade_flow": "subscription",
			})
	}
	return nil
}
