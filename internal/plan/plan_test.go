package plan

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
)

type fakeQuota struct {
	subscribed bool
	count      int
	err        error
}

func (f *fakeQuota) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	return f.subscribed, f.err
}

func (f *fakeQuota) CountSessionsByUser(ctx context.Context, userID string) (int, error) {
	return f.count, f.err
}

func TestCheckCreate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		quota    fakeQuota
		wantCode apperrors.Code
	}{
		{name: "under limit", quota: fakeQuota{count: FreeTierLimit - 1}},
		{name: "at limit", quota: fakeQuota{count: FreeTierLimit}, wantCode: apperrors.CodePlanLimitExceeded},
		{name: "over limit", quota: fakeQuota{count: FreeTierLimit + 3}, wantCode: apperrors.CodePlanLimitExceeded},
		{name: "subscriber over limit", quota: fakeQuota{subscribed: true, count: FreeTierLimit + 3}},
		{name: "storage error", quota: fakeQuota{err: errors.New("disk gone")}, wantCode: apperrors.CodeStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			guard := NewGuard(&tt.quota)
			err := guard.CheckCreate(context.Background(), "user-1")
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("CheckCreate() = %v, want nil", err)
				}
				return
			}
			if got := apperrors.CodeOf(err); got != tt.wantCode {
				t.Fatalf("CodeOf(err) = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestCheckCreateLimitMetadata(t *testing.T) {
	t.Parallel()

	guard := NewGuard(&fakeQuota{count: FreeTierLimit})
	err := guard.CheckCreate(context.Background(), "user-1")

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperrors.Error, got %v", err)
	}
	if appErr.Metadata["limit"] != "5" {
		t.Fatalf("limit metadata = %q, want %q", appErr.Metadata["limit"], "5")
	}
	if appErr.Metadata["upgrade_flow"] == "" {
		t.Fatal("expected upgrade_flow metadata")
	}
}

func TestCheckCreateCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	guard := NewGuard(&fakeQuota{})
	if err := guard.CheckCreate(ctx, "user-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
