package domain

import apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"

var (
	// ErrEmptyUserID indicates a missing owning user id.
	ErrEmptyUserID = apperrors.New(apperrors.CodeSessionEmptyUser, "user id is required")
	// ErrEmptyWorkspaceID indicates a missing workspace id.
	ErrEmptyWorkspaceID = apperrors.New(apperrors.CodeSessionEmptyWorkspace, "workspace id is required")
	// ErrInvalidIssueProvider indicates an unknown issue provider.
	ErrInvalidIssueProvider = apperrors.New(apperrors.CodeIssueInvalidProvider, "issue provider must be external-tracker or manual")
	// ErrEmptyIssueTitle indicates a missing issue title.
	ErrEmptyIssueTitle = apperrors.New(apperrors.CodeIssueEmptyTitle, "issue title is required")
)
