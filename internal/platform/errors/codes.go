// Package errors provides structured error handling for the tracker service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeSessionInvalidState   Code = "SESSION_INVALID_STATE"
	CodeSessionEmptyWorkspace Code = "SESSION_EMPTY_WORKSPACE_ID"
	CodeSessionEmptyUser      Code = "SESSION_EMPTY_USER_ID"
	CodeSessionEmptyID        Code = "SESSION_EMPTY_SESSION_ID"
	CodeIssueInvalidProvider  Code = "ISSUE_INVALID_PROVIDER"
	CodeIssueEmptyTitle       Code = "ISSUE_EMPTY_TITLE"
	CodeUpdateEmptySummary    Code = "UPDATE_EMPTY_SUMMARY"

	// Block errors
	CodeBlockNotFound    Code = "BLOCK_NOT_FOUND"
	CodeBlockEmptyReason Code = "BLOCK_EMPTY_REASON"
	CodeBlockEmptyID     Code = "BLOCK_EMPTY_BLOCK_ID"
	CodeBlockAlreadyOpen Code = "BLOCK_ALREADY_OPEN"

	// Pause errors
	CodePauseEmptyReason Code = "PAUSE_EMPTY_REASON"

	// Plan errors
	CodePlanLimitExceeded Code = "PLAN_LIMIT_EXCEEDED"

	// Storage errors
	CodeStorageConflict Code = "STORAGE_CONFLICT"
	CodeStorageFailure  Code = "STORAGE_FAILURE"

	// Notification errors
	CodeNotificationInvalid Code = "NOTIFICATION_INVALID_PAYLOAD"
)

// HTTPStatus maps domain codes to HTTP status codes for the API surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSessionEmptyWorkspace,
		CodeSessionEmptyUser,
		CodeSessionEmptyID,
		CodeIssueInvalidProvider,
		CodeIssueEmptyTitle,
		CodeUpdateEmptySummary,
		CodeBlockEmptyReason,
		CodeBlockEmptyID,
		CodePauseEmptyReason,
		CodeNotificationInvalid:
		return http.StatusBadRequest

	case CodeSessionNotFound, CodeBlockNotFound:
		return http.StatusNotFound

	case CodeSessionInvalidState, CodeBlockAlreadyOpen, CodeStorageConflict:
		return http.StatusConflict

	case CodePlanLimitExceeded:
		return http.StatusPaymentRequired

	case CodeStorageFailure, CodeUnknown:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
