package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/taskmirror/taskmirror/internal/notify"
	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/query"
	"github.com/taskmirror/taskmirror/internal/tracker/service"
)

// Scope headers. Authentication happens upstream; these carry the
// already-authenticated identity.
const (
	headerWorkspaceID = "X-Workspace-ID"
	headerUserID      = "X-User-ID"
)

// Handler exposes the engine and query layer as a JSON API.
type Handler struct {
	engine  *service.Engine
	queries *query.Service
}

// NewHandler creates the HTTP handler.
func NewHandler(engine *service.Engine, queries *query.Service) *Handler {
	return &Handler{engine: engine, queries: queries}
}

// routes wires one route per engine operation plus the read side.
func (h *Handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", h.handleStart)
	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.handleListEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/blocks", h.handleListOpenBlocks)
	mux.HandleFunc("POST /v1/sessions/{id}/update", h.handleUpdate)
	mux.HandleFunc("POST /v1/sessions/{id}/block", h.handleReportBlock)
	mux.HandleFunc("POST /v1/sessions/{id}/resolve-block", h.handleResolveBlock)
	mux.HandleFunc("POST /v1/sessions/{id}/pause", h.handlePause)
	mux.HandleFunc("POST /v1/sessions/{id}/resume", h.handleResume)
	mux.HandleFunc("POST /v1/sessions/{id}/complete", h.handleComplete)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /v1/sessions/{id}/thread", h.handleLinkThread)
	return mux
}

func scopeFrom(r *http.Request) service.Scope {
	return service.Scope{
		WorkspaceID: r.Header.Get(headerWorkspaceID),
		UserID:      r.Header.Get(headerUserID),
	}
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError converts the typed error taxonomy into a JSON response
// without leaking internal storage details.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(apperrors.CodeUnknown, "internal error", err)
	}
	writeJSON(w, appErr.Code.HTTPStatus(), struct {
		Error errorBody `json:"error"`
	}{errorBody{
		Code:     string(appErr.Code),
		Message:  appErr.Message,
		Metadata: appErr.Metadata,
	}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, struct {
			Error errorBody `json:"error"`
		}{errorBody{Code: string(apperrors.CodeUnknown), Message: "malformed request body"}})
		return false
	}
	return true
}

type sessionBody struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	WorkspaceID    string `json:"workspace_id"`
	IssueProvider  string `json:"issue_provider"`
	IssueID        string `json:"issue_id,omitempty"`
	IssueTitle     string `json:"issue_title"`
	InitialSummary string `json:"initial_summary,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	PausedAt       string `json:"paused_at,omitempty"`
	ResumedAt      string `json:"resumed_at,omitempty"`
	DurationMillis *int64 `json:"duration_ms,omitempty"`
}

func toSessionBody(session domain.TaskSession) sessionBody {
	body := sessionBody{
		ID:             session.ID,
		UserID:         session.UserID,
		WorkspaceID:    session.WorkspaceID,
		IssueProvider:  string(session.Issue.Provider),
		IssueID:        session.Issue.ExternalID,
		IssueTitle:     session.Issue.Title,
		InitialSummary: session.InitialSummary,
		Status:         string(session.Status),
		CreatedAt:      session.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      session.UpdatedAt.Format(time.RFC3339),
	}
	if session.PausedAt != nil {
		body.PausedAt = session.PausedAt.Format(time.RFC3339)
	}
	if session.ResumedAt != nil {
		body.ResumedAt = session.ResumedAt.Format(time.RFC3339)
	}
	return body
}

type eventBody struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Version    int64           `json:"version"`
	Summary    string          `json:"summary,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RawContext json.RawMessage `json:"raw_context,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func toEventBody(event domain.Event) eventBody {
	return eventBody{
		ID:         event.ID,
		Kind:       string(event.Kind),
		Version:    event.Version,
		Summary:    event.Summary,
		Reason:     event.Reason,
		RawContext: event.RawContext,
		CreatedAt:  event.CreatedAt.Format(time.RFC3339),
	}
}

type blockBody struct {
	ID         string `json:"id"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

func toBlockBody(block domain.BlockReport) blockBody {
	body := blockBody{
		ID:        block.ID,
		Reason:    block.Reason,
		CreatedAt: block.CreatedAt.Format(time.RFC3339),
	}
	if block.ResolvedAt != nil {
		body.ResolvedAt = block.ResolvedAt.Format(time.RFC3339)
	}
	return body
}

type resultBody struct {
	Session    sessionBody  `json:"session"`
	EventID    string       `json:"event_id"`
	OpenBlocks []blockBody  `json:"open_blocks,omitempty"`
	Receipt    *receiptBody `json:"receipt,omitempty"`
}

type receiptBody struct {
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

func toResultBody(result service.Result) resultBody {
	body := resultBody{
		Session: toSessionBody(result.Session),
		EventID: result.EventID,
	}
	for _, block := range result.OpenBlocks {
		body.OpenBlocks = append(body.OpenBlocks, toBlockBody(block))
	}
	if result.Receipt != nil {
		body.Receipt = toReceiptBody(*result.Receipt)
	}
	return body
}

func toReceiptBody(receipt notify.Receipt) *receiptBody {
	if receipt == (notify.Receipt{}) {
		return nil
	}
	return &receiptBody{MessageID: receipt.MessageID, ThreadID: receipt.ThreadID}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssueProvider   string `json:"issue_provider"`
		IssueID         string `json:"issue_id"`
		IssueTitle      string `json:"issue_title"`
		InitialSummary  string `json:"initial_summary"`
		UserDisplayName string `json:"user_display_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.Start(r.Context(), scopeFrom(r), service.StartInput{
		Issue: domain.IssueRef{
			Provider:   domain.IssueProvider(req.IssueProvider),
			ExternalID: req.IssueID,
			Title:      req.IssueTitle,
		},
		InitialSummary:  req.InitialSummary,
		UserDisplayName: req.UserDisplayName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultBody(result))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Get(r.Context(), scopeFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionBody(session))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary string `json:"summary"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.Update(r.Context(), scopeFrom(r), r.PathValue("id"), req.Summary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleReportBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.ReportBlock(r.Context(), scopeFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleResolveBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlockID    string `json:"block_id"`
		Resolution string `json:"resolution"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.ResolveBlock(r.Context(), scopeFrom(r), r.PathValue("id"), req.BlockID, req.Resolution)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.Pause(r.Context(), scopeFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Resume(r.Context(), scopeFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalRef string `json:"external_ref"`
		Summary     string `json:"summary"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.Complete(r.Context(), scopeFrom(r), r.PathValue("id"), req.ExternalRef, req.Summary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.Cancel(r.Context(), scopeFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleLinkThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID  string `json:"thread_id"`
		MessageID string `json:"message_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.engine.LinkThread(r.Context(), scopeFrom(r), r.PathValue("id"), req.ThreadID, req.MessageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultBody(result))
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	views, err := h.queries.ListSessions(r.Context(), query.ListSessionsRequest{
		Scope:  query.Scope{WorkspaceID: scope.WorkspaceID, UserID: scope.UserID},
		Status: domain.Status(r.URL.Query().Get("status")),
		Limit:  intQuery(r, "limit"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	bodies := make([]sessionBody, 0, len(views))
	for _, view := range views {
		body := toSessionBody(view.TaskSession)
		if view.Duration != nil {
			millis := view.Duration.Milliseconds()
			body.DurationMillis = &millis
		}
		bodies = append(bodies, body)
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []sessionBody `json:"sessions"`
	}{bodies})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	events, err := h.queries.ListEvents(r.Context(), query.ListEventsRequest{
		Scope:            query.Scope{WorkspaceID: scope.WorkspaceID, UserID: scope.UserID},
		SessionID:        r.PathValue("id"),
		Limit:            intQuery(r, "limit"),
		IncludeTechnical: r.URL.Query().Get("include_technical") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}

	bodies := make([]eventBody, 0, len(events))
	for _, event := range events {
		bodies = append(bodies, toEventBody(event))
	}
	writeJSON(w, http.StatusOK, struct {
		Events []eventBody `json:"events"`
	}{bodies})
}

func (h *Handler) handleListOpenBlocks(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	blocks, err := h.queries.ListOpenBlocks(r.Context(),
		query.Scope{WorkspaceID: scope.WorkspaceID, UserID: scope.UserID}, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	bodies := make([]blockBody, 0, len(blocks))
	for _, block := range blocks {
		bodies = append(bodies, toBlockBody(block))
	}
	writeJSON(w, http.StatusOK, struct {
		Blocks []blockBody `json:"blocks"`
	}{bodies})
}

func intQuery(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
