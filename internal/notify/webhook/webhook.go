// Package webhook delivers notifications to a chat service over a
// plain HTTP webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/taskmirror/taskmirror/internal/notify"
	"github.com/taskmirror/taskmirror/internal/platform/timeouts"
)

// Dispatcher posts one JSON message per notification to a fixed
// webhook URL.
type Dispatcher struct {
	url    string
	client *http.Client
}

// New creates a dispatcher for the given webhook URL.
func New(url string) (*Dispatcher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return &Dispatcher{
		url:    url,
		client: &http.Client{Timeout: timeouts.NotifyDispatch},
	}, nil
}

// message is the wire envelope the chat service accepts.
type message struct {
	Template string          `json:"template"`
	Body     json.RawMessage `json:"body"`
}

type receiptBody struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

// Dispatch validates the payload, serializes it for its template, and
// posts it. The type switch is exhaustive over the notification
// templates; an unrecognized payload type is an error, never a silent
// drop.
func (d *Dispatcher) Dispatch(ctx context.Context, payload notify.Payload) (notify.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return notify.Receipt{}, err
	}
	if payload == nil {
		return notify.Receipt{}, fmt.Errorf("payload is required")
	}
	if err := payload.Validate(); err != nil {
		return notify.Receipt{}, err
	}

	body, err := marshalBody(payload)
	if err != nil {
		return notify.Receipt{}, err
	}
	envelope, err := json.Marshal(message{Template: payload.Template(), Body: body})
	if err != nil {
		return notify.Receipt{}, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(envelope))
	if err != nil {
		return notify.Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return notify.Receipt{}, fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return notify.Receipt{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	var receipt receiptBody
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		// Some webhook endpoints acknowledge with an empty body.
		return notify.Receipt{}, nil
	}
	return notify.Receipt{MessageID: receipt.MessageID, ThreadID: receipt.ThreadID}, nil
}

func marshalBody(payload notify.Payload) (json.RawMessage, error) {
	var body any
	switch p := payload.(type) {
	case notify.StartedPayload:
		body = struct {
			SessionID     string `json:"session_id"`
			WorkspaceID   string `json:"workspace_id"`
			IssueProvider string `json:"issue_provider"`
			IssueID       string `json:"issue_id,omitempty"`
			IssueTitle    string `json:"issue_title"`
			Summary       string `json:"summary,omitempty"`
			User          string `json:"user"`
		}{p.SessionID, p.WorkspaceID, string(p.Issue.Provider), p.Issue.ExternalID, p.Issue.Title, p.Summary, p.UserDisplayName}
	case notify.UpdatedPayload:
		body = struct {
			SessionID string `json:"session_id"`
			Summary   string `json:"summary"`
		}{p.SessionID, p.Summary}
	case notify.BlockedPayload:
		body = struct {
			SessionID string `json:"session_id"`
			BlockID   string `json:"block_id"`
			Reason    string `json:"reason"`
		}{p.SessionID, p.BlockID, p.Reason}
	case notify.BlockResolvedPayload:
		body = struct {
			SessionID    string `json:"session_id"`
			BlockID      string `json:"block_id"`
			Resolution   string `json:"resolution,omitempty"`
			StillBlocked bool   `json:"still_blocked"`
		}{p.SessionID, p.BlockID, p.Resolution, p.StillBlocked}
	case notify.PausedPayload:
		body = struct {
			SessionID string `json:"session_id"`
			Reason    string `json:"reason,omitempty"`
		}{p.SessionID, p.Reason}
	case notify.ResumedPayload:
		body = struct {
			SessionID string `json:"session_id"`
		}{p.SessionID}
	case notify.CompletedPayload:
		body = struct {
			SessionID        string   `json:"session_id"`
			ExternalRef      string   `json:"external_ref,omitempty"`
			Summary          string   `json:"summary,omitempty"`
			DurationSeconds  int64    `json:"duration_seconds,omitempty"`
			OpenBlockReasons []string `json:"open_block_reasons,omitempty"`
		}{p.SessionID, p.ExternalRef, p.Summary, int64(p.Duration.Seconds()), p.OpenBlockReasons}
	case notify.CancelledPayload:
		body = struct {
			SessionID string `json:"session_id"`
			Reason    string `json:"reason,omitempty"`
		}{p.SessionID, p.Reason}
	default:
		return nil, fmt.Errorf("unknown notification payload type %T", payload)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", payload.Template(), err)
	}
	return raw, nil
}
