package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/notify"
	"github.com/taskmirror/taskmirror/internal/plan"
	apperrors "github.com/taskmirror/taskmirror/internal/platform/errors"
	"github.com/taskmirror/taskmirror/internal/tracker/domain"
	"github.com/taskmirror/taskmirror/internal/tracker/storage"
)

// fakeStore is an in-memory storage.Store mirroring the transition
// semantics the contract requires: scope checks, status guards, and
// per-session version assignment.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[string]domain.TaskSession
	events      map[string][]domain.Event
	blocks      map[string][]domain.BlockReport
	completions map[string]domain.Completion
	subscribed  map[string]bool
	failWith    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[string]domain.TaskSession),
		events:      make(map[string][]domain.Event),
		blocks:      make(map[string][]domain.BlockReport),
		completions: make(map[string]domain.Completion),
		subscribed:  make(map[string]bool),
	}
}

func (f *fakeStore) inScope(session domain.TaskSession, scope storage.Scope) bool {
	if session.WorkspaceID != scope.WorkspaceID {
		return false
	}
	return scope.UserID == "" || session.UserID == scope.UserID
}

func (f *fakeStore) CreateSession(ctx context.Context, session domain.TaskSession, startEvent domain.Event) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return domain.Event{}, f.failWith
	}
	f.sessions[session.ID] = session
	startEvent.SessionID = session.ID
	startEvent.Version = 0
	f.events[session.ID] = []domain.Event{startEvent}
	return startEvent, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, req storage.TransitionRequest) (storage.TransitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return storage.TransitionResult{}, f.failWith
	}

	session, ok := f.sessions[req.SessionID]
	if !ok || !f.inScope(session, req.Scope) {
		return storage.TransitionResult{}, storage.ErrNotFound
	}

	allowed := false
	for _, status := range req.AllowedFrom {
		if session.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return storage.TransitionResult{}, &storage.InvalidStatusError{Current: session.Status}
	}

	result := storage.TransitionResult{}
	if req.ResolveBlockID != "" {
		found := false
		for i, block := range f.blocks[req.SessionID] {
			if block.ID == req.ResolveBlockID && block.Open() {
				resolvedAt := req.Event.CreatedAt
				f.blocks[req.SessionID][i].ResolvedAt = &resolvedAt
				resolved := f.blocks[req.SessionID][i]
				result.ResolvedBlock = &resolved
				found = true
				break
			}
		}
		if !found {
			return storage.TransitionResult{}, storage.ErrBlockNotFound
		}
	}
	if req.OpenBlock != nil {
		for _, block := range f.blocks[req.SessionID] {
			if block.Open() {
				return storage.TransitionResult{}, storage.ErrOpenBlockExists
			}
		}
		f.blocks[req.SessionID] = append(f.blocks[req.SessionID], *req.OpenBlock)
	}
	if req.Completion != nil {
		if _, exists := f.completions[req.SessionID]; exists {
			return storage.TransitionResult{}, storage.ErrConflict
		}
		f.completions[req.SessionID] = *req.Completion
	}

	for _, block := range f.blocks[req.SessionID] {
		if block.Open() {
			result.OpenBlocks = append(result.OpenBlocks, block)
		}
	}

	if req.NewStatus != domain.StatusUnspecified {
		if !req.ConditionalOnNoOpenBlocks || len(result.OpenBlocks) == 0 {
			session.Status = req.NewStatus
		}
	}
	if req.SetPausedAt != nil {
		at := *req.SetPausedAt
		session.PausedAt = &at
	}
	if req.ClearPausedAt {
		session.PausedAt = nil
	}
	if req.SetResumedAt != nil {
		at := *req.SetResumedAt
		session.ResumedAt = &at
	}
	session.UpdatedAt = req.Event.CreatedAt

	event := req.Event
	event.SessionID = req.SessionID
	event.Version = int64(len(f.events[req.SessionID]))
	f.events[req.SessionID] = append(f.events[req.SessionID], event)
	f.sessions[req.SessionID] = session

	result.Session = session
	result.Event = event
	return result, nil
}

func (f *fakeStore) GetSession(ctx context.Context, scope storage.Scope, sessionID string) (domain.TaskSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || !f.inScope(session, scope) {
		return domain.TaskSession{}, storage.ErrNotFound
	}
	return session, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, req storage.ListSessionsRequest) ([]domain.TaskSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TaskSession
	for _, session := range f.sessions {
		if !f.inScope(session, req.Scope) {
			continue
		}
		if req.Status != domain.StatusUnspecified && session.Status != req.Status {
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

func (f *fakeStore) ListEvents(ctx context.Context, req storage.ListEventsRequest) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[req.SessionID]
	if !ok || !f.inScope(session, req.Scope) {
		return nil, storage.ErrNotFound
	}
	var out []domain.Event
	for i := len(f.events[req.SessionID]) - 1; i >= 0; i-- {
		event := f.events[req.SessionID][i]
		if !req.IncludeTechnical && event.Kind.IsTechnical() {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (f *fakeStore) ListOpenBlocks(ctx context.Context, sessionID string) ([]domain.BlockReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlockReport
	for _, block := range f.blocks[sessionID] {
		if block.Open() {
			out = append(out, block)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCompletion(ctx context.Context, sessionID string) (domain.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	completion, ok := f.completions[sessionID]
	if !ok {
		return domain.Completion{}, storage.ErrNotFound
	}
	return completion, nil
}

func (f *fakeStore) CountSessionsByUser(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessions {
		if session.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[userID], nil
}

// fakeDispatcher records dispatched payloads.
type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []notify.Payload
	receipt  notify.Receipt
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, payload notify.Payload) (notify.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return notify.Receipt{}, f.err
	}
	f.payloads = append(f.payloads, payload)
	return f.receipt, nil
}

func (f *fakeDispatcher) last() notify.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

func fixedClock() func() time.Time {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func sequentialIDs(prefix string) func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

var testEngineScope = Scope{WorkspaceID: "ws-1", UserID: "user-1"}

func newTestEngine(t *testing.T, store *fakeStore, dispatcher notify.Dispatcher) *Engine {
	t.Helper()
	engine, err := New(Config{
		Store:      store,
		Guard:      plan.NewGuard(store),
		Dispatcher: dispatcher,
		Clock:      fixedClock(),
		NewID:      sequentialIDs("id"),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func startSession(t *testing.T, engine *Engine) Result {
	t.Helper()
	result, err := engine.Start(context.Background(), testEngineScope, StartInput{
		Issue:          domain.IssueRef{Provider: domain.IssueProviderManual, Title: "X"},
		InitialSummary: "begin",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return result
}

func TestStartCreatesSessionWithStartedEvent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	dispatcher := &fakeDispatcher{receipt: notify.Receipt{MessageID: "msg-1", ThreadID: "th-1"}}
	engine := newTestEngine(t, store, dispatcher)

	result := startSession(t, engine)
	if result.Session.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want %q", result.Session.Status, domain.StatusInProgress)
	}
	if result.Receipt == nil || result.Receipt.ThreadID != "th-1" {
		t.Fatalf("receipt = %+v", result.Receipt)
	}

	events := store.events[result.Session.ID]
	if len(events) != 2 {
		t.Fatalf("expected started + thread_linked events, got %d", len(events))
	}
	if events[0].Kind != domain.EventKindStarted || events[0].Version != 0 {
		t.Fatalf("first event = %s v%d", events[0].Kind, events[0].Version)
	}
	// The receipt carried a thread id, so the engine linked it.
	if events[1].Kind != domain.EventKindThreadLinked || events[1].Version != 1 {
		t.Fatalf("second event = %s v%d", events[1].Kind, events[1].Version)
	}

	payload, ok := dispatcher.payloads[0].(notify.StartedPayload)
	if !ok {
		t.Fatalf("payload type = %T", dispatcher.payloads[0])
	}
	if payload.Issue.Title != "X" || payload.UserDisplayName != "user-1" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestStartEnforcesPlanLimit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, store, nil)

	for i := 0; i < plan.FreeTierLimit; i++ {
		startSession(t, engine)
	}
	_, err := engine.Start(context.Background(), testEngineScope, StartInput{
		Issue: domain.IssueRef{Provider: domain.IssueProviderManual, Title: "one too many"},
	})
	if got := apperrors.CodeOf(err); got != apperrors.CodePlanLimitExceeded {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodePlanLimitExceeded)
	}

	// A subscriber is exempt from the ceiling.
	store.subscribed["user-2"] = true
	subscriberScope := Scope{WorkspaceID: "ws-1", UserID: "user-2"}
	for i := 0; i < plan.FreeTierLimit+2; i++ {
		if _, err := engine.Start(context.Background(), subscriberScope, StartInput{
			Issue: domain.IssueRef{Provider: domain.IssueProviderManual, Title: "X"},
		}); err != nil {
			t.Fatalf("subscriber start %d: %v", i, err)
		}
	}
}

func TestStartSucceedsWhenDispatchFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	dispatcher := &fakeDispatcher{err: errors.New("webhook down")}
	engine := newTestEngine(t, store, dispatcher)

	result := startSession(t, engine)
	if result.Receipt != nil {
		t.Fatalf("receipt = %+v, want nil", result.Receipt)
	}
	if _, ok := store.sessions[result.Session.ID]; !ok {
		t.Fatal("session must be committed despite dispatch failure")
	}
}

func TestUpdateRequiresSummary(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeStore(), nil)
	result := startSession(t, engine)

	_, err := engine.Update(context.Background(), testEngineScope, result.Session.ID, "  ")
	if got := apperrors.CodeOf(err); got != apperrors.CodeUpdateEmptySummary {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeUpdateEmptySummary)
	}
}

func TestUpdateKeepsStatus(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, store, dispatcher)
	started := startSession(t, engine)

	result, err := engine.Update(context.Background(), testEngineScope, started.Session.ID, "half done")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Session.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want unchanged in_progress", result.Session.Status)
	}
	payload, ok := dispatcher.last().(notify.UpdatedPayload)
	if !ok || payload.Summary != "half done" {
		t.Fatalf("payload = %#v", dispatcher.last())
	}
}

func TestReportBlockThenResolveReturnsToInProgress(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeStore(), nil)
	started := startSession(t, engine)

	blocked, err := engine.ReportBlock(context.Background(), testEngineScope, started.Session.ID, "waiting on review")
	if err != nil {
		t.Fatalf("report block: %v", err)
	}
	if blocked.Session.Status != domain.StatusBlocked {
		t.Fatalf("status = %q, want %q", blocked.Session.Status, domain.StatusBlocked)
	}
	if len(blocked.OpenBlocks) != 1 {
		t.Fatalf("open blocks = %d, want 1", len(blocked.OpenBlocks))
	}

	resolved, err := engine.ResolveBlock(context.Background(), testEngineScope, started.Session.ID, blocked.OpenBlocks[0].ID, "review landed")
	if err != nil {
		t.Fatalf("resolve block: %v", err)
	}
	if resolved.Session.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want %q", resolved.Session.Status, domain.StatusInProgress)
	}
	if len(resolved.OpenBlocks) != 0 {
		t.Fatalf("open blocks after resolve = %d, want 0", len(resolved.OpenBlocks))
	}
}

func TestResolveUnknownBlockIsNotFound(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, store, nil)
	started := startSession(t, engine)

	if _, err := engine.ReportBlock(context.Background(), testEngineScope, started.Session.ID, "r1"); err != nil {
		t.Fatalf("report block: %v", err)
	}
	before := len(store.events[started.Session.ID])

	_, err := engine.ResolveBlock(context.Background(), testEngineScope, started.Session.ID, "no-such-block", "")
	if got := apperrors.CodeOf(err); got != apperrors.CodeBlockNotFound {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeBlockNotFound)
	}
	if got := len(store.events[started.Session.ID]); got != before {
		t.Fatalf("event count changed on failed resolve: %d -> %d", before, got)
	}
}

func TestPauseFromPausedIsInvalidState(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeStore(), nil)
	started := startSession(t, engine)

	if _, err := engine.Pause(context.Background(), testEngineScope, started.Session.ID, "lunch"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err := engine.Pause(context.Background(), testEngineScope, started.Session.ID, "again")
	if got := apperrors.CodeOf(err); got != apperrors.CodeSessionInvalidState {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeSessionInvalidState)
	}
}

func TestResumeClearsPause(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeStore(), nil)
	started := startSession(t, engine)

	paused, err := engine.Pause(context.Background(), testEngineScope, started.Session.ID, "lunch")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Session.PausedAt == nil {
		t.Fatal("expected paused_at to be set")
	}

	resumed, err := engine.Resume(context.Background(), testEngineScope, started.Session.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Session.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want %q", resumed.Session.Status, domain.StatusInProgress)
	}
	if resumed.Session.PausedAt != nil {
		t.Fatal("expected paused_at to be cleared")
	}
	if resumed.Session.ResumedAt == nil {
		t.Fatal("expected resumed_at to be set")
	}
}

func TestCompleteSucceedsWithOpenBlocks(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{}
	engine := newTestEngine(t, newFakeStore(), dispatcher)
	started := startSession(t, engine)

	if _, err := engine.ReportBlock(context.Background(), testEngineScope, started.Session.ID, "r1"); err != nil {
		t.Fatalf("report block: %v", err)
	}
	result, err := engine.Complete(context.Background(), testEngineScope, started.Session.ID, "https://example.com/pr/1", "done")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Session.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want %q", result.Session.Status, domain.StatusCompleted)
	}
	if len(result.OpenBlocks) != 1 || result.OpenBlocks[0].Reason != "r1" {
		t.Fatalf("open blocks = %+v, want one with reason r1", result.OpenBlocks)
	}
	if result.OpenBlocks[0].CreatedAt.IsZero() {
		t.Fatal("open block must carry its creation time")
	}

	payload, ok := dispatcher.last().(notify.CompletedPayload)
	if !ok {
		t.Fatalf("payload type = %T", dispatcher.last())
	}
	if len(payload.OpenBlockReasons) != 1 || payload.OpenBlockReasons[0] != "r1" {
		t.Fatalf("payload open blocks = %v", payload.OpenBlockReasons)
	}
	if payload.Duration <= 0 {
		t.Fatalf("duration = %v, want > 0", payload.Duration)
	}
}

func TestCompletedSessionIsTerminal(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeStore(), nil)
	started := startSession(t, engine)

	if _, err := engine.Complete(context.Background(), testEngineScope, started.Session.ID, "", "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := engine.Cancel(context.Background(), testEngineScope, started.Session.ID, "")
	if got := apperrors.CodeOf(err); got != apperrors.CodeSessionInvalidState {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeSessionInvalidState)
	}
}

func TestScopeMismatchBehavesAsNotFound(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeStore(), nil)
	started := startSession(t, engine)

	foreign := Scope{WorkspaceID: "ws-2", UserID: "user-1"}
	_, err := engine.Update(context.Background(), foreign, started.Session.ID, "sneaky")
	if got := apperrors.CodeOf(err); got != apperrors.CodeSessionNotFound {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeSessionNotFound)
	}

	if _, err := engine.Get(context.Background(), foreign, started.Session.ID); apperrors.CodeOf(err) != apperrors.CodeSessionNotFound {
		t.Fatalf("get out of scope: %v", err)
	}
}

func TestStorageFailureIsWrapped(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, store, nil)
	started := startSession(t, engine)

	store.failWith = errors.New("disk gone")
	_, err := engine.Update(context.Background(), testEngineScope, started.Session.ID, "x")
	if got := apperrors.CodeOf(err); got != apperrors.CodeStorageFailure {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeStorageFailure)
	}
}

func TestConcurrentWriteConflictMapsToConflict(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, store, nil)
	started := startSession(t, engine)

	store.failWith = storage.ErrConflict
	_, err := engine.Update(context.Background(), testEngineScope, started.Session.ID, "x")
	if got := apperrors.CodeOf(err); got != apperrors.CodeStorageConflict {
		t.Fatalf("CodeOf(err) = %q, want %q", got, apperrors.CodeStorageConflict)
	}
}
