package domain

import "testing"

func TestCanTransitionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tr   Transition
		from Status
		want bool
	}{
		{TransitionUpdate, StatusInProgress, true},
		{TransitionUpdate, StatusBlocked, true},
		{TransitionUpdate, StatusPaused, true},
		{TransitionUpdate, StatusCompleted, false},
		{TransitionReportBlock, StatusInProgress, true},
		{TransitionReportBlock, StatusBlocked, false},
		{TransitionReportBlock, StatusPaused, false},
		{TransitionResolveBlock, StatusBlocked, true},
		{TransitionResolveBlock, StatusInProgress, false},
		{TransitionPause, StatusInProgress, true},
		{TransitionPause, StatusBlocked, true},
		{TransitionPause, StatusPaused, false},
		{TransitionPause, StatusCancelled, false},
		{TransitionResume, StatusPaused, true},
		{TransitionResume, StatusInProgress, false},
		{TransitionComplete, StatusInProgress, true},
		{TransitionComplete, StatusBlocked, true},
		{TransitionComplete, StatusPaused, true},
		{TransitionComplete, StatusCompleted, false},
		{TransitionCancel, StatusInProgress, true},
		{TransitionCancel, StatusBlocked, true},
		{TransitionCancel, StatusPaused, true},
		{TransitionCancel, StatusCompleted, false},
		{TransitionCancel, StatusCancelled, false},
		{TransitionLinkThread, StatusInProgress, true},
		{TransitionLinkThread, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.tr, tc.from); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.tr, tc.from, got, tc.want)
		}
	}
}

func TestKindForTransition(t *testing.T) {
	t.Parallel()

	cases := map[Transition]EventKind{
		TransitionStart:        EventKindStarted,
		TransitionUpdate:       EventKindUpdated,
		TransitionReportBlock:  EventKindBlocked,
		TransitionResolveBlock: EventKindBlockResolved,
		TransitionPause:        EventKindPaused,
		TransitionResume:       EventKindResumed,
		TransitionComplete:     EventKindCompleted,
		TransitionCancel:       EventKindCancelled,
		TransitionLinkThread:   EventKindThreadLinked,
	}
	for tr, want := range cases {
		if got := KindForTransition(tr); got != want {
			t.Fatalf("KindForTransition(%s) = %q, want %q", tr, got, want)
		}
	}
	if got := KindForTransition(Transition("bogus")); got != "" {
		t.Fatalf("expected empty kind for unknown transition, got %q", got)
	}
}

func TestEventKindClassification(t *testing.T) {
	t.Parallel()

	if !EventKindThreadLinked.IsTechnical() {
		t.Fatal("thread_linked must be technical")
	}
	for _, kind := range []EventKind{
		EventKindStarted, EventKindUpdated, EventKindBlocked, EventKindBlockResolved,
		EventKindPaused, EventKindResumed, EventKindCompleted, EventKindCancelled,
	} {
		if kind.IsTechnical() {
			t.Fatalf("%s should not be technical", kind)
		}
		if !kind.IsValid() {
			t.Fatalf("%s should be valid", kind)
		}
	}
	if EventKind("mystery").IsValid() {
		t.Fatal("unknown kind should be invalid")
	}
}
