package domain

// Transition identifies a guarded lifecycle transition.
type Transition string

const (
	TransitionStart        Transition = "start"
	TransitionUpdate       Transition = "update"
	TransitionReportBlock  Transition = "report_block"
	TransitionResolveBlock Transition = "resolve_block"
	TransitionPause        Transition = "pause"
	TransitionResume       Transition = "resume"
	TransitionComplete     Transition = "complete"
	TransitionCancel       Transition = "cancel"
	TransitionLinkThread   Transition = "link_thread"
)

// transitionSources maps each transition to the statuses it may start from.
// TransitionStart is absent: it creates the session and has no source status.
var transitionSources = map[Transition][]Status{
	TransitionUpdate:       {StatusInProgress, StatusBlocked, StatusPaused},
	TransitionReportBlock:  {StatusInProgress},
	TransitionResolveBlock: {StatusBlocked},
	TransitionPause:        {StatusInProgress, StatusBlocked},
	TransitionResume:       {StatusPaused},
	TransitionComplete:     {StatusInProgress, StatusBlocked, StatusPaused},
	TransitionCancel:       {StatusInProgress, StatusBlocked, StatusPaused},
	TransitionLinkThread:   {StatusInProgress, StatusBlocked, StatusPaused},
}

// AllowedFrom returns the statuses tr may be applied from.
// The returned slice must not be mutated.
func AllowedFrom(tr Transition) []Status {
	return transitionSources[tr]
}

// CanTransition reports whether tr is legal from the given status.
func CanTransition(tr Transition, from Status) bool {
	for _, status := range transitionSources[tr] {
		if status == from {
			return true
		}
	}
	return false
}

// KindForTransition returns the event kind a transition appends.
func KindForTransition(tr Transition) EventKind {
	switch tr {
	case TransitionStart:
		return EventKindStarted
	case TransitionUpdate:
		return EventKindUpdated
	case TransitionReportBlock:
		return EventKindBlocked
	case TransitionResolveBlock:
		return EventKindBlockResolved
	case TransitionPause:
		return EventKindPaused
	case TransitionResume:
		return EventKindResumed
	case TransitionComplete:
		return EventKindCompleted
	case TransitionCancel:
		return EventKindCancelled
	case TransitionLinkThread:
		return EventKindThreadLinked
	default:
		return ""
	}
}
