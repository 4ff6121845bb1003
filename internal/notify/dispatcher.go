package notify

import "context"

// Receipt identifies the delivered chat message.
type Receipt struct {
	MessageID string
	ThreadID  string
}

// Dispatcher delivers a payload to the external chat service. Delivery
// is best effort; callers treat an error as logged telemetry, never as
// a reason to roll back the committed transition.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload Payload) (Receipt, error)
}
