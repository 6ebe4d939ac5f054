// Package call ties the pipeline together: it owns the call lifecycle
// state machine, routes the first exchange through the single-shot voice
// endpoint, then switches to the realtime socket for streaming turns while
// reconciling transcripts for both sides of the conversation.
package call

// Status is the call lifecycle state.
type Status int

const (
	// StatusDisconnected means no call is active.
	StatusDisconnected Status = iota

	// StatusConnecting means a call is starting up.
	StatusConnecting

	// StatusFirstExchange means the call is live but the first turn has not
	// completed; utterances go through the single-shot endpoint, which runs
	// the heavier safety pass.
	StatusFirstExchange

	// StatusRealtime means the persistent socket is open and turns stream.
	StatusRealtime
)

// String implements [fmt.Stringer].
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusFirstExchange:
		return "first_exchange"
	case StatusRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// session is the per-call mutable state. It is owned exclusively by the
// orchestrator and guarded by its mutex.
type session struct {
	status Status

	// firstExchangeDone flips when the first single-shot turn completes and
	// the call may stream.
	firstExchangeDone bool

	// pendingAssistantID is the placeholder message patched by streaming
	// transcript deltas, replaced outright on a moderation rejection.
	pendingAssistantID string
	assistantPartial   string

	// pendingUserID accumulates the streaming user-side transcript.
	pendingUserID string
	userPartial   string
}

func (s *session) resetTranscripts() {
	s.pendingAssistantID = ""
	s.assistantPartial = ""
	s.pendingUserID = ""
	s.userPartial = ""
}
