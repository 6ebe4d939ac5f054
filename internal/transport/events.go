package transport

import "strings"

// Server event types carried on the realtime socket. The values match the
// wire protocol's "type" field verbatim.
const (
	EventResponseCreated      = "response.created"
	EventAudioDelta           = "response.audio.delta"
	EventTranscriptDelta      = "response.audio_transcript.delta"
	EventTranscriptDone       = "response.audio_transcript.done"
	EventInputTranscriptDelta = "conversation.item.input_audio_transcription.delta"
	EventInputTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	EventResponseDone         = "response.done"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventError                = "error"
	EventInterrupt            = "interrupt"

	// EventNetworkError is synthesized locally when the socket read fails or
	// the connection closes unexpectedly. It never appears on the wire; it
	// exists so a consumer waiting on a response resolves instead of hanging.
	EventNetworkError = "network.error"
)

// Event is one inbound occurrence on the realtime socket, either parsed from
// a server frame or synthesized by the transport itself.
type Event struct {
	// Type is one of the Event* constants.
	Type string

	// Delta carries the base64-encoded PCM chunk of a response.audio.delta
	// event. It stays encoded here; the playback accumulator owns decoding.
	Delta string

	// Text carries transcript content: the incremental fragment for delta
	// events, the full transcript for done/completed events.
	Text string

	// ErrorMessage is the server-reported message of an error event, or the
	// underlying failure description of a synthesized network.error.
	ErrorMessage string

	// Err is the underlying error of a synthesized network.error event.
	Err error
}

// IsModeration reports whether an error event represents a server-side
// content-moderation rejection. Moderation rejections are user-visible and
// must never be retried.
func (e Event) IsModeration() bool {
	if e.Type != EventError {
		return false
	}
	msg := strings.ToLower(e.ErrorMessage)
	return strings.Contains(msg, "content_filter") || strings.Contains(msg, "filtered")
}
