// Package transport manages the persistent realtime socket to the
// conversation backend.
//
// It dials the backend's streaming endpoint, exchanges JSON events over a
// bidirectional WebSocket, and exposes the inbound side as a typed event
// channel consumed by the call orchestrator. Outbound sends are fire and
// forget: ordering is preserved but the protocol has no acknowledgement
// layer, so loss is tolerated silently.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/snehlabs/flowcall/internal/observe"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Transport.
type Option func(*Transport)

// WithMetrics sets the metrics instance used to record socket activity.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type appendAudioMessage struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"` // base64-encoded PCM or container bytes
	Format string `json:"format,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── Transport ──────────────────────────────────────────────────────────────────

// Transport is a live realtime socket connection. Create one with [Dial];
// consume inbound events from [Transport.Events]. Safe for concurrent use.
type Transport struct {
	conn    *websocket.Conn
	events  chan Event
	metrics *observe.Metrics

	mu     sync.Mutex
	closed bool

	// wmu serialises writes so capture frames and orchestrator messages
	// keep their relative send order.
	wmu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects to the backend's realtime socket at url and starts the
// receive loop. The returned Transport is ready to send immediately.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	t := &Transport{
		events:  make(chan Event, 64),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(t)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.metrics.RecordTransportError(ctx, "dial")
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	t.conn = conn
	t.ctx, t.cancel = context.WithCancel(context.Background())

	go t.receiveLoop()

	return t, nil
}

// Events returns the channel on which inbound events arrive. The channel is
// closed when the connection ends; a read failure is delivered first as a
// synthesized [EventNetworkError] event.
func (t *Transport) Events() <-chan Event { return t.events }

// AppendAudio sends a captured audio chunk to the backend. The format hint
// ("wav", "m4a") may be empty for raw PCM.
func (t *Transport) AppendAudio(audio []byte, format string) error {
	return t.writeJSON(appendAudioMessage{
		Type:   "input_audio_buffer.append",
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Format: format,
	})
}

// CommitInput signals that the appended audio forms a complete utterance.
func (t *Transport) CommitInput() error {
	return t.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the backend to start generating a response.
func (t *Transport) CreateResponse() error {
	return t.writeJSON(map[string]string{"type": "response.create"})
}

// SendText inserts a user text message into the remote conversation.
func (t *Transport) SendText(text string) error {
	return t.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (t *Transport) writeJSON(v any) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport: connection closed")
	}
	t.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.Write(t.ctx, websocket.MessageText, data); err != nil {
		t.metrics.RecordTransportError(t.ctx, "write")
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// receiveLoop reads frames from the socket and dispatches them as events.
// It owns the events channel and closes it when it exits.
func (t *Transport) receiveLoop() {
	defer t.closeEvents()

	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			// Unexpected close while the consumer may be waiting on a
			// response: synthesize a network error so it resolves.
			t.metrics.RecordTransportError(t.ctx, "read")
			t.deliver(Event{
				Type:         EventNetworkError,
				ErrorMessage: err.Error(),
				Err:          err,
			})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Malformed frames never take down the session.
			t.metrics.RecordTransportError(t.ctx, "protocol")
			slog.Debug("transport: dropping malformed frame", "err", err)
			continue
		}
		if evt.Type == "" {
			t.metrics.RecordTransportError(t.ctx, "protocol")
			slog.Debug("transport: dropping frame without type")
			continue
		}

		t.metrics.RecordTransportEvent(t.ctx, evt.Type)
		t.deliver(toEvent(&evt))
	}
}

// toEvent maps a wire frame onto the typed Event consumed upstream. Unknown
// types pass through with only Type set; the orchestrator ignores them.
func toEvent(evt *serverEvent) Event {
	out := Event{Type: evt.Type}
	switch evt.Type {
	case EventAudioDelta:
		out.Delta = evt.Delta
	case EventTranscriptDelta, EventInputTranscriptDelta:
		out.Text = evt.Delta
	case EventTranscriptDone, EventInputTranscriptDone:
		out.Text = evt.Transcript
	case EventError:
		out.ErrorMessage = "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			out.ErrorMessage = evt.Error.Message
		}
	}
	return out
}

func (t *Transport) deliver(evt Event) {
	select {
	case t.events <- evt:
	case <-t.ctx.Done():
	}
}

func (t *Transport) closeEvents() {
	t.closeOnce.Do(func() {
		close(t.events)
	})
}

// Close terminates the connection and releases all resources. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.conn.Close(websocket.StatusNormalClosure, "call ended")
	return nil
}
