package call

import (
	"sync"

	"github.com/google/uuid"

	"github.com/snehlabs/flowcall/internal/backend"
)

// Role identifies which side of the conversation a message belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Immutable once final except for
// in-place text replacement while a transcript streams in.
type Message struct {
	ID   string
	Role Role
	Text string

	// AudioRef optionally points at the clip that voiced this message.
	AudioRef string
}

// MessageLog is the ordered conversation owned by the orchestrator:
// append-only except text patches by id. Safe for concurrent use.
type MessageLog struct {
	mu       sync.Mutex
	messages []Message
	index    map[string]int

	// lastTranscript tracks the most recent finalized transcript per role,
	// guarding against the service re-emitting an identical one.
	lastTranscript map[Role]string
}

// NewMessageLog creates an empty conversation log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		index:          make(map[string]int),
		lastTranscript: make(map[Role]string),
	}
}

// Append adds a new message and returns it with a generated id.
func (l *MessageLog) Append(role Role, text string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(role, text)
}

// AppendTranscript adds a finalized transcript message unless it exactly
// matches the immediately preceding transcript for the same role. Returns
// the message and whether it was actually appended.
func (l *MessageLog) AppendTranscript(role Role, text string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastTranscript[role] == text {
		return Message{}, false
	}
	l.lastTranscript[role] = text
	return l.appendLocked(role, text), true
}

func (l *MessageLog) appendLocked(role Role, text string) Message {
	msg := Message{
		ID:   uuid.NewString(),
		Role: role,
		Text: text,
	}
	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	return msg
}

// Patch replaces the text of the message with the given id. A patch for an
// unknown id is dropped and reported false.
func (l *MessageLog) Patch(id, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages[i].Text = text
	return true
}

// FinalizeTranscript patches the message with id to its final transcript
// text and records it for de-duplication. When the final text duplicates
// the preceding transcript for that role, the placeholder message is kept
// but the de-dup cache still updates.
func (l *MessageLog) FinalizeTranscript(id string, role Role, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages[i].Text = text
	l.lastTranscript[role] = text
	return true
}

// Messages returns a snapshot of the conversation in order.
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// History converts the conversation into the shape the single-shot
// endpoints expect.
func (l *MessageLog) History() []backend.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]backend.HistoryEntry, len(l.messages))
	for i, m := range l.messages {
		out[i] = backend.HistoryEntry{Role: string(m.Role), Content: m.Text}
	}
	return out
}

// ResetDedup clears the per-role transcript de-dup cache. Called on call
// end; the messages themselves survive for the next call's context.
func (l *MessageLog) ResetDedup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.lastTranscript)
}
