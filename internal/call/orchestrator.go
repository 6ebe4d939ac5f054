package call

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snehlabs/flowcall/internal/backend"
	"github.com/snehlabs/flowcall/internal/capture"
	"github.com/snehlabs/flowcall/internal/config"
	"github.com/snehlabs/flowcall/internal/observe"
	"github.com/snehlabs/flowcall/internal/playback"
	"github.com/snehlabs/flowcall/internal/transport"
	"github.com/snehlabs/flowcall/internal/watchdog"
	"github.com/snehlabs/flowcall/pkg/audio"
)

// Backend is the request/response side of the conversation service.
// Implemented by [backend.Client].
type Backend interface {
	SendVoice(ctx context.Context, audioBase64 string, history []backend.HistoryEntry) (*backend.VoiceResponse, error)
	SendChat(ctx context.Context, message, userName string, history []backend.HistoryEntry) (*backend.ChatResponse, error)
	Greeting(ctx context.Context) (string, error)
	EndSession(ctx context.Context) error
}

// DialFunc opens the realtime socket. Overridable in tests.
type DialFunc func(ctx context.Context, url string) (*transport.Transport, error)

// ErrNoCall is returned by operations that need an active call.
var ErrNoCall = errors.New("call: no active call")

// ErrCallActive is returned by StartCall when a call is already running.
var ErrCallActive = errors.New("call: a call is already active")

// moderationNotice replaces the pending assistant message when the service
// rejects a response on content grounds.
const moderationNotice = "I can't respond to that. Let's talk about something else."

// timeoutNotice is shown when the single-shot path exhausts its retries.
const timeoutNotice = "I didn't get a response in time. Please try again."

// disconnectNotice is shown when the realtime socket drops mid-call.
const disconnectNotice = "Connection lost. Your next message will reconnect."

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithOnMessage registers a callback invoked whenever a message is appended
// or its text changes. The callback runs on orchestrator goroutines and
// must not block.
func WithOnMessage(fn func(Message)) Option {
	return func(o *Orchestrator) { o.onMessage = fn }
}

// WithOnStatus registers a callback invoked on every lifecycle transition.
func WithOnStatus(fn func(Status)) Option {
	return func(o *Orchestrator) { o.onStatus = fn }
}

// WithDialFunc overrides how the realtime socket is opened.
func WithDialFunc(dial DialFunc) Option {
	return func(o *Orchestrator) { o.dial = dial }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithUserName sets the display name forwarded with chat requests.
func WithUserName(name string) Option {
	return func(o *Orchestrator) { o.userName = name }
}

// ── Orchestrator ───────────────────────────────────────────────────────────────

// Orchestrator drives a call end to end. Create one per process with [New];
// it is reusable across successive calls. Safe for concurrent use.
type Orchestrator struct {
	be       Backend
	recorder audio.Recorder
	player   audio.Player
	dial     DialFunc
	metrics  *observe.Metrics
	userName string

	format   audio.Format
	slice    time.Duration
	grace    time.Duration
	minBytes int
	wdConf   config.WatchdogConfig

	onMessage func(Message)
	onStatus  func(Status)

	log *MessageLog

	// mu guards the session state below. State only ever changes while it
	// is held, which gives the single-dispatch semantics the event handlers
	// rely on.
	mu         sync.Mutex
	sess       session
	backendCfg config.BackendConfig
	tr         *transport.Transport
	queue      *playback.Queue
	acc        *playback.Accumulator
	wd         *watchdog.Watchdog
	callCancel context.CancelFunc
	group      *errgroup.Group
}

// New creates an orchestrator wired to the given collaborators. cfg
// supplies the audio format, tuning constants, and socket address.
func New(cfg *config.Config, be Backend, recorder audio.Recorder, player audio.Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		be:         be,
		recorder:   recorder,
		player:     player,
		dial:       func(ctx context.Context, url string) (*transport.Transport, error) { return transport.Dial(ctx, url) },
		metrics:    observe.DefaultMetrics(),
		format:     cfg.Audio.Format(),
		slice:      cfg.Audio.CaptureSlice(),
		grace:      cfg.Playback.Grace(),
		minBytes:   cfg.Playback.MinBufferBytes(cfg.Audio.Format()),
		wdConf:     cfg.Watchdog,
		log:        NewMessageLog(),
		backendCfg: cfg.Backend,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Messages returns a snapshot of the conversation.
func (o *Orchestrator) Messages() []Message { return o.log.Messages() }

// Status returns the current lifecycle state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.status
}

// setStatusLocked transitions the lifecycle state and notifies.
func (o *Orchestrator) setStatusLocked(s Status) {
	if o.sess.status == s {
		return
	}
	o.sess.status = s
	slog.Info("call status changed", "status", s)
	if o.onStatus != nil {
		o.onStatus(s)
	}
}

func (o *Orchestrator) notify(m Message) {
	if o.onMessage != nil {
		o.onMessage(m)
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// StartCall begins a new call: it fetches the greeting and enters the
// first-exchange state. No media is sent until the user triggers capture.
func (o *Orchestrator) StartCall(ctx context.Context) error {
	o.mu.Lock()
	if o.sess.status != StatusDisconnected {
		o.mu.Unlock()
		return ErrCallActive
	}
	o.setStatusLocked(StatusConnecting)
	o.queue = playback.NewQueue()
	o.acc = playback.NewAccumulator(o.format, o.minBytes, o.grace, o.queue, o.player,
		playback.WithAccumulatorMetrics(o.metrics))
	o.wd = watchdog.New(o.wdConf.Timeout(), o.wdConf.MaxRetries, watchdog.WithMetrics(o.metrics))
	o.mu.Unlock()

	o.metrics.ActiveCalls.Add(ctx, 1)

	// The greeting is cosmetic; a failure must not block the call.
	greeting, gerr := o.be.Greeting(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	// An EndCall racing the greeting fetch wins: the call stays down rather
	// than resurrecting with its per-call state already torn away.
	if o.sess.status != StatusConnecting {
		return ErrNoCall
	}
	if gerr != nil {
		slog.Warn("fetching greeting failed", "err", gerr)
	} else if greeting != "" {
		o.notify(o.log.Append(RoleAssistant, greeting))
	}
	o.setStatusLocked(StatusFirstExchange)
	return nil
}

// EndCall tears the call down: capture stops, the socket closes, queued
// playback is dropped, in-flight playback is stopped, and all per-call
// state resets. Safe to call when already disconnected.
func (o *Orchestrator) EndCall() {
	o.mu.Lock()
	if o.sess.status == StatusDisconnected {
		o.mu.Unlock()
		return
	}
	cancel := o.callCancel
	tr := o.tr
	group := o.group
	wd := o.wd
	queue := o.queue
	acc := o.acc
	o.callCancel = nil
	o.tr = nil
	o.group = nil
	o.wd = nil
	o.queue = nil
	o.acc = nil
	o.log.ResetDedup()
	o.sess.resetTranscripts()
	o.sess.firstExchangeDone = false
	o.setStatusLocked(StatusDisconnected)
	o.mu.Unlock()

	// Workers are stopped outside the lock: the dispatch loop takes it for
	// every event it drains.
	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Close()
	}
	if group != nil {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("call workers exited with error", "err", err)
		}
	}
	if wd != nil {
		wd.Abandon()
	}
	o.player.Stop()
	if queue != nil {
		queue.Clear()
		queue.Close()
	}
	if acc != nil {
		acc.Reset()
	}
	o.metrics.ActiveCalls.Add(context.Background(), -1)

	// Best effort: the backend runs its post-session analysis on this.
	ctx, cancelEnd := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelEnd()
	if err := o.be.EndSession(ctx); err != nil {
		slog.Warn("ending backend session failed", "err", err)
	}
}

// SetIntensity replaces the opaque intensity preference. When the realtime
// socket is open it reconnects so the new value reaches the service as a
// query parameter.
func (o *Orchestrator) SetIntensity(intensity string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.backendCfg.Intensity == intensity {
		return nil
	}
	o.backendCfg.Intensity = intensity
	if o.sess.status != StatusRealtime || o.tr == nil {
		return nil
	}

	slog.Info("intensity changed, reconnecting socket", "intensity", intensity)
	o.tr.Close()
	o.tr = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr, err := o.dial(ctx, o.backendCfg.SocketURL())
	if err != nil {
		o.setStatusLocked(StatusFirstExchange)
		return fmt.Errorf("call: reconnect: %w", err)
	}
	o.tr = tr
	o.group.Go(func() error { return o.dispatch(tr) })
	return nil
}

// ── First exchange (single-shot path) ─────────────────────────────────────────

// voiceOutcome is one attempt's result on the single-shot path.
type voiceOutcome struct {
	resp *backend.VoiceResponse
	err  error
}

// SendUtterance records one utterance of duration d from the microphone
// and submits it. Before the first exchange completes it goes through the
// single-shot endpoint; in realtime it is pushed over the socket as an
// explicit turn.
func (o *Orchestrator) SendUtterance(ctx context.Context, d time.Duration) error {
	o.mu.Lock()
	status := o.sess.status
	o.mu.Unlock()

	switch status {
	case StatusDisconnected, StatusConnecting:
		return ErrNoCall
	}

	pcm, err := o.recorder.Record(ctx, d)
	if err != nil {
		return fmt.Errorf("call: recording utterance: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}
	wav := audio.FrameWAV(pcm, o.format)

	if status == StatusRealtime {
		o.mu.Lock()
		tr := o.tr
		o.mu.Unlock()
		if tr == nil {
			return ErrNoCall
		}
		if err := tr.AppendAudio(wav, "wav"); err != nil {
			return err
		}
		if err := tr.CommitInput(); err != nil {
			return err
		}
		return tr.CreateResponse()
	}

	return o.firstExchange(ctx, base64.StdEncoding.EncodeToString(wav))
}

// firstExchange runs the submitted utterance through the single-shot voice
// endpoint under the watchdog: a stalled request is resent with the
// identical payload until an answer arrives or the retry budget is spent.
func (o *Orchestrator) firstExchange(ctx context.Context, audioBase64 string) error {
	ctx, span := observe.StartSpan(ctx, "call.first_exchange")
	defer span.End()

	history := o.log.History()
	outcomes := make(chan voiceOutcome, o.wdConf.MaxRetries+2)

	attempt := func() {
		go func() {
			resp, err := o.be.SendVoice(ctx, audioBase64, history)
			outcomes <- voiceOutcome{resp: resp, err: err}
		}()
	}

	o.mu.Lock()
	wd := o.wd
	o.mu.Unlock()
	if wd == nil {
		return ErrNoCall
	}

	err := wd.Arm(
		func() error { attempt(); return nil },
		func() { outcomes <- voiceOutcome{err: context.DeadlineExceeded} },
	)
	if err != nil {
		return err
	}
	attempt()

	for {
		select {
		case <-ctx.Done():
			wd.Abandon()
			return ctx.Err()

		case out := <-outcomes:
			switch {
			case errors.Is(out.err, context.DeadlineExceeded):
				// Watchdog exhausted: terminal, user-visible.
				o.notify(o.log.Append(RoleAssistant, timeoutNotice))
				return fmt.Errorf("call: first exchange: %w", out.err)

			case errors.Is(out.err, backend.ErrModeration):
				wd.Resolve()
				o.notify(o.log.Append(RoleAssistant, moderationNotice))
				return nil

			case out.err != nil:
				// A failed attempt is not terminal while the watchdog still
				// has budget; the resend timer is already running.
				slog.Warn("single-shot attempt failed", "err", out.err)
				continue

			default:
				if !wd.Resolve() {
					// A retry already resolved or the request was abandoned;
					// drop the duplicate response.
					continue
				}
				return o.completeFirstExchange(ctx, out.resp)
			}
		}
	}
}

// completeFirstExchange applies a successful single-shot response: both
// transcripts append, the reply audio plays, and the call goes realtime.
func (o *Orchestrator) completeFirstExchange(ctx context.Context, resp *backend.VoiceResponse) error {
	if resp.Transcription != "" {
		if msg, ok := o.log.AppendTranscript(RoleUser, resp.Transcription); ok {
			o.notify(msg)
		}
	}
	if resp.Response != "" {
		if msg, ok := o.log.AppendTranscript(RoleAssistant, resp.Response); ok {
			o.notify(msg)
		}
	}

	if resp.AudioBase64 != "" {
		if clip, err := base64.StdEncoding.DecodeString(resp.AudioBase64); err != nil {
			slog.Warn("reply audio is not valid base64", "err", err)
		} else {
			o.mu.Lock()
			if o.queue != nil {
				o.queue.Enqueue(func(ctx context.Context) error {
					return o.player.Play(ctx, clip)
				})
			}
			o.mu.Unlock()
		}
	}

	return o.goRealtime(ctx)
}

// ── Realtime path ─────────────────────────────────────────────────────────────

// goRealtime opens the persistent socket and starts the capture loop and
// the event dispatch loop.
func (o *Orchestrator) goRealtime(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess.status == StatusRealtime {
		return nil
	}
	if o.sess.status == StatusDisconnected {
		return ErrNoCall
	}

	tr, err := o.dial(ctx, o.backendCfg.SocketURL())
	if err != nil {
		return fmt.Errorf("call: opening realtime socket: %w", err)
	}
	o.tr = tr
	o.sess.firstExchangeDone = true

	callCtx, cancel := context.WithCancel(context.Background())
	o.callCancel = cancel
	o.group = &errgroup.Group{}

	loop := capture.New(o.recorder, o, o.speaking, o.slice, o.format,
		capture.WithMetrics(o.metrics))
	o.group.Go(func() error { return loop.Run(callCtx) })
	o.group.Go(func() error { return o.dispatch(tr) })

	o.setStatusLocked(StatusRealtime)
	return nil
}

// AppendAudio implements [capture.Sender] by forwarding to whichever
// transport is current, so the capture loop survives reconnects.
func (o *Orchestrator) AppendAudio(chunk []byte, format string) error {
	o.mu.Lock()
	tr := o.tr
	o.mu.Unlock()
	if tr == nil {
		return ErrNoCall
	}
	return tr.AppendAudio(chunk, format)
}

// speaking reports whether remote audio is playing or in its grace period.
func (o *Orchestrator) speaking() bool {
	o.mu.Lock()
	acc := o.acc
	o.mu.Unlock()
	return acc != nil && acc.Speaking()
}

// SendText sends a typed message. In realtime it goes over the socket; on
// the first-exchange path it uses the chat endpoint.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	o.mu.Lock()
	status := o.sess.status
	tr := o.tr
	o.mu.Unlock()

	switch status {
	case StatusDisconnected, StatusConnecting:
		return ErrNoCall
	}

	o.notify(o.log.Append(RoleUser, text))

	if status == StatusRealtime && tr != nil {
		if err := tr.SendText(text); err != nil {
			return err
		}
		return tr.CreateResponse()
	}

	resp, err := o.be.SendChat(ctx, text, o.userName, o.log.History())
	if err != nil {
		if errors.Is(err, backend.ErrModeration) {
			o.notify(o.log.Append(RoleAssistant, moderationNotice))
			return nil
		}
		return err
	}
	if resp.Response != "" {
		o.notify(o.log.Append(RoleAssistant, resp.Response))
	}
	return nil
}

// dispatch is the single consumer of a transport's event stream. It runs
// until the stream closes; per-connection event order is preserved because
// nothing else reads the channel.
func (o *Orchestrator) dispatch(tr *transport.Transport) error {
	for evt := range tr.Events() {
		o.handleEvent(evt)
	}
	return nil
}

func (o *Orchestrator) handleEvent(evt transport.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch evt.Type {
	case transport.EventResponseCreated:
		// A new assistant turn: fresh transcript accumulation and a
		// placeholder message that streaming deltas patch in place.
		o.sess.assistantPartial = ""
		msg := o.log.Append(RoleAssistant, "")
		o.sess.pendingAssistantID = msg.ID
		o.notify(msg)

	case transport.EventAudioDelta:
		if o.acc != nil {
			o.acc.AppendDelta(evt.Delta)
		}

	case transport.EventTranscriptDelta:
		if evt.Text == "" {
			return
		}
		o.sess.assistantPartial += evt.Text
		if o.sess.pendingAssistantID == "" {
			msg := o.log.Append(RoleAssistant, o.sess.assistantPartial)
			o.sess.pendingAssistantID = msg.ID
			o.notify(msg)
			return
		}
		if o.log.Patch(o.sess.pendingAssistantID, o.sess.assistantPartial) {
			o.notify(Message{ID: o.sess.pendingAssistantID, Role: RoleAssistant, Text: o.sess.assistantPartial})
		}

	case transport.EventTranscriptDone:
		o.finalizeLocked(RoleAssistant, evt.Text, &o.sess.pendingAssistantID)
		o.sess.assistantPartial = ""

	case transport.EventInputTranscriptDelta:
		if evt.Text == "" {
			return
		}
		o.sess.userPartial += evt.Text
		if o.sess.pendingUserID == "" {
			msg := o.log.Append(RoleUser, o.sess.userPartial)
			o.sess.pendingUserID = msg.ID
			o.notify(msg)
			return
		}
		if o.log.Patch(o.sess.pendingUserID, o.sess.userPartial) {
			o.notify(Message{ID: o.sess.pendingUserID, Role: RoleUser, Text: o.sess.userPartial})
		}

	case transport.EventInputTranscriptDone:
		o.finalizeLocked(RoleUser, evt.Text, &o.sess.pendingUserID)
		o.sess.userPartial = ""

	case transport.EventResponseDone:
		if o.acc != nil {
			o.acc.Flush()
		}

	case transport.EventSpeechStarted:
		// The service heard the user start talking; in-progress transcript
		// buffers restart from scratch and audio buffered for the interrupted
		// response is discarded before it can flush.
		o.sess.resetTranscripts()
		if o.acc != nil {
			o.acc.DropBuffered()
		}

	case transport.EventError:
		o.handleErrorEventLocked(evt)

	case transport.EventInterrupt:
		// Informational only. Playback is not cut here; the speaking grace
		// decrement unwinds it.
		slog.Info("remote reported interruption")

	case transport.EventNetworkError:
		slog.Error("realtime socket failed", "err", evt.Err)
		if o.sess.status != StatusRealtime {
			return
		}
		// Degrade to the single-shot path; the next utterance redials.
		if o.tr != nil {
			o.tr.Close()
			o.tr = nil
		}
		if o.callCancel != nil {
			o.callCancel()
			o.callCancel = nil
		}
		o.setStatusLocked(StatusFirstExchange)
		o.notify(o.log.Append(RoleAssistant, disconnectNotice))
	}
}

// finalizeLocked lands a completed transcript: it patches the pending
// placeholder when one exists, otherwise appends, de-duplicated against the
// immediately preceding transcript for the role.
func (o *Orchestrator) finalizeLocked(role Role, text string, pendingID *string) {
	if text == "" {
		*pendingID = ""
		return
	}
	if *pendingID != "" {
		if o.log.FinalizeTranscript(*pendingID, role, text) {
			o.notify(Message{ID: *pendingID, Role: role, Text: text})
		}
		*pendingID = ""
		return
	}
	if msg, ok := o.log.AppendTranscript(role, text); ok {
		o.notify(msg)
	}
}

func (o *Orchestrator) handleErrorEventLocked(evt transport.Event) {
	if evt.IsModeration() {
		// Moderation is terminal for this turn: the pending assistant
		// message becomes the rejection notice and nothing is retried.
		slog.Warn("response rejected by content filter", "msg", evt.ErrorMessage)
		if o.sess.pendingAssistantID != "" {
			if o.log.Patch(o.sess.pendingAssistantID, moderationNotice) {
				o.notify(Message{ID: o.sess.pendingAssistantID, Role: RoleAssistant, Text: moderationNotice})
			}
			o.sess.pendingAssistantID = ""
			o.sess.assistantPartial = ""
			return
		}
		o.notify(o.log.Append(RoleAssistant, moderationNotice))
		return
	}
	slog.Error("service reported error", "msg", evt.ErrorMessage)
}
