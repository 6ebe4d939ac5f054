// Package watchdog implements the timeout and bounded-retry controller for
// the single-shot voice exchange path.
//
// A stalled request is resent with its identical payload up to a bounded
// number of times, spaced by the timeout; once the budget is spent the
// request is reported as a terminal timeout. At most one request may be
// outstanding at a time.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/snehlabs/flowcall/internal/observe"
)

// State is the watchdog lifecycle state.
type State int

const (
	// StateIdle means no request is outstanding.
	StateIdle State = iota

	// StateAwaiting means a request was sent and the timer is running.
	StateAwaiting

	// StateResolved means the last request received its response in time.
	StateResolved

	// StateExhausted means the last request timed out past the retry budget.
	StateExhausted
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting_response"
	case StateResolved:
		return "resolved"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ErrPending is returned by Arm when a request is already outstanding.
var ErrPending = errors.New("watchdog: a request is already outstanding")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Watchdog.
type Option func(*Watchdog)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Watchdog) { w.metrics = m }
}

// ── Watchdog ───────────────────────────────────────────────────────────────────

// Watchdog tracks at most one pending request. Safe for concurrent use.
type Watchdog struct {
	timeout    time.Duration
	maxRetries int
	metrics    *observe.Metrics

	mu          sync.Mutex
	state       State
	retries     int
	timer       *time.Timer
	resend      func() error
	onExhausted func()

	// gen invalidates stale timer callbacks after Resolve or Abandon.
	gen uint64
}

// New creates a watchdog with the given per-attempt timeout and retry
// budget.
func New(timeout time.Duration, maxRetries int, opts ...Option) *Watchdog {
	w := &Watchdog{
		timeout:    timeout,
		maxRetries: maxRetries,
		metrics:    observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Arm registers a pending request and starts the timeout timer. resend is
// called on each expiry while retries remain; onExhausted is called once
// when the budget is spent. Returns [ErrPending] when a request is already
// outstanding: the caller must Resolve or Abandon it first.
func (w *Watchdog) Arm(resend func() error, onExhausted func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateAwaiting {
		return ErrPending
	}
	w.state = StateAwaiting
	w.retries = 0
	w.resend = resend
	w.onExhausted = onExhausted
	w.gen++
	w.startTimerLocked()
	return nil
}

// Resolve marks the pending request as answered and cancels the timer.
// Reports whether there was a pending request to resolve.
func (w *Watchdog) Resolve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateAwaiting {
		return false
	}
	w.state = StateResolved
	w.clearLocked()
	return true
}

// Abandon drops any pending request without reporting an error. Used on
// call end. Idempotent.
func (w *Watchdog) Abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateAwaiting {
		w.clearLocked()
	}
	w.state = StateIdle
}

// State returns the current lifecycle state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Retries returns how many resends the current or last request used.
func (w *Watchdog) Retries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retries
}

// startTimerLocked arms the expiry timer for the current generation.
// Callers must hold w.mu.
func (w *Watchdog) startTimerLocked() {
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.onTimeout(gen) })
}

// clearLocked stops the timer and releases the pending request's callbacks.
// Callers must hold w.mu.
func (w *Watchdog) clearLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
	w.resend = nil
	w.onExhausted = nil
}

// onTimeout fires when an attempt's timer expires. A stale generation means
// the request was resolved or abandoned while the callback was in flight.
func (w *Watchdog) onTimeout(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.state != StateAwaiting {
		w.mu.Unlock()
		return
	}

	if w.retries < w.maxRetries {
		w.retries++
		retry := w.retries
		resend := w.resend
		w.startTimerLocked()
		w.mu.Unlock()

		w.metrics.WatchdogRetries.Add(context.Background(), 1)
		slog.Warn("response timed out, resending", "attempt", retry, "max", w.maxRetries)
		if err := resend(); err != nil {
			slog.Error("watchdog resend failed", "err", err)
		}
		return
	}

	w.state = StateExhausted
	onExhausted := w.onExhausted
	w.clearLocked()
	w.mu.Unlock()

	w.metrics.WatchdogExhaustions.Add(context.Background(), 1)
	slog.Error("response timed out, retry budget exhausted", "retries", w.maxRetries)
	if onExhausted != nil {
		onExhausted()
	}
}
