// Package capture runs the microphone side of a call: it records
// fixed-duration slices and forwards them to the realtime transport,
// suppressing slices while the remote party is speaking so the microphone
// never feeds played-back audio into the pipeline.
package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/snehlabs/flowcall/internal/observe"
	"github.com/snehlabs/flowcall/pkg/audio"
)

// Sender receives captured audio chunks. Implemented by the realtime
// transport.
type Sender interface {
	AppendAudio(audio []byte, format string) error
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Loop.
type Option func(*Loop)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// ── Loop ───────────────────────────────────────────────────────────────────────

// Loop repeatedly records microphone slices and forwards them. Create one
// per call with [New] and drive it with [Loop.Run].
type Loop struct {
	rec     audio.Recorder
	sender  Sender
	// speaking gates forwarding: while it reports true, captured slices
	// are recorded but silently discarded.
	speaking func() bool
	slice    time.Duration
	format   audio.Format
	metrics  *observe.Metrics
}

// New creates a capture loop recording slices of the given duration in
// format f. The speaking func is consulted after each slice; a true return
// discards that slice.
func New(rec audio.Recorder, sender Sender, speaking func() bool, slice time.Duration, f audio.Format, opts ...Option) *Loop {
	l := &Loop{
		rec:      rec,
		sender:   sender,
		speaking: speaking,
		slice:    slice,
		format:   f,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run records slices until ctx is cancelled, then returns ctx.Err(). A
// device error skips the current slice and waits out the slice boundary
// before trying again, so a broken microphone never spins a tight loop.
// Send failures are logged and tolerated: the protocol is best-effort and
// has no acknowledgement layer.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		chunk, err := l.rec.Record(ctx, l.slice)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.metrics.RecordCaptureChunk(ctx, "error")
			slog.Warn("capture: recording slice failed", "err", err)
			if !l.waitSliceBoundary(ctx, start) {
				return ctx.Err()
			}
			continue
		}
		if len(chunk) == 0 {
			continue
		}

		if l.speaking() {
			// Remote audio is (or just was) playing; this slice would be
			// mostly echo.
			l.metrics.RecordCaptureChunk(ctx, "discarded")
			slog.Debug("capture: discarding slice while remote speaking", "bytes", len(chunk))
			continue
		}

		if err := l.sender.AppendAudio(audio.FrameWAV(chunk, l.format), "wav"); err != nil {
			l.metrics.RecordCaptureChunk(ctx, "error")
			slog.Warn("capture: forwarding slice failed", "err", err)
			continue
		}
		l.metrics.RecordCaptureChunk(ctx, "sent")
	}
}

// waitSliceBoundary sleeps for whatever remains of the slice that started
// at start. Reports false when ctx was cancelled during the wait.
func (l *Loop) waitSliceBoundary(ctx context.Context, start time.Time) bool {
	remaining := l.slice - time.Since(start)
	if remaining <= 0 {
		return true
	}
	select {
	case <-time.After(remaining):
		return true
	case <-ctx.Done():
		return false
	}
}
