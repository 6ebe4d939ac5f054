package playback

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snehlabs/flowcall/internal/observe"
	"github.com/snehlabs/flowcall/pkg/audio"
)

// ── Options ────────────────────────────────────────────────────────────────────

// AccumulatorOption is a functional option for configuring an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithClipDir sets the directory temp clip files are written to. Defaults
// to the OS temp directory.
func WithClipDir(dir string) AccumulatorOption {
	return func(a *Accumulator) { a.clipDir = dir }
}

// WithAccumulatorMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithAccumulatorMetrics(m *observe.Metrics) AccumulatorOption {
	return func(a *Accumulator) { a.metrics = m }
}

// ── Accumulator ────────────────────────────────────────────────────────────────

// Accumulator reassembles streamed base64 PCM deltas into playable clips.
//
// Deltas append to an internal buffer; once the buffered audio reaches the
// flush threshold the buffer is framed as a WAV clip and handed to the
// playback queue. The speaking count is incremented when the clip is
// composed, not when playback starts, so echo gating engages as soon as
// remote audio arrives. After a clip finishes playing the count decrements
// only after a grace period, absorbing the acoustic echo tail.
type Accumulator struct {
	format   audio.Format
	minBytes int
	grace    time.Duration
	queue    *Queue
	player   audio.Player
	clipDir  string
	metrics  *observe.Metrics

	mu       sync.Mutex
	buf      bytes.Buffer
	speaking int
}

// NewAccumulator creates an accumulator that flushes to queue once minBytes
// of PCM in format f have been buffered. Played clips hold the speaking
// count for grace after playback ends.
func NewAccumulator(f audio.Format, minBytes int, grace time.Duration, queue *Queue, player audio.Player, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		format:   f,
		minBytes: minBytes,
		grace:    grace,
		queue:    queue,
		player:   player,
		clipDir:  os.TempDir(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AppendDelta decodes a base64 PCM chunk and appends it to the buffer,
// flushing when the threshold is crossed. A chunk that fails to decode is
// logged and dropped; the stream continues.
func (a *Accumulator) AppendDelta(b64 string) {
	if b64 == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(data) == 0 {
		if err != nil {
			slog.Debug("playback: dropping undecodable delta", "err", err)
		}
		return
	}

	a.mu.Lock()
	a.buf.Write(data)
	ready := a.buf.Len() >= a.minBytes
	a.mu.Unlock()

	if ready {
		a.Flush()
	}
}

// Flush composes any buffered PCM into a WAV clip and enqueues it for
// playback. A no-op when the buffer is empty. Called internally on
// threshold crossings and externally when the stream signals completion.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	if a.buf.Len() == 0 {
		a.mu.Unlock()
		return
	}
	pcm := make([]byte, a.buf.Len())
	copy(pcm, a.buf.Bytes())
	a.buf.Reset()
	// Speaking state engages before the clip is even scheduled, closing the
	// window where a capture slice could race the first playback.
	a.speaking++
	a.mu.Unlock()

	a.metrics.SpeakingClips.Add(context.Background(), 1)

	clipPath, err := a.writeClip(pcm)
	if err != nil {
		slog.Error("playback: writing clip failed", "err", err)
		a.release()
		return
	}

	duration := a.format.Duration(len(pcm))
	a.metrics.ClipsEnqueued.Add(context.Background(), 1)

	enqueued := a.queue.Enqueue(func(ctx context.Context) error {
		defer a.releaseAfterGrace()
		defer os.Remove(clipPath)

		wav, err := os.ReadFile(clipPath)
		if err != nil {
			a.metrics.RecordClipPlayed(ctx, "error")
			return fmt.Errorf("playback: read clip: %w", err)
		}
		start := time.Now()
		if err := a.player.Play(ctx, wav); err != nil {
			a.metrics.RecordClipPlayed(ctx, "error")
			return fmt.Errorf("playback: play clip: %w", err)
		}
		a.metrics.RecordClipPlayed(ctx, "ok")
		a.metrics.ClipDuration.Record(ctx, time.Since(start).Seconds())
		slog.Debug("clip played", "bytes", len(wav), "duration", duration)
		return nil
	})
	if !enqueued {
		os.Remove(clipPath)
		a.release()
	}
}

// writeClip frames pcm as WAV and writes it to a uniquely named temp file.
// The playback task owns the file and removes it when done.
func (a *Accumulator) writeClip(pcm []byte) (string, error) {
	path := filepath.Join(a.clipDir, "flowcall-"+uuid.NewString()+".wav")
	if err := os.WriteFile(path, audio.FrameWAV(pcm, a.format), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Speaking reports whether remote audio is playing or within its grace
// period. The capture loop gates on this.
func (a *Accumulator) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking > 0
}

// DropBuffered discards PCM waiting below the threshold without touching
// the speaking count. Used when the user barges in: audio buffered before
// the interruption must never play, but clips already composed keep holding
// the echo gate until their grace expires.
func (a *Accumulator) DropBuffered() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
}

// Reset drops buffered PCM and zeroes the speaking count. Used on call end;
// grace timers still in flight decrement harmlessly against the clamp.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speaking > 0 {
		a.metrics.SpeakingClips.Add(context.Background(), int64(-a.speaking))
	}
	a.buf.Reset()
	a.speaking = 0
}

// Buffered returns the number of PCM bytes waiting below the threshold.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

// releaseAfterGrace decrements the speaking count once the echo tail has
// had time to die down.
func (a *Accumulator) releaseAfterGrace() {
	if a.grace <= 0 {
		a.release()
		return
	}
	time.AfterFunc(a.grace, a.release)
}

// release decrements the speaking count, clamped at zero.
func (a *Accumulator) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speaking == 0 {
		return
	}
	a.speaking--
	a.metrics.SpeakingClips.Add(context.Background(), -1)
}
