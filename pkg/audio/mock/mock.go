// Package mock provides in-memory mock implementations of the
// [audio.Recorder] and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and payloads, and they expose exported fields the
// test can set to control return values.
//
// Typical usage:
//
//	rec := &mock.Recorder{Chunks: [][]byte{pcm1, pcm2}}
//	player := &mock.Player{}
//	// ... run the component under test ...
//	if player.CallCountPlay() != 2 { ... }
package mock

import (
	"context"
	"sync"
	"time"
)

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder]. Each Record call
// returns the next entry of Chunks; once exhausted it returns ErrAfter (or
// blocks until ctx is cancelled when BlockWhenEmpty is set).
type Recorder struct {
	mu sync.Mutex

	// Chunks holds the PCM payloads returned by successive Record calls.
	Chunks [][]byte

	// ErrAfter is returned once Chunks is exhausted. When nil and
	// BlockWhenEmpty is false, Record returns an empty slice.
	ErrAfter error

	// BlockWhenEmpty makes Record block on ctx.Done() once Chunks is
	// exhausted, simulating an idle microphone.
	BlockWhenEmpty bool

	// RecordDelay, when non-zero, is how long each Record call sleeps to
	// simulate the slice duration. Zero means return immediately.
	RecordDelay time.Duration

	next      int
	callCount int
	durations []time.Duration
}

// Record implements [audio.Recorder].
func (r *Recorder) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	r.mu.Lock()
	r.callCount++
	r.durations = append(r.durations, d)
	var (
		chunk []byte
		have  bool
	)
	if r.next < len(r.Chunks) {
		chunk = r.Chunks[r.next]
		r.next++
		have = true
	}
	delay := r.RecordDelay
	block := r.BlockWhenEmpty
	errAfter := r.ErrAfter
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if have {
		return chunk, nil
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if errAfter != nil {
		return nil, errAfter
	}
	return []byte{}, nil
}

// CallCount reports how many times Record was called.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callCount
}

// Durations returns the slice durations passed to Record, in call order.
func (r *Recorder) Durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.durations))
	copy(out, r.durations)
	return out
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player]. It records every clip
// played and can simulate playback duration and failures.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by every Play call when non-nil.
	PlayErr error

	// PlayDelay, when non-zero, is how long each Play call blocks to simulate
	// real playback time.
	PlayDelay time.Duration

	played    [][]byte
	stopCount int
	stopCh    chan struct{}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, wav []byte) error {
	p.mu.Lock()
	clip := make([]byte, len(wav))
	copy(clip, wav)
	p.played = append(p.played, clip)
	delay := p.PlayDelay
	err := p.PlayErr
	stop := make(chan struct{})
	p.stopCh = stop
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-stop:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop implements [audio.Player]. It unblocks an in-flight Play.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCount++
	if p.stopCh != nil {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}
	}
}

// Played returns every WAV clip handed to Play, in order.
func (p *Player) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}

// CallCountPlay reports how many times Play was called.
func (p *Player) CallCountPlay() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// CallCountStop reports how many times Stop was called.
func (p *Player) CallCountStop() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCount
}
