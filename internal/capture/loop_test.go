package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snehlabs/flowcall/pkg/audio"
	"github.com/snehlabs/flowcall/pkg/audio/mock"
)

// recordingSender captures every chunk forwarded by the loop.
type recordingSender struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (s *recordingSender) AppendAudio(audio []byte, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	chunk := make([]byte, len(audio))
	copy(chunk, audio)
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func runLoop(t *testing.T, l *Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitSent(t *testing.T, s *recordingSender, n int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for len(s.sent()) < n {
		select {
		case <-deadline:
			t.Fatalf("sent %d chunks, want %d", len(s.sent()), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestForwardsFramedSlices(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	rec := &mock.Recorder{Chunks: [][]byte{pcm}, BlockWhenEmpty: true}
	sender := &recordingSender{}
	l := New(rec, sender, func() bool { return false }, 10*time.Millisecond, audio.DefaultFormat)

	runLoop(t, l)
	waitSent(t, sender, 1)

	got := sender.sent()[0]
	if !bytes.Equal(got[:4], []byte("RIFF")) {
		t.Errorf("chunk not WAV framed: % x", got[:4])
	}
	if !bytes.Equal(got[audio.HeaderSize:], pcm) {
		t.Errorf("payload = %v, want %v", got[audio.HeaderSize:], pcm)
	}

	if durations := rec.Durations(); durations[0] != 10*time.Millisecond {
		t.Errorf("slice duration = %v, want 10ms", durations[0])
	}
}

func TestDiscardsWhileRemoteSpeaking(t *testing.T) {
	t.Parallel()

	var speaking atomic.Bool
	speaking.Store(true)

	chunks := make([][]byte, 500)
	for i := range chunks {
		chunks[i] = []byte{byte(i)}
	}
	rec := &mock.Recorder{
		Chunks:         chunks,
		RecordDelay:    5 * time.Millisecond,
		BlockWhenEmpty: true,
	}
	sender := &recordingSender{}
	l := New(rec, sender, speaking.Load, 5*time.Millisecond, audio.DefaultFormat)

	runLoop(t, l)

	// Gate closed: nothing may be forwarded.
	deadline := time.After(3 * time.Second)
	for rec.CallCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("recorder never consumed slices")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := len(sender.sent()); got != 0 {
		t.Fatalf("sent %d chunks while gate closed, want 0", got)
	}

	// Gate opens: forwarding resumes with the remaining slices.
	speaking.Store(false)
	waitSent(t, sender, 1)
}

func TestDeviceErrorDoesNotTightLoop(t *testing.T) {
	t.Parallel()

	rec := &mock.Recorder{ErrAfter: errors.New("mic unplugged")}
	sender := &recordingSender{}
	l := New(rec, sender, func() bool { return false }, 50*time.Millisecond, audio.DefaultFormat)

	runLoop(t, l)

	time.Sleep(120 * time.Millisecond)
	// Errors return instantly; the loop must still pace itself by the slice
	// duration, so ~120ms permits at most a handful of attempts.
	if got := rec.CallCount(); got > 4 {
		t.Errorf("Record attempts = %d in 120ms with 50ms slices, tight loop suspected", got)
	}
	if got := len(sender.sent()); got != 0 {
		t.Errorf("sent %d chunks despite device errors", got)
	}
}

func TestSendFailureToleratedAndLoopContinues(t *testing.T) {
	t.Parallel()

	rec := &mock.Recorder{Chunks: [][]byte{{1}, {2}}, BlockWhenEmpty: true}
	sender := &recordingSender{err: errors.New("socket gone")}
	l := New(rec, sender, func() bool { return false }, 5*time.Millisecond, audio.DefaultFormat)

	runLoop(t, l)

	deadline := time.After(3 * time.Second)
	for rec.CallCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("loop stopped after send failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStopsOnCancel(t *testing.T) {
	t.Parallel()

	rec := &mock.Recorder{BlockWhenEmpty: true}
	sender := &recordingSender{}
	l := New(rec, sender, func() bool { return false }, 10*time.Millisecond, audio.DefaultFormat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run never returned after cancel")
	}
}
