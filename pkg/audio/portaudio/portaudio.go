// Package portaudio provides [audio.Recorder] and [audio.Player]
// implementations backed by PortAudio default devices.
//
// A single [System] owns the PortAudio library lifecycle; create it once in
// main, and obtain per-direction devices from it. Streams are opened per
// Record/Play call and fully released before the call returns, so the device
// handle is never shared between overlapping operations.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/snehlabs/flowcall/pkg/audio"
)

// framesPerBuffer is the PortAudio buffer size in sample frames. At 24 kHz
// this is 40 ms per buffer, small enough to keep slice boundaries accurate.
const framesPerBuffer = 960

// ErrBusy is returned when a Record or Play call arrives while a previous one
// on the same device is still in flight. Overlapping use is a caller bug, so
// it is surfaced loudly instead of queued.
var ErrBusy = errors.New("portaudio: device busy")

// System owns the PortAudio library initialisation. All recorders and players
// must be obtained from a live System.
type System struct {
	once     sync.Once
	initErr  error
	shutOnce sync.Once
}

// NewSystem initialises PortAudio and returns the system handle. Call
// [System.Close] when the application exits.
func NewSystem() (*System, error) {
	s := &System{}
	s.once.Do(func() {
		s.initErr = portaudio.Initialize()
	})
	if s.initErr != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", s.initErr)
	}
	return s, nil
}

// Close terminates the PortAudio library. Idempotent.
func (s *System) Close() error {
	var err error
	s.shutOnce.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}

// Recorder returns a microphone recorder capturing in the given format.
func (s *System) Recorder(f audio.Format) *Recorder {
	return &Recorder{format: f}
}

// Player returns a speaker player rendering clips in the given format.
func (s *System) Player(f audio.Format) *Player {
	return &Player{format: f}
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder implements [audio.Recorder] on the default input device.
type Recorder struct {
	format audio.Format

	mu   sync.Mutex
	busy bool
}

// Record implements [audio.Recorder]. It opens the default input stream,
// reads buffers for the slice duration, and returns the captured PCM16 bytes.
// The stream is stopped and closed before Record returns.
func (r *Recorder) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.busy = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	in := make([]int16, framesPerBuffer*r.format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		r.format.Channels, 0, float64(r.format.SampleRate), framesPerBuffer, in)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	defer stream.Stop()

	wantBytes := int(d.Seconds() * float64(r.format.BytesPerSecond()))
	buf := bytes.NewBuffer(make([]byte, 0, wantBytes+len(in)*2))

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
		if err := binary.Write(buf, binary.LittleEndian, in); err != nil {
			return nil, fmt.Errorf("portaudio: buffer samples: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player implements [audio.Player] on the default output device.
type Player struct {
	format audio.Format

	mu     sync.Mutex
	busy   bool
	stopCh chan struct{}
}

// Play implements [audio.Player]. A leading 44-byte WAV header is stripped so
// both raw PCM and framed clips are accepted. Play blocks until the clip has
// been written to the device or playback is interrupted.
func (p *Player) Play(ctx context.Context, wav []byte) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	p.busy = true
	stop := make(chan struct{})
	p.stopCh = stop
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.stopCh = nil
		p.mu.Unlock()
	}()

	pcm := wav
	if len(pcm) >= audio.HeaderSize && bytes.Equal(pcm[0:4], []byte("RIFF")) {
		pcm = pcm[audio.HeaderSize:]
	}

	out := make([]int16, framesPerBuffer*p.format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, p.format.Channels, float64(p.format.SampleRate), framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	frameBytes := len(out) * 2
	for off := 0; off < len(pcm); off += frameBytes {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := pcm[off:end]

		// Zero-pad the tail buffer so the final write is a full frame.
		for i := range out {
			out[i] = 0
		}
		for i := 0; i+1 < len(chunk); i += 2 {
			out[i/2] = int16(binary.LittleEndian.Uint16(chunk[i:]))
		}

		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}

	return nil
}

// Stop implements [audio.Player]. It interrupts an in-flight clip.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}
	}
}
