package audio

import (
	"context"
	"time"
)

// Recorder captures microphone audio one fixed-duration slice at a time.
//
// The single recorder device is owned by exactly one caller at a time. A
// Record call must fully stop and release the device before returning, so the
// next Record (or a hand-off to another owner) always starts from a released
// device. Concurrent Record calls are a caller bug; implementations should
// guard against them and return an error rather than corrupt device state.
type Recorder interface {
	// Record captures audio for the given duration and returns the raw PCM16
	// little-endian bytes in the recorder's native format. It blocks for the
	// slice duration; cancelling ctx aborts the slice and returns ctx.Err().
	Record(ctx context.Context, d time.Duration) ([]byte, error)
}

// Player plays one audio clip to completion.
//
// Like the recorder, the playing-sound handle is owned by one component at a
// time: Play blocks until the clip finishes or ctx is cancelled, and Stop
// halts the in-flight clip early. Stop on an idle player is a no-op.
type Player interface {
	// Play renders the WAV bytes and blocks until playback completes.
	// Cancelling ctx stops playback and returns ctx.Err().
	Play(ctx context.Context, wav []byte) error

	// Stop halts any in-flight playback immediately. Safe to call at any time.
	Stop()
}
