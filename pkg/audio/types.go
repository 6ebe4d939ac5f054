// Package audio defines the audio value types and device interfaces used by
// the flowcall voice pipeline, plus the minimal WAV container framing needed
// to hand raw PCM to platform sound players.
//
// The two device abstractions are:
//
//   - [Recorder] — captures a fixed-duration slice of microphone audio.
//   - [Player] — plays a single clip to completion.
//
// Implementations live in adapter subpackages (audio/portaudio for real
// devices, audio/mock for tests). The interfaces are intentionally narrow so
// the capture loop and playback queue stay decoupled from device details.
//
// This package lives under pkg/ because external device adapters are expected
// to implement [Recorder] and [Player].
package audio

import "time"

// Format describes the PCM sample layout of an audio byte stream.
type Format struct {
	// SampleRate in Hz (e.g., 24000 for the realtime service output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample is the sample width in bits (16 for PCM16).
	BitsPerSample int
}

// DefaultFormat is the wire format of the realtime service: 24 kHz mono PCM16.
var DefaultFormat = Format{
	SampleRate:    24000,
	Channels:      1,
	BitsPerSample: 16,
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns the byte size of one sample frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Duration returns the play time of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}
