package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/snehlabs/flowcall/pkg/audio"
)

func TestNewHeaderLayout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dataLen int
		format  audio.Format
	}{
		{"default format empty", 0, audio.DefaultFormat},
		{"default format 2s clip", 96000, audio.DefaultFormat},
		{"odd length", 12345, audio.DefaultFormat},
		{"stereo 44.1k", 88200, audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}},
		{"8k mono 8bit", 8000, audio.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 8}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := audio.NewHeader(tc.dataLen, tc.format)

			if got := string(h[0:4]); got != "RIFF" {
				t.Errorf("chunk ID = %q, want RIFF", got)
			}
			if got := binary.LittleEndian.Uint32(h[4:8]); got != uint32(36+tc.dataLen) {
				t.Errorf("RIFF size = %d, want %d", got, 36+tc.dataLen)
			}
			if got := string(h[8:12]); got != "WAVE" {
				t.Errorf("format tag = %q, want WAVE", got)
			}
			if got := string(h[12:16]); got != "fmt " {
				t.Errorf("fmt subchunk ID = %q", got)
			}
			if got := binary.LittleEndian.Uint32(h[16:20]); got != 16 {
				t.Errorf("fmt subchunk size = %d, want 16", got)
			}
			if got := binary.LittleEndian.Uint16(h[20:22]); got != 1 {
				t.Errorf("audio format = %d, want 1 (PCM)", got)
			}
			if got := binary.LittleEndian.Uint16(h[22:24]); got != uint16(tc.format.Channels) {
				t.Errorf("channels = %d, want %d", got, tc.format.Channels)
			}
			if got := binary.LittleEndian.Uint32(h[24:28]); got != uint32(tc.format.SampleRate) {
				t.Errorf("sample rate = %d, want %d", got, tc.format.SampleRate)
			}
			wantByteRate := uint32(tc.format.SampleRate * tc.format.Channels * tc.format.BitsPerSample / 8)
			if got := binary.LittleEndian.Uint32(h[28:32]); got != wantByteRate {
				t.Errorf("byte rate = %d, want %d", got, wantByteRate)
			}
			wantAlign := uint16(tc.format.Channels * tc.format.BitsPerSample / 8)
			if got := binary.LittleEndian.Uint16(h[32:34]); got != wantAlign {
				t.Errorf("block align = %d, want %d", got, wantAlign)
			}
			if got := binary.LittleEndian.Uint16(h[34:36]); got != uint16(tc.format.BitsPerSample) {
				t.Errorf("bits per sample = %d, want %d", got, tc.format.BitsPerSample)
			}
			if got := string(h[36:40]); got != "data" {
				t.Errorf("data subchunk ID = %q", got)
			}
			if got := binary.LittleEndian.Uint32(h[40:44]); got != uint32(tc.dataLen) {
				t.Errorf("data size = %d, want %d", got, tc.dataLen)
			}
		})
	}
}

func TestFrameWAV(t *testing.T) {
	t.Parallel()

	pcm := bytes.Repeat([]byte{0x01, 0x02}, 480)
	wav := audio.FrameWAV(pcm, audio.DefaultFormat)

	if len(wav) != audio.HeaderSize+len(pcm) {
		t.Fatalf("framed length = %d, want %d", len(wav), audio.HeaderSize+len(pcm))
	}
	if !bytes.Equal(wav[audio.HeaderSize:], pcm) {
		t.Error("PCM payload was altered by framing")
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	f := audio.DefaultFormat
	if got := f.BytesPerSecond(); got != 48000 {
		t.Fatalf("BytesPerSecond() = %d, want 48000", got)
	}
	if got := f.Duration(96000); got != 2*time.Second {
		t.Errorf("Duration(96000) = %v, want 2s", got)
	}
	if got := f.Duration(0); got != 0 {
		t.Errorf("Duration(0) = %v, want 0", got)
	}

	var zero audio.Format
	if got := zero.Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}
