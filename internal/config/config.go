// Package config provides the configuration schema, loader, and file watcher
// for the flowcall voice client.
package config

import (
	"fmt"
	"time"

	"github.com/snehlabs/flowcall/pkg/audio"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for flowcall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Watchdog WatchdogConfig `yaml:"watchdog"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the diagnostics/metrics endpoint listens
	// on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// BackendConfig identifies the remote conversation service.
type BackendConfig struct {
	// Host is the backend hostname or IP address.
	Host string `yaml:"host"`

	// Port is the backend TCP port shared by the HTTP and socket endpoints.
	Port int `yaml:"port"`

	// TLS switches to https/wss schemes when true.
	TLS bool `yaml:"tls"`

	// Intensity is an opaque preference string appended to the socket URL as
	// a query parameter and included in single-shot request bodies. It
	// influences remote behaviour only; the client never interprets it.
	Intensity string `yaml:"intensity"`
}

// HTTPBaseURL returns the base URL of the backend's request/response endpoints.
func (b BackendConfig) HTTPBaseURL() string {
	scheme := "http"
	if b.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// SocketURL returns the realtime socket URL including the intensity
// query parameter when one is configured.
func (b BackendConfig) SocketURL() string {
	scheme := "ws"
	if b.TLS {
		scheme = "wss"
	}
	u := fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
	if b.Intensity != "" {
		u += "?intensity=" + b.Intensity
	}
	return u
}

// AudioConfig holds capture and PCM format settings.
type AudioConfig struct {
	// SampleRate of the service's PCM stream in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the PCM stream (1 = mono).
	Channels int `yaml:"channels"`

	// BitsPerSample of the PCM stream (16 for PCM16).
	BitsPerSample int `yaml:"bits_per_sample"`

	// CaptureSliceMS is the duration of one microphone capture slice in
	// milliseconds. Tuned empirically; see playback.grace_seconds.
	CaptureSliceMS int `yaml:"capture_slice_ms"`
}

// Format returns the PCM format described by the audio settings.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:    a.SampleRate,
		Channels:      a.Channels,
		BitsPerSample: a.BitsPerSample,
	}
}

// CaptureSlice returns the capture slice duration.
func (a AudioConfig) CaptureSlice() time.Duration {
	return time.Duration(a.CaptureSliceMS) * time.Millisecond
}

// PlaybackConfig tunes the jitter-buffered playback pipeline.
type PlaybackConfig struct {
	// FlushSeconds is the buffered-audio duration that triggers a playback
	// flush. Larger values trade start latency for fewer, smoother clips.
	FlushSeconds float64 `yaml:"flush_seconds"`

	// GraceSeconds is how long after a clip finishes before the
	// remote-speaking count is decremented. Absorbs the acoustic echo tail
	// that imperfect echo cancellation leaves behind. Tuned empirically.
	GraceSeconds float64 `yaml:"grace_seconds"`
}

// MinBufferBytes returns the accumulator flush threshold in PCM bytes for
// the given format.
func (p PlaybackConfig) MinBufferBytes(f audio.Format) int {
	return int(p.FlushSeconds * float64(f.BytesPerSecond()))
}

// Grace returns the post-playback grace period.
func (p PlaybackConfig) Grace() time.Duration {
	return time.Duration(p.GraceSeconds * float64(time.Second))
}

// WatchdogConfig tunes the single-shot response watchdog.
type WatchdogConfig struct {
	// TimeoutMS is how long to wait for a response before resending, in
	// milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`

	// MaxRetries is the number of resend attempts before the request is
	// reported as a terminal timeout.
	MaxRetries int `yaml:"max_retries"`
}

// Timeout returns the per-attempt response timeout.
func (w WatchdogConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// Default returns a Config populated with the tuned defaults: 24 kHz mono
// PCM16, 1 s capture slices, 2.0 s flush threshold, 2 s echo grace, 5 s
// watchdog timeout with 2 retries.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Host:      "127.0.0.1",
			Port:      8000,
			Intensity: "adaptive",
		},
		Audio: AudioConfig{
			SampleRate:     24000,
			Channels:       1,
			BitsPerSample:  16,
			CaptureSliceMS: 1000,
		},
		Playback: PlaybackConfig{
			FlushSeconds: 2.0,
			GraceSeconds: 2.0,
		},
		Watchdog: WatchdogConfig{
			TimeoutMS:  5000,
			MaxRetries: 2,
		},
		LogLevel: LogInfo,
	}
}
