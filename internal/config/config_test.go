package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Backend.Host != "127.0.0.1" || cfg.Backend.Port != 8000 {
		t.Errorf("backend = %s:%d, want 127.0.0.1:8000", cfg.Backend.Host, cfg.Backend.Port)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.Channels != 1 || cfg.Audio.BitsPerSample != 16 {
		t.Errorf("audio format = %+v, want 24000/1/16", cfg.Audio)
	}
	if got := cfg.Audio.CaptureSlice(); got != time.Second {
		t.Errorf("CaptureSlice() = %v, want 1s", got)
	}
	if got := cfg.Playback.Grace(); got != 2*time.Second {
		t.Errorf("Grace() = %v, want 2s", got)
	}
	if got := cfg.Watchdog.Timeout(); got != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", got)
	}
	if cfg.Watchdog.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.Watchdog.MaxRetries)
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	t.Parallel()

	const yml = `
backend:
  host: voice.example.com
  port: 8443
  tls: true
  intensity: calm
playback:
  flush_seconds: 1.5
log_level: debug
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if got := cfg.Backend.HTTPBaseURL(); got != "https://voice.example.com:8443" {
		t.Errorf("HTTPBaseURL() = %q", got)
	}
	if got := cfg.Backend.SocketURL(); got != "wss://voice.example.com:8443?intensity=calm" {
		t.Errorf("SocketURL() = %q", got)
	}
	if cfg.Playback.FlushSeconds != 1.5 {
		t.Errorf("FlushSeconds = %v, want 1.5", cfg.Playback.FlushSeconds)
	}
	// Untouched sections keep their defaults.
	if cfg.Audio.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want default 24000", cfg.Audio.SampleRate)
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("bakend:\n  host: x\n"))
	if err == nil {
		t.Fatal("LoadFromReader() with misspelled key succeeded, want error")
	}
}

func TestSocketURLWithoutIntensity(t *testing.T) {
	t.Parallel()

	b := BackendConfig{Host: "localhost", Port: 8000}
	if got := b.SocketURL(); got != "ws://localhost:8000" {
		t.Errorf("SocketURL() = %q, want no query parameter", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Backend.Host = "" },
			wantErr: "backend.host",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Backend.Port = 70000 },
			wantErr: "backend.port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "flush threshold too small",
			mutate:  func(c *Config) { c.Playback.FlushSeconds = 0.1 },
			wantErr: "playback.flush_seconds",
		},
		{
			name:    "flush threshold too large",
			mutate:  func(c *Config) { c.Playback.FlushSeconds = 3 },
			wantErr: "playback.flush_seconds",
		},
		{
			name:    "negative grace",
			mutate:  func(c *Config) { c.Playback.GraceSeconds = -1 },
			wantErr: "playback.grace_seconds",
		},
		{
			name:    "capture slice too short",
			mutate:  func(c *Config) { c.Audio.CaptureSliceMS = 50 },
			wantErr: "audio.capture_slice_ms",
		},
		{
			name:    "bad channel count",
			mutate:  func(c *Config) { c.Audio.Channels = 4 },
			wantErr: "audio.channels",
		},
		{
			name:    "zero watchdog timeout",
			mutate:  func(c *Config) { c.Watchdog.TimeoutMS = 0 },
			wantErr: "watchdog.timeout_ms",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Watchdog.MaxRetries = -1 },
			wantErr: "watchdog.max_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Backend.Host = ""
	cfg.Audio.SampleRate = 0
	cfg.Watchdog.TimeoutMS = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want joined errors")
	}
	for _, want := range []string{"backend.host", "audio.sample_rate", "watchdog.timeout_ms"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestMinBufferBytes(t *testing.T) {
	t.Parallel()

	cfg := Default()
	got := cfg.Playback.MinBufferBytes(cfg.Audio.Format())
	if got != 96000 {
		t.Errorf("MinBufferBytes() = %d, want 96000 (2s of 24kHz mono PCM16)", got)
	}
}

func TestWatcherReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "flowcall.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("backend:\n  intensity: adaptive\n")

	var (
		mu      sync.Mutex
		changes []string
	)
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, old.Backend.Intensity+"->"+new.Backend.Intensity)
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if got := w.Current().Backend.Intensity; got != "adaptive" {
		t.Fatalf("Current().Backend.Intensity = %q, want adaptive", got)
	}

	// mtime granularity can be coarse on some filesystems
	time.Sleep(50 * time.Millisecond)
	now := time.Now()
	write("backend:\n  intensity: calm\n")
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if w.Current().Backend.Intensity == "calm" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("watcher never picked up new intensity, Current() = %q", w.Current().Backend.Intensity)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 || changes[0] != "adaptive->calm" {
		t.Errorf("onChange calls = %v, want [adaptive->calm]", changes)
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "flowcall.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	now := time.Now()
	if err := os.WriteFile(path, []byte("backend:\n  port: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := w.Current().Backend.Port; got != 9000 {
		t.Errorf("Current().Backend.Port = %d after invalid reload, want 9000", got)
	}
}
