package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Fields absent from the file keep the [Default] values.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is required"))
	}
	if cfg.Backend.Port <= 0 || cfg.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend.port %d is out of range [1, 65535]", cfg.Backend.Port))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	if cfg.Audio.BitsPerSample != 8 && cfg.Audio.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("audio.bits_per_sample %d is invalid; valid values: 8, 16", cfg.Audio.BitsPerSample))
	}
	if cfg.Audio.CaptureSliceMS < 100 {
		errs = append(errs, fmt.Errorf("audio.capture_slice_ms %d is below the 100ms minimum", cfg.Audio.CaptureSliceMS))
	}

	if cfg.Playback.FlushSeconds < 0.5 || cfg.Playback.FlushSeconds > 2.0 {
		errs = append(errs, fmt.Errorf("playback.flush_seconds %.2f is out of range [0.5, 2.0]", cfg.Playback.FlushSeconds))
	}
	if cfg.Playback.GraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("playback.grace_seconds %.2f must not be negative", cfg.Playback.GraceSeconds))
	}

	if cfg.Watchdog.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.timeout_ms %d must be positive", cfg.Watchdog.TimeoutMS))
	}
	if cfg.Watchdog.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("watchdog.max_retries %d must not be negative", cfg.Watchdog.MaxRetries))
	}

	return errors.Join(errs...)
}
