package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q is not a valid URL: %w", cfg.Server.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.1f must not be negative", cfg.Audio.SilenceThreshold))
	}
	if cfg.Audio.ChunkMillis != 0 && (cfg.Audio.ChunkMillis < 10 || cfg.Audio.ChunkMillis > 1000) {
		errs = append(errs, fmt.Errorf("audio.chunk_millis %d is out of range [10, 1000]", cfg.Audio.ChunkMillis))
	}

	// Playback
	if cfg.Playback.Command == "" && len(cfg.Playback.Args) > 0 {
		errs = append(errs, errors.New("playback.args is set but playback.command is empty"))
	}

	// Reconnect
	rc := cfg.Reconnect
	if rc.InitialDelayMillis < 0 {
		errs = append(errs, fmt.Errorf("reconnect.initial_delay_millis %d must not be negative", rc.InitialDelayMillis))
	}
	if rc.MaxDelayMillis < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_delay_millis %d must not be negative", rc.MaxDelayMillis))
	}
	if rc.InitialDelayMillis > 0 && rc.MaxDelayMillis > 0 && rc.InitialDelayMillis > rc.MaxDelayMillis {
		errs = append(errs, fmt.Errorf("reconnect.initial_delay_millis %d exceeds reconnect.max_delay_millis %d", rc.InitialDelayMillis, rc.MaxDelayMillis))
	}
	if rc.GraceMillis < 0 {
		errs = append(errs, fmt.Errorf("reconnect.grace_millis %d must not be negative", rc.GraceMillis))
	}
	if rc.KeepaliveSeconds < 0 {
		errs = append(errs, fmt.Errorf("reconnect.keepalive_seconds %d must not be negative", rc.KeepaliveSeconds))
	}

	// Session
	if cfg.Session.MaxLog < 0 {
		errs = append(errs, fmt.Errorf("session.max_log %d must not be negative", cfg.Session.MaxLog))
	}

	return errors.Join(errs...)
}
