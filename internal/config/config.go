// Package config provides the configuration schema, loader, and file watcher
// for the voxlink client.
package config

import (
	"log/slog"
	"time"
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

// Level maps l onto the slog level scale. Unset or unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the voxlink client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Session   SessionConfig   `yaml:"session"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ServerConfig identifies the assistant server and logging verbosity.
type ServerConfig struct {
	// URL is the websocket endpoint of the assistant server
	// (e.g., "wss://assistant.example.com/ws").
	URL string `yaml:"url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig tunes microphone capture.
type AudioConfig struct {
	// Input is a path to a pcm_s16le 16kHz mono byte source (a FIFO fed by
	// the sound server, or a file for replay). Empty disables recording.
	Input string `yaml:"input"`

	// SilenceThreshold is the RMS level below which a capture block is
	// dropped. Zero selects the built-in default.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// ChunkMillis is the duration of one capture read block in
	// milliseconds. Zero selects the built-in default (100ms).
	ChunkMillis int `yaml:"chunk_millis"`
}

// PlaybackConfig selects the external streaming decoder.
type PlaybackConfig struct {
	// Command is the decoder binary (e.g., "mpv", "mpg123"). Empty disables
	// audible playback; synthesized audio is then drained and discarded.
	Command string `yaml:"command"`

	// Args are passed to the command; the literal "{format}" is replaced
	// with the announced stream format.
	Args []string `yaml:"args"`
}

// ReconnectConfig overrides the reconnect policy. Zero values select the
// built-in defaults.
type ReconnectConfig struct {
	// InitialDelayMillis is the delay after the first failure (default 1000).
	InitialDelayMillis int `yaml:"initial_delay_millis"`

	// MaxDelayMillis caps the delay (default 30000).
	MaxDelayMillis int `yaml:"max_delay_millis"`

	// GraceMillis is how long a connection must survive to count as a
	// success (default 2000).
	GraceMillis int `yaml:"grace_millis"`

	// KeepaliveSeconds is the transport ping interval (default 30).
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
}

// InitialDelay returns the configured initial delay, or def when unset.
func (r ReconnectConfig) InitialDelay(def time.Duration) time.Duration {
	return millisOr(r.InitialDelayMillis, def)
}

// MaxDelay returns the configured delay cap, or def when unset.
func (r ReconnectConfig) MaxDelay(def time.Duration) time.Duration {
	return millisOr(r.MaxDelayMillis, def)
}

// Grace returns the configured grace window, or def when unset.
func (r ReconnectConfig) Grace(def time.Duration) time.Duration {
	return millisOr(r.GraceMillis, def)
}

// Keepalive returns the configured ping interval, or def when unset.
func (r ReconnectConfig) Keepalive(def time.Duration) time.Duration {
	if r.KeepaliveSeconds <= 0 {
		return def
	}
	return time.Duration(r.KeepaliveSeconds) * time.Second
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// SessionConfig tunes the orchestrator.
type SessionConfig struct {
	// MaxLog caps a page's rendered message log; the oldest entries are
	// dropped beyond it. Zero selects the built-in default (200).
	MaxLog int `yaml:"max_log"`
}

// DebugConfig exposes local health and metrics endpoints.
type DebugConfig struct {
	// ListenAddr is the TCP address the debug HTTP server listens on
	// (e.g., "127.0.0.1:6060"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}
