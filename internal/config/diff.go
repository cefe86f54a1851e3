package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// the running client reacts to are tracked.
type ConfigDiff struct {
	// ServerURLChanged means the client must reconnect to the new endpoint.
	ServerURLChanged bool
	NewServerURL     string

	// LogLevelChanged applies live to the process logger.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AudioChanged takes effect the next time recording starts.
	AudioChanged bool

	// PlaybackChanged takes effect on the next synthesized stream.
	PlaybackChanged bool
}

// Changed reports whether the diff carries any reactable change.
func (d ConfigDiff) Changed() bool {
	return d.ServerURLChanged || d.LogLevelChanged || d.AudioChanged || d.PlaybackChanged
}

// Diff compares old and new configs and returns what changed.
// Reconnect and debug-server settings are intentionally untracked: they
// require a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.URL != new.Server.URL {
		d.ServerURLChanged = true
		d.NewServerURL = new.Server.URL
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	if old.Playback.Command != new.Playback.Command ||
		!slices.Equal(old.Playback.Args, new.Playback.Args) {
		d.PlaybackChanged = true
	}

	return d
}
