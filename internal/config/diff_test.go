package config

import "testing"

func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:      "wss://assistant.example.com/ws",
			LogLevel: LogInfo,
		},
		Audio:    AudioConfig{SilenceThreshold: 200},
		Playback: PlaybackConfig{Command: "mpv", Args: []string{"-"}},
	}
}

func TestDiffNoChange(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	if d := Diff(old, new); d.Changed() {
		t.Fatalf("diff of identical configs = %+v", d)
	}
}

func TestDiffServerURL(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.URL = "wss://other.example.com/ws"

	d := Diff(old, new)
	if !d.ServerURLChanged || d.NewServerURL != new.Server.URL {
		t.Fatalf("diff = %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Fatalf("diff = %+v", d)
	}
	if d.ServerURLChanged || d.AudioChanged || d.PlaybackChanged {
		t.Fatalf("unrelated fields flagged: %+v", d)
	}
}

func TestDiffAudio(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Audio.SilenceThreshold = 500
	if d := Diff(old, new); !d.AudioChanged {
		t.Fatalf("diff = %+v", d)
	}
}

func TestDiffPlayback(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Playback.Args = []string{"--quiet", "-"}
	if d := Diff(old, new); !d.PlaybackChanged {
		t.Fatalf("diff = %+v", d)
	}
}
