package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, url string) {
	t.Helper()
	content := "server:\n  url: " + url + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeConfigFile(t, path, "ws://localhost:8080/ws")

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.URL; got != "ws://localhost:8080/ws" {
		t.Fatalf("Current().Server.URL = %q", got)
	}
}

func TestWatcherInitialLoadFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeConfigFile(t, path, "ftp://nope")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("invalid initial config was accepted")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeConfigFile(t, path, "ws://localhost:8080/ws")

	var (
		mu      sync.Mutex
		gotOld  string
		gotNew  string
		changed = make(chan struct{}, 1)
	)
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old.Server.URL, new.Server.URL
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}, WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "wss://new.example.com/ws")

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("change never reported")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld != "ws://localhost:8080/ws" || gotNew != "wss://new.example.com/ws" {
		t.Fatalf("callback saw old=%q new=%q", gotOld, gotNew)
	}
	if w.Current().Server.URL != "wss://new.example.com/ws" {
		t.Fatalf("Current() not updated: %q", w.Current().Server.URL)
	}
}

func TestWatcherKeepsPreviousOnInvalidRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeConfigFile(t, path, "ws://localhost:8080/ws")

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("callback fired for invalid rewrite")
	}, WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "ftp://broken")
	time.Sleep(50 * time.Millisecond)

	if got := w.Current().Server.URL; got != "ws://localhost:8080/ws" {
		t.Fatalf("Current().Server.URL = %q, want previous config", got)
	}
}
