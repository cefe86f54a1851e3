package capture

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxlink-ai/voxlink/pkg/pcm"
)

func TestReaderDevice(t *testing.T) {
	samples := []int16{100, -200, 32000, -32000}
	d := NewReaderDevice(bytes.NewReader(pcm.BytesLE(samples)))

	if err := d.Open(SampleRate, 1, 1024); err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]int16, len(samples))
	n, err := d.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := 0; i < n; i++ {
		if buf[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, buf[i], samples[i])
		}
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := d.Read(buf); err == nil {
		t.Fatal("Read after Close succeeded")
	}
}

func TestReaderDeviceRejectsStereo(t *testing.T) {
	d := NewReaderDevice(bytes.NewReader(nil))
	if err := d.Open(SampleRate, 2, 1024); err == nil {
		t.Fatal("stereo open succeeded")
	}
}

func TestPathDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.pcm")
	samples := []int16{1, 2, 3, 4}
	if err := os.WriteFile(path, pcm.BytesLE(samples), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	d := NewPathDevice(path)
	// Two acquisitions against the same path must both work.
	for round := 0; round < 2; round++ {
		if err := d.Open(SampleRate, 1, 1024); err != nil {
			t.Fatalf("round %d Open: %v", round, err)
		}
		buf := make([]int16, 4)
		if _, err := d.Read(buf); err != nil {
			t.Fatalf("round %d Read: %v", round, err)
		}
		if err := d.Close(); err != nil {
			t.Fatalf("round %d Close: %v", round, err)
		}
	}
}

func TestPathDeviceMissingFile(t *testing.T) {
	d := NewPathDevice("/nonexistent/mic.fifo")
	err := d.Open(SampleRate, 1, 1024)
	if err == nil {
		t.Fatal("missing path opened")
	}
	if errors.Is(err, ErrPermission) {
		t.Fatalf("missing file misreported as permission error: %v", err)
	}
}
