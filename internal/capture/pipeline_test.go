package capture_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxlink-ai/voxlink/internal/capture"
	"github.com/voxlink-ai/voxlink/internal/capture/mock"
	"github.com/voxlink-ai/voxlink/pkg/pcm"
)

// collectSink gathers chunks delivered by the pipeline.
type collectSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *collectSink) sink(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *collectSink) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.chunks) >= n {
			out := make([][]byte, len(s.chunks))
			copy(out, s.chunks)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks", n)
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func TestPipelineEnergyGate(t *testing.T) {
	silence := make([]int16, 1600)
	voice := pcm.Sine(1600, 440, capture.SampleRate, 32767)

	dev := &mock.Device{Blocks: [][]int16{silence, voice, silence, voice}}
	p := capture.New(dev)
	sink := &collectSink{}

	if err := p.Start(sink.sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Stop()

	chunks := sink.wait(t, 2)
	if len(chunks) != 2 {
		t.Fatalf("expected exactly 2 chunks, got %d", len(chunks))
	}
	want := pcm.BytesLE(voice)
	for i, c := range chunks {
		if !bytes.Equal(c, want) {
			t.Errorf("chunk %d does not match the voiced block", i)
		}
	}
}

func TestPipelineStartWhileRunningIsNoop(t *testing.T) {
	dev := &mock.Device{}
	p := capture.New(dev)
	sink := &collectSink{}

	if err := p.Start(sink.sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Stop()

	if err := p.Start(sink.sink); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if len(dev.OpenCalls) != 1 {
		t.Errorf("expected 1 open call, got %d", len(dev.OpenCalls))
	}
}

func TestPipelineStartPermissionDenied(t *testing.T) {
	dev := &mock.Device{OpenErr: capture.ErrPermission}
	p := capture.New(dev)

	err := p.Start(func([]byte) {})
	if !errors.Is(err, capture.ErrPermission) {
		t.Fatalf("expected capture.ErrPermission, got %v", err)
	}
	if p.Running() {
		t.Error("pipeline must not be running after a refused start")
	}
}

func TestPipelineStopIdempotent(t *testing.T) {
	p := capture.New(&mock.Device{})

	// Stop before any start.
	p.Stop()

	if err := p.Start(func([]byte) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Stop()
	p.Stop()
}

func TestPipelineStopReleasesDevice(t *testing.T) {
	dev := &mock.Device{}
	p := capture.New(dev)

	if err := p.Start(func([]byte) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Stop()

	if dev.Closes == 0 {
		t.Error("expected device to be released on stop")
	}
	if p.Running() {
		t.Error("expected pipeline stopped")
	}
}

func TestPipelineReadErrorReleasesDevice(t *testing.T) {
	dev := &mock.Device{ExhaustedErr: errors.New("device unplugged")}
	p := capture.New(dev)

	if err := p.Start(func([]byte) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Running() {
		t.Fatal("pipeline still running after device failure")
	}
	if dev.Closes == 0 {
		t.Error("expected device released after read failure")
	}
}

func TestPipelineBufferSizing(t *testing.T) {
	t.Run("one second by default", func(t *testing.T) {
		dev := &mock.Device{}
		p := capture.New(dev)
		if err := p.Start(func([]byte) {}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Stop()

		if got := dev.OpenCalls[0].BufferSize; got != capture.SampleRate {
			t.Errorf("expected buffer of %d samples, got %d", capture.SampleRate, got)
		}
	})

	t.Run("floored by device minimum", func(t *testing.T) {
		dev := &mock.Device{MinBuffer: capture.SampleRate * 2}
		p := capture.New(dev)
		if err := p.Start(func([]byte) {}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Stop()

		if got := dev.OpenCalls[0].BufferSize; got != capture.SampleRate*2 {
			t.Errorf("expected buffer of %d samples, got %d", capture.SampleRate*2, got)
		}
	})
}

func TestPipelineCustomThreshold(t *testing.T) {
	quiet := make([]int16, 160)
	for i := range quiet {
		quiet[i] = 300
	}

	dev := &mock.Device{Blocks: [][]int16{quiet}}
	p := capture.New(dev, capture.WithSilenceThreshold(500))
	sink := &collectSink{}

	if err := p.Start(sink.sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if sink.count() != 0 {
		t.Errorf("expected quiet block suppressed under raised threshold, got %d chunks", sink.count())
	}
}
