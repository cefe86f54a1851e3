package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxlink-ai/voxlink/pkg/pcm"
)

const (
	// SampleRate is the fixed capture rate the protocol announces in
	// audio_start.
	SampleRate = 16000

	// Channels is the fixed capture channel count (mono).
	Channels = 1

	// defaultSilenceThreshold is the RMS energy (int16 scale) below which a
	// sample block is considered silence and dropped. 200 was determined
	// empirically against typical phone microphones.
	defaultSilenceThreshold = 200

	// defaultReadSize is the samples read per cycle (100ms at 16 kHz). It
	// bounds how quickly Stop takes effect.
	defaultReadSize = SampleRate / 10
)

// Sink receives energy-gated capture chunks as little-endian PCM bytes.
// It must not block: chunk delivery is fire-and-forget so that a slow
// consumer never stalls the microphone loop.
type Sink func(chunk []byte)

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithSilenceThreshold overrides the RMS silence threshold.
func WithSilenceThreshold(t float64) Option {
	return func(p *Pipeline) { p.threshold = t }
}

// WithReadSize overrides the samples read per cycle. Primarily used in tests.
func WithReadSize(n int) Option {
	return func(p *Pipeline) { p.readSize = n }
}

// Pipeline runs the microphone read loop. One pipeline owns one device; at
// most one capture session is active at a time. All methods are safe for
// concurrent use.
type Pipeline struct {
	device    Device
	threshold float64
	readSize  int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Pipeline around device.
func New(device Device, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:    device,
		threshold: defaultSilenceThreshold,
		readSize:  defaultReadSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Running reports whether a capture loop is currently active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start acquires the device and begins the read loop, delivering energy-gated
// chunks to sink. It is a no-op when already running. A device that cannot be
// acquired (permission denied, already in use) is reported via the returned
// error and logged; it never panics.
func (p *Pipeline) Start(sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		slog.Debug("capture already running, ignoring start")
		return nil
	}

	// At least one second of buffering, floor-bounded by the device minimum.
	bufferSize := SampleRate
	if min := p.device.MinBufferSize(); min > bufferSize {
		bufferSize = min
	}

	if err := p.device.Open(SampleRate, Channels, bufferSize); err != nil {
		slog.Warn("capture device unavailable", "err", err)
		return fmt.Errorf("capture: open device: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.running = true
	p.cancel = cancel
	p.done = done

	go p.readLoop(ctx, sink, done)
	return nil
}

// Stop cancels the read loop, releases the device (which also unblocks an
// in-flight Read), and waits for the loop to exit. Safe to call when the
// pipeline was never started or is already stopped.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	if err := p.device.Close(); err != nil {
		slog.Warn("capture device close failed", "err", err)
	}
	<-done
}

// readLoop is the capture task. The device is released on every exit path,
// including errors, so ownership never leaks past the loop's lifetime.
func (p *Pipeline) readLoop(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := p.device.Close(); err != nil {
			slog.Warn("capture device close failed", "err", err)
		}
	}()

	buf := make([]int16, p.readSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := p.device.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("capture read failed, stopping", "err", err)
			}
			p.mu.Lock()
			p.running = false
			if p.cancel != nil {
				p.cancel()
				p.cancel = nil
			}
			p.done = nil
			p.mu.Unlock()
			return
		}
		if n == 0 {
			continue
		}

		block := buf[:n]
		if pcm.RMS(block) <= p.threshold {
			continue
		}
		sink(pcm.BytesLE(block))
	}
}
