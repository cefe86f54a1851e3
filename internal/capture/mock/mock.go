// Package mock provides a scripted capture.Device for tests.
package mock

import (
	"io"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/capture"
)

// Compile-time assertion that Device satisfies capture.Device.
var _ capture.Device = (*Device)(nil)

// OpenCall records the arguments of one Open invocation.
type OpenCall struct {
	SampleRate int
	Channels   int
	BufferSize int
}

// Device is a scripted capture.Device. Each Read returns the next block from
// Blocks; when the script is exhausted Read blocks until Close (mimicking a
// silent device) unless ExhaustedErr is set.
type Device struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error

	// Blocks is the sequence of sample blocks Read hands out.
	Blocks [][]int16

	// ReadDelay is slept before each Read returns. Simulates device pacing.
	ReadDelay time.Duration

	// ExhaustedErr, when set, is returned by Read once Blocks runs out.
	// When nil, Read blocks until Close and then returns io.EOF.
	ExhaustedErr error

	// MinBuffer is what MinBufferSize reports.
	MinBuffer int

	mu        sync.Mutex
	idx       int
	OpenCalls []OpenCall
	Closes    int
	closed    chan struct{}
}

// Open records the call and returns OpenErr.
func (d *Device) Open(sampleRate, channels, bufferSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{sampleRate, channels, bufferSize})
	if d.closed == nil {
		d.closed = make(chan struct{})
	}
	return d.OpenErr
}

// Read returns the next scripted block.
func (d *Device) Read(buf []int16) (int, error) {
	if d.ReadDelay > 0 {
		time.Sleep(d.ReadDelay)
	}

	d.mu.Lock()
	if d.idx < len(d.Blocks) {
		block := d.Blocks[d.idx]
		d.idx++
		d.mu.Unlock()
		return copy(buf, block), nil
	}
	err := d.ExhaustedErr
	closed := d.closed
	d.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if closed != nil {
		<-closed
	}
	return 0, io.EOF
}

// Close counts the call and unblocks any waiting Read.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closes++
	if d.closed != nil && d.Closes == 1 {
		close(d.closed)
	}
	return nil
}

// MinBufferSize reports the configured minimum.
func (d *Device) MinBufferSize() int { return d.MinBuffer }
