// Package capture owns the microphone device and the energy-gated chunking
// loop that turns raw sample blocks into outbound audio chunks.
//
// The host microphone is abstracted behind the [Device] interface so the
// pipeline runs against any input source: a platform audio API, a sound
// server FIFO, or a plain io.Reader of pcm_s16le bytes ([ReaderDevice]).
// Device acquisition is exclusive and scoped: the pipeline acquires the
// device on Start and releases it on every exit path.
package capture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// ErrPermission is returned by a Device whose host denies microphone access.
// The pipeline refuses to start but never crashes on it.
var ErrPermission = errors.New("capture: device permission denied")

// Device is a microphone input stream. Implementations need not be safe for
// concurrent use; the pipeline is the single owner of an open device.
type Device interface {
	// Open acquires the device for the given format. bufferSize is the
	// requested internal buffering in samples; implementations may round up.
	// Returns ErrPermission (possibly wrapped) when access is denied, or any
	// other error when the device is unavailable or already in use.
	Open(sampleRate, channels, bufferSize int) error

	// Read blocks until samples are available and fills buf, returning the
	// number of samples read. After Close it returns an error.
	Read(buf []int16) (int, error)

	// Close releases the device. Idempotent.
	Close() error

	// MinBufferSize reports the smallest internal buffer the device supports,
	// in samples. Used as the floor when sizing the capture buffer.
	MinBufferSize() int
}

// ReaderDevice adapts an io.Reader producing little-endian 16-bit mono PCM
// to the [Device] interface. It lets the client capture from a file, a pipe,
// or a recorder subprocess's stdout on hosts without a native audio API.
type ReaderDevice struct {
	mu     sync.Mutex
	src    io.Reader
	open   bool
	closed bool
}

// NewReaderDevice creates a ReaderDevice reading pcm_s16le from src.
func NewReaderDevice(src io.Reader) *ReaderDevice {
	return &ReaderDevice{src: src}
}

// Open marks the device acquired. A ReaderDevice can be opened once.
func (d *ReaderDevice) Open(sampleRate, channels, bufferSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("capture: reader device is closed")
	}
	if d.open {
		return errors.New("capture: reader device already in use")
	}
	if channels != 1 {
		return fmt.Errorf("capture: reader device is mono, got %d channels", channels)
	}
	d.open = true
	return nil
}

// Read fills buf with samples decoded from the underlying reader. A partial
// trailing sample at end of stream is discarded.
func (d *ReaderDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	if d.closed || !d.open {
		d.mu.Unlock()
		return 0, errors.New("capture: reader device not open")
	}
	src := d.src
	d.mu.Unlock()

	raw := make([]byte, len(buf)*2)
	n, err := io.ReadAtLeast(src, raw, 2)
	if err != nil {
		return 0, err
	}
	samples := n / 2
	for i := range samples {
		buf[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}
	return samples, nil
}

// Close releases the device and closes the underlying reader when it is an
// io.Closer. Idempotent.
func (d *ReaderDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.open = false
	if c, ok := d.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MinBufferSize reports a nominal floor; readers have no hardware minimum.
func (d *ReaderDevice) MinBufferSize() int { return 0 }

// PathDevice opens a pcm_s16le byte source at a filesystem path (a FIFO fed
// by the sound server, or a file for replay) on each acquisition, so
// recording can start and stop repeatedly against the same path.
type PathDevice struct {
	path string

	mu    sync.Mutex
	inner *ReaderDevice
}

// NewPathDevice creates a PathDevice for path. Nothing is opened until the
// pipeline acquires the device.
func NewPathDevice(path string) *PathDevice {
	return &PathDevice{path: path}
}

// Open opens the path and acquires a fresh [ReaderDevice] over it. A host
// permission failure surfaces as [ErrPermission].
func (d *PathDevice) Open(sampleRate, channels, bufferSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inner != nil {
		return fmt.Errorf("capture: %s already in use", d.path)
	}
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("capture: open %s: %w", d.path, ErrPermission)
		}
		return fmt.Errorf("capture: open %s: %w", d.path, err)
	}
	inner := NewReaderDevice(f)
	if err := inner.Open(sampleRate, channels, bufferSize); err != nil {
		f.Close()
		return err
	}
	d.inner = inner
	return nil
}

// Read delegates to the underlying reader for the current acquisition.
func (d *PathDevice) Read(buf []int16) (int, error) {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return 0, errors.New("capture: path device not open")
	}
	return inner.Read(buf)
}

// Close releases the current acquisition. Idempotent.
func (d *PathDevice) Close() error {
	d.mu.Lock()
	inner := d.inner
	d.inner = nil
	d.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

// MinBufferSize reports no hardware minimum.
func (d *PathDevice) MinBufferSize() int { return 0 }

var (
	_ Device = (*ReaderDevice)(nil)
	_ Device = (*PathDevice)(nil)
)
