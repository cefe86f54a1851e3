// Package playback bridges asynchronous network arrival of synthesized speech
// to the synchronous pull interface a streaming decoder expects.
//
// The central type is [Pipe]: an ordered, bounded FIFO of byte chunks with an
// explicit end-of-stream marker. Network code calls Feed/Finish/Close, which
// never block; the decoder pulls through the blocking [Pipe.Read]. The pipe
// exists so playback can begin before the whole utterance is known — it
// decouples network timing from decode timing.
package playback

import (
	"io"
	"log/slog"
	"sync"
)

// defaultMaxBuffered bounds the bytes a pipe will hold before it starts
// rejecting chunks. At typical speech bitrates this is minutes of audio, so
// the bound only engages when the decoder has stalled entirely.
const defaultMaxBuffered = 8 << 20

// Option is a functional option for configuring a [Pipe].
type Option func(*Pipe)

// WithMaxBuffered overrides the buffered-byte bound. Primarily used in tests.
func WithMaxBuffered(n int) Option {
	return func(p *Pipe) { p.maxBuffered = n }
}

// Pipe is a bounded producer/consumer byte buffer. One goroutine feeds chunks
// as they arrive from the network; another (the decoder) drains them through
// Read. All methods are safe for concurrent use.
//
// A pipe moves through three states: open (accepting Feed/Finish), draining
// (Finish seen, unread chunks remain), and closed (explicit Close or fully
// drained). Feed after Finish or Close is a no-op.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks      [][]byte
	pos         int // read cursor within chunks[0]
	buffered    int // total unread bytes
	maxBuffered int

	finished bool
	closed   bool
}

var _ io.Reader = (*Pipe)(nil)

// NewPipe returns an open, empty pipe.
func NewPipe(opts ...Option) *Pipe {
	p := &Pipe{maxBuffered: defaultMaxBuffered}
	p.cond = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}
	return p
}

// Feed enqueues a chunk for the reader. Empty chunks are ignored. Feed is a
// no-op once the pipe is finished or closed, and never blocks: when the
// buffered-byte bound is exceeded the chunk is dropped with a warning.
func (p *Pipe) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.finished {
		return
	}
	if p.buffered+len(chunk) > p.maxBuffered {
		slog.Warn("playback pipe full, dropping chunk",
			"buffered", p.buffered,
			"chunk_bytes", len(chunk),
		)
		return
	}

	p.chunks = append(p.chunks, chunk)
	p.buffered += len(chunk)
	p.cond.Broadcast()
}

// Finish marks the end of the stream. Readers drain any remaining chunks and
// then see io.EOF. Idempotent; never blocks.
func (p *Pipe) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.finished {
		return
	}
	p.finished = true
	p.cond.Broadcast()
}

// Close tears the pipe down: all buffered chunks are discarded and any
// blocked Read is unblocked immediately with io.EOF. Idempotent; never blocks.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.chunks = nil
	p.pos = 0
	p.buffered = 0
	p.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Read implements io.Reader for the consuming decoder. It blocks until a
// chunk is available, the stream is finished and drained, or the pipe is
// closed. It returns at most the remainder of the current chunk per call.
func (p *Pipe) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.chunks) == 0 && !p.finished && !p.closed {
		p.cond.Wait()
	}

	if p.closed {
		return 0, io.EOF
	}
	if len(p.chunks) == 0 {
		// finished and fully drained
		return 0, io.EOF
	}

	head := p.chunks[0]
	n := copy(buf, head[p.pos:])
	p.pos += n
	p.buffered -= n
	if p.pos >= len(head) {
		p.chunks = p.chunks[1:]
		p.pos = 0
	}
	return n, nil
}
