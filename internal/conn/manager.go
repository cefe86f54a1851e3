// Package conn owns the client's single logical duplex connection to the
// assistant server.
//
// A [Manager] drives the full connection lifecycle: dialing, transport-level
// keepalive, failure detection, and exponential-backoff reconnection. All
// inbound traffic — lifecycle transitions and received frames alike — is
// published as [Event] values on one channel, in strict arrival order.
// Publishing never blocks the network read loop: under sustained consumer
// backpressure the oldest buffered events are dropped, never reordered.
//
// Connections are replaced, not mutated: every (re)connect builds a fresh
// transport and the previous one is torn down first.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/wire"
)

const (
	// defaultInitialBackoff is the reconnect delay after the first failure.
	defaultInitialBackoff = time.Second

	// defaultMaxBackoff caps the reconnect delay.
	defaultMaxBackoff = 30 * time.Second

	// defaultGraceWindow is how long a connection must stay up before it
	// counts as a success for backoff purposes. Connections that die inside
	// the window keep the backoff growing, avoiding tight reconnect loops on
	// servers that accept and immediately drop.
	defaultGraceWindow = 2 * time.Second

	// defaultKeepalive is the transport-level ping interval used to detect
	// half-open connections.
	defaultKeepalive = 30 * time.Second

	// pingTimeout bounds how long a keepalive ping waits for its pong.
	pingTimeout = 10 * time.Second

	// maxFrameSize is the largest inbound frame the transport accepts.
	maxFrameSize = 4 << 20

	eventBuffer   = 256
	controlBuffer = 64
	audioBuffer   = 256
)

// ErrNotConnected is returned by SendControl when no connection is up.
var ErrNotConnected = errors.New("conn: not connected")

// Transport is the subset of a websocket connection the manager drives.
// *websocket.Conn satisfies it; tests substitute a scripted fake.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a Transport to a URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer is the production [Dialer] backed by coder/websocket.
type WebsocketDialer struct{}

// Dial opens a websocket connection and raises its read limit to fit audio
// frames.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("conn: dial %s: %w", url, err)
	}
	ws.SetReadLimit(maxFrameSize)
	return ws, nil
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithDialer substitutes the transport dialer. Primarily used in tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithBackoff overrides the initial and maximum reconnect delays.
func WithBackoff(initial, max time.Duration) Option {
	return func(m *Manager) {
		m.initialBackoff = initial
		m.maxBackoff = max
	}
}

// WithGraceWindow overrides how long a connection must survive before the
// backoff resets.
func WithGraceWindow(d time.Duration) Option {
	return func(m *Manager) { m.graceWindow = d }
}

// WithKeepalive overrides the transport ping interval.
func WithKeepalive(d time.Duration) Option {
	return func(m *Manager) { m.keepalive = d }
}

// WithMetrics substitutes the metrics instance. Primarily used in tests.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager owns at most one live connection at a time. All methods are safe
// for concurrent use; Connect and Disconnect serialise against each other.
type Manager struct {
	dialer  Dialer
	metrics *observe.Metrics

	initialBackoff time.Duration
	maxBackoff     time.Duration
	graceWindow    time.Duration
	keepalive      time.Duration

	events  chan Event
	control chan []byte
	audio   chan []byte

	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager. No connection is opened until Connect.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		dialer:         WebsocketDialer{},
		metrics:        observe.Default(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		graceWindow:    defaultGraceWindow,
		keepalive:      defaultKeepalive,
		events:         make(chan Event, eventBuffer),
		control:        make(chan []byte, controlBuffer),
		audio:          make(chan []byte, audioBuffer),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Events returns the inbound event stream. Exactly one consumer should drain
// it; events arrive in strict transport order.
func (m *Manager) Events() <-chan Event { return m.events }

// Connected reports whether a connection is currently established.
func (m *Manager) Connected() bool { return m.connected.Load() }

// Connect tears down any existing connection and pending reconnect, resets
// the attempt counter, and starts connecting to url. It returns immediately;
// progress is reported through the event stream.
func (m *Manager) Connect(url string) {
	m.stopRun()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(ctx, url, done)
}

// Disconnect cancels any pending reconnect, closes the active connection
// with a normal-closure code, and suppresses further reconnection. Safe to
// call when never connected.
func (m *Manager) Disconnect() {
	m.stopRun()
}

// stopRun cancels the active run loop, if any, and waits for it to exit so
// that event ordering across connects stays coherent.
func (m *Manager) stopRun() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// SendControl encodes and queues a control message for transmission.
// It fails fast when disconnected or when the outbound queue is full;
// callers decide whether that matters.
func (m *Manager) SendControl(msg wire.Control) error {
	if !m.connected.Load() {
		return ErrNotConnected
	}
	data, err := wire.EncodeControl(msg)
	if err != nil {
		return err
	}
	select {
	case m.control <- data:
		return nil
	default:
		return errors.New("conn: control queue full")
	}
}

// SendAudio frames a capture chunk and queues it for transmission.
// Fire-and-forget: when disconnected or backed up the frame is dropped and
// counted, never blocking the capture loop.
func (m *Manager) SendAudio(chunk []byte) {
	if !m.connected.Load() {
		m.metrics.AudioFramesDropped.Add(context.Background(), 1)
		return
	}
	select {
	case m.audio <- wire.EncodeFrame(wire.FrameMic, chunk):
	default:
		m.metrics.AudioFramesDropped.Add(context.Background(), 1)
	}
}

// publish delivers an event without ever blocking. When the buffer is full
// the oldest event is evicted; order of the survivors is preserved.
func (m *Manager) publish(ev Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case <-m.events:
			m.metrics.EventsDropped.Add(context.Background(), 1)
		default:
		}
	}
}

// run is the connection lifecycle loop: dial, serve, evaluate, back off,
// repeat. It exits only when ctx is cancelled (explicit Disconnect or a
// replacing Connect); reconnection is otherwise unbounded by design.
func (m *Manager) run(ctx context.Context, url string, done chan struct{}) {
	defer close(done)

	attempt := 0
	backoff := m.initialBackoff

	for {
		attempt++
		m.publish(Event{Kind: KindConnecting, Attempt: attempt, URL: url})

		dialCtx, span := observe.StartSpan(ctx, "conn.dial")
		ws, err := m.dialer.Dial(dialCtx, url)
		span.End()

		if ctx.Err() != nil {
			if ws != nil {
				_ = ws.Close(websocket.StatusNormalClosure, "client disconnect")
			}
			return
		}
		if err != nil {
			m.metrics.ConnectAttempts.Add(ctx, 1,
				metric.WithAttributes(attribute.String("result", "error")))
			m.publish(Event{Kind: KindFailure, Err: err})
			slog.Warn("dial failed",
				"url", url,
				"attempt", attempt,
				"backoff", backoff,
				"err", err,
			)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.maxBackoff)
			continue
		}

		m.metrics.ConnectAttempts.Add(ctx, 1,
			metric.WithAttributes(attribute.String("result", "ok")))
		m.drainStaleAudio()
		m.connected.Store(true)
		m.publish(Event{Kind: KindConnected})
		slog.Info("connected", "url", url, "attempt", attempt)

		start := time.Now()
		m.serve(ctx, ws)
		uptime := time.Since(start)

		m.connected.Store(false)
		m.metrics.ConnectedTime.Record(ctx, uptime.Seconds())
		m.metrics.Disconnects.Add(ctx, 1)
		m.publish(Event{Kind: KindDisconnected})

		if ctx.Err() != nil {
			return
		}

		// A connection that survived the grace window counts as a success:
		// reset the backoff schedule.
		if uptime >= m.graceWindow {
			attempt = 0
			backoff = m.initialBackoff
		}

		slog.Warn("connection lost, scheduling reconnect",
			"url", url,
			"uptime", uptime,
			"backoff", backoff,
		)
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, m.maxBackoff)
	}
}

// serve pumps one established connection until it fails or ctx is cancelled.
// The reader and writer run concurrently; whichever stops first tears the
// other down.
func (m *Manager) serve(ctx context.Context, ws Transport) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		m.writeLoop(sctx, ws)
	}()

	m.readLoop(sctx, ws)
	cancel()

	// Normal closure on explicit teardown; on a broken transport this errors
	// and the error carries no information we need.
	_ = ws.Close(websocket.StatusNormalClosure, "closing")
	wg.Wait()
}

// readLoop publishes every inbound frame in arrival order.
func (m *Manager) readLoop(ctx context.Context, ws Transport) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("connection read failed", "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageText:
			m.publish(Event{Kind: KindText, Data: data})
		case websocket.MessageBinary:
			m.publish(Event{Kind: KindBinary, Data: data})
		}
	}
}

// writeLoop is the single writer on the transport. It multiplexes control
// messages, audio frames, and the keepalive ping.
func (m *Manager) writeLoop(ctx context.Context, ws Transport) {
	ticker := time.NewTicker(m.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case data := <-m.control:
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					slog.Warn("control write failed", "err", err)
				}
				return
			}

		case frame := <-m.audio:
			if err := ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
				if ctx.Err() == nil {
					slog.Warn("audio write failed", "err", err)
				}
				return
			}
			m.metrics.AudioFramesSent.Add(ctx, 1)

		case <-ticker.C:
			pingCtx, pcancel := context.WithTimeout(ctx, pingTimeout)
			err := ws.Ping(pingCtx)
			pcancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("keepalive ping failed", "err", err)
				}
				return
			}
		}
	}
}

// drainStaleAudio discards audio frames queued against a previous
// connection; stale microphone audio is useless after a reconnect.
func (m *Manager) drainStaleAudio() {
	for {
		select {
		case <-m.audio:
			m.metrics.AudioFramesDropped.Add(context.Background(), 1)
		default:
			return
		}
	}
}

// nextBackoff doubles cur up to max.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// sleep waits for d or until ctx is cancelled. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
