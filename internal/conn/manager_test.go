package conn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxlink-ai/voxlink/internal/wire"
)

type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is a scripted Transport. Inbound messages are fed through a
// channel; closing the channel simulates a server-side disconnect.
type fakeConn struct {
	inbound chan inboundMsg

	mu        sync.Mutex
	writes    []inboundMsg
	pings     int
	closeCode websocket.StatusCode

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan inboundMsg, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-f.inbound:
		if !ok {
			return 0, nil, errors.New("remote closed")
		}
		return msg.typ, msg.data, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, typ websocket.MessageType, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, inboundMsg{typ: typ, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeConn) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, _ string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) recordedWrites() []inboundMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inboundMsg(nil), f.writes...)
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// fakeDialer returns scripted transports in order and fails once the script
// is exhausted.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitForKind(t *testing.T, m *Manager, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", kind)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	max := 30 * time.Second
	cur := time.Second
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		cur = nextBackoff(cur, max)
		if cur != w {
			t.Fatalf("step %d: got %v, want %v", i, cur, w)
		}
	}
}

func TestManagerInboundOrder(t *testing.T) {
	fc := newFakeConn()
	fc.inbound <- inboundMsg{typ: websocket.MessageText, data: []byte(`{"type":"pong"}`)}
	fc.inbound <- inboundMsg{typ: websocket.MessageBinary, data: []byte{0x02, 1, 2, 3}}

	m := NewManager(WithDialer(&fakeDialer{conns: []*fakeConn{fc}}))
	m.Connect("ws://test")
	defer m.Disconnect()

	if ev := nextEvent(t, m); ev.Kind != KindConnecting || ev.Attempt != 1 {
		t.Fatalf("got %+v, want connecting attempt 1", ev)
	}
	if ev := nextEvent(t, m); ev.Kind != KindConnected {
		t.Fatalf("got %+v, want connected", ev)
	}
	ev := nextEvent(t, m)
	if ev.Kind != KindText || string(ev.Data) != `{"type":"pong"}` {
		t.Fatalf("got %+v, want text event", ev)
	}
	ev = nextEvent(t, m)
	if ev.Kind != KindBinary || len(ev.Data) != 4 || ev.Data[0] != 0x02 {
		t.Fatalf("got %+v, want binary event", ev)
	}
}

func TestManagerRetriesWithGrowingAttempts(t *testing.T) {
	m := NewManager(
		WithDialer(&fakeDialer{}),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
	)
	m.Connect("ws://test")
	defer m.Disconnect()

	for want := 1; want <= 3; want++ {
		ev := waitForKind(t, m, KindConnecting)
		if ev.Attempt != want {
			t.Fatalf("got attempt %d, want %d", ev.Attempt, want)
		}
		ev = nextEvent(t, m)
		if ev.Kind != KindFailure || ev.Err == nil {
			t.Fatalf("got %+v, want failure with error", ev)
		}
	}
}

func TestManagerBackoffResetsAfterGraceWindow(t *testing.T) {
	first := newFakeConn()
	m := NewManager(
		WithDialer(&fakeDialer{conns: []*fakeConn{first}}),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
		WithGraceWindow(5*time.Millisecond),
	)
	m.Connect("ws://test")
	defer m.Disconnect()

	waitForKind(t, m, KindConnected)
	time.Sleep(20 * time.Millisecond) // outlive the grace window
	close(first.inbound)

	waitForKind(t, m, KindDisconnected)
	if ev := waitForKind(t, m, KindConnecting); ev.Attempt != 1 {
		t.Fatalf("got attempt %d after healthy connection, want 1", ev.Attempt)
	}
}

func TestManagerShortLivedConnectionKeepsBackoff(t *testing.T) {
	first := newFakeConn()
	close(first.inbound) // dies immediately after connecting

	m := NewManager(
		WithDialer(&fakeDialer{conns: []*fakeConn{first}}),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
		WithGraceWindow(time.Hour),
	)
	m.Connect("ws://test")
	defer m.Disconnect()

	waitForKind(t, m, KindDisconnected)
	if ev := waitForKind(t, m, KindConnecting); ev.Attempt != 2 {
		t.Fatalf("got attempt %d after short-lived connection, want 2", ev.Attempt)
	}
}

func TestManagerDisconnect(t *testing.T) {
	fc := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{fc}}
	m := NewManager(WithDialer(dialer))
	m.Connect("ws://test")

	waitForKind(t, m, KindConnected)
	if !m.Connected() {
		t.Fatal("Connected() = false while connection is up")
	}

	m.Disconnect()

	if m.Connected() {
		t.Fatal("Connected() = true after Disconnect")
	}
	fc.mu.Lock()
	code := fc.closeCode
	fc.mu.Unlock()
	if code != websocket.StatusNormalClosure {
		t.Fatalf("close code = %v, want normal closure", code)
	}

	// Disconnect must also suppress reconnection.
	dials := dialer.dialCount()
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("dial count grew from %d to %d after Disconnect", dials, got)
	}
}

func TestManagerSendControl(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		m := NewManager(WithDialer(&fakeDialer{}))
		if err := m.SendControl(wire.NewTextMessage("hi")); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("got %v, want ErrNotConnected", err)
		}
	})

	t.Run("connected", func(t *testing.T) {
		fc := newFakeConn()
		m := NewManager(WithDialer(&fakeDialer{conns: []*fakeConn{fc}}))
		m.Connect("ws://test")
		defer m.Disconnect()
		waitForKind(t, m, KindConnected)

		if err := m.SendControl(wire.NewTextMessage("hello there")); err != nil {
			t.Fatalf("SendControl: %v", err)
		}

		deadline := time.After(2 * time.Second)
		for {
			writes := fc.recordedWrites()
			if len(writes) > 0 {
				if writes[0].typ != websocket.MessageText {
					t.Fatalf("write type = %v, want text", writes[0].typ)
				}
				if !strings.Contains(string(writes[0].data), `"text_message"`) {
					t.Fatalf("write payload = %s", writes[0].data)
				}
				return
			}
			select {
			case <-deadline:
				t.Fatal("control message never written")
			case <-time.After(time.Millisecond):
			}
		}
	})
}

func TestManagerSendAudio(t *testing.T) {
	fc := newFakeConn()
	m := NewManager(WithDialer(&fakeDialer{conns: []*fakeConn{fc}}))

	// Disconnected sends are silently dropped.
	m.SendAudio([]byte{1, 2, 3})

	m.Connect("ws://test")
	defer m.Disconnect()
	waitForKind(t, m, KindConnected)

	m.SendAudio([]byte{9, 8})

	deadline := time.After(2 * time.Second)
	for {
		writes := fc.recordedWrites()
		if len(writes) > 0 {
			w := writes[0]
			if w.typ != websocket.MessageBinary {
				t.Fatalf("write type = %v, want binary", w.typ)
			}
			if len(w.data) != 3 || w.data[0] != byte(wire.FrameMic) || w.data[1] != 9 {
				t.Fatalf("frame = %v, want mic prefix then payload", w.data)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("audio frame never written")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManagerKeepalive(t *testing.T) {
	fc := newFakeConn()
	m := NewManager(
		WithDialer(&fakeDialer{conns: []*fakeConn{fc}}),
		WithKeepalive(5*time.Millisecond),
	)
	m.Connect("ws://test")
	defer m.Disconnect()
	waitForKind(t, m, KindConnected)

	deadline := time.After(2 * time.Second)
	for fc.pingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("keepalive ping never sent")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManagerEventOverflowDropsOldest(t *testing.T) {
	m := NewManager(WithDialer(&fakeDialer{}))
	var newest byte
	for i := 0; i < eventBuffer+10; i++ {
		newest = byte(i)
		m.publish(Event{Kind: KindText, Data: []byte{newest}})
	}
	// Oldest events are evicted; the newest must survive at the tail.
	var last Event
	for len(m.events) > 0 {
		last = <-m.events
	}
	if last.Kind != KindText || last.Data[0] != newest {
		t.Fatalf("tail event = %+v, want most recent publish", last)
	}
}
