// Package session is the orchestrator: it consumes connection events and
// user intents, maintains the single consistent session snapshot, and drives
// the capture pipeline and the playback pipe.
//
// All state transitions happen on one goroutine inside [Session.Run]. User
// intents are serialised into that goroutine, so no two events ever mutate
// state concurrently; [Session.Snapshot] is the only concurrent reader and
// receives deep copies.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/capture"
	"github.com/voxlink-ai/voxlink/internal/conn"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/playback"
	"github.com/voxlink-ai/voxlink/internal/wire"
	"github.com/google/uuid"
)

// defaultMaxLog caps a page's rendered message log; the oldest entries are
// dropped so a long-lived client does not grow without bound.
const defaultMaxLog = 200

// Connector is the connection surface the session drives.
// *conn.Manager satisfies it; tests substitute a fake.
type Connector interface {
	Connect(url string)
	Disconnect()
	Connected() bool
	Events() <-chan conn.Event
	SendControl(msg wire.Control) error
	SendAudio(chunk []byte)
}

// Recorder is the capture surface the session drives.
// *capture.Pipeline satisfies it.
type Recorder interface {
	Start(sink capture.Sink) error
	Stop()
	Running() bool
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMaxLog overrides the per-page message log cap.
func WithMaxLog(n int) Option {
	return func(s *Session) { s.maxLog = n }
}

// WithObserver registers a callback invoked with a fresh snapshot after
// every state transition. The callback runs on the session goroutine and
// must not call back into intent methods.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.observer = fn }
}

// WithMetrics substitutes the metrics instance. Primarily used in tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session reconciles connection events, capture, and playback into one
// consistent state snapshot. Create with [New], drive with [Session.Run].
type Session struct {
	conn    Connector
	rec     Recorder
	player  playback.Player
	metrics *observe.Metrics

	maxLog   int
	observer func(Snapshot)

	cmds   chan func()
	closed chan struct{}

	mu sync.RWMutex
	st state

	// Loop-goroutine state; never touched from outside Run.
	pipe       *playback.Pipe
	pingSentAt time.Time
}

// New creates a Session wired to its collaborators. Run must be called for
// intents and events to take effect.
func New(c Connector, rec Recorder, player playback.Player, opts ...Option) *Session {
	s := &Session{
		conn:    c,
		rec:     rec,
		player:  player,
		metrics: observe.Default(),
		maxLog:  defaultMaxLog,
		cmds:    make(chan func()),
		closed:  make(chan struct{}),
		st:      newState(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a consistent copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.snapshot()
}

// Run is the session event loop. It processes connection events and intents
// one at a time until ctx is cancelled, then releases capture, playback, and
// the connection.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.closed)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case ev := <-s.conn.Events():
			s.handleEvent(ev)
		case fn := <-s.cmds:
			fn()
		}
	}
}

func (s *Session) shutdown() {
	s.rec.Stop()
	s.update(func() {
		s.closePipe()
	})
	s.conn.Disconnect()
}

// do runs an intent on the session goroutine and waits for it to apply.
// It returns immediately if the session has shut down.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
		<-done
	case <-s.closed:
	}
}

// update applies a state mutation under the lock and then notifies the
// observer with a fresh snapshot.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.st.snapshot()
	s.mu.Unlock()
	if s.observer != nil {
		s.observer(snap)
	}
}

// --- Intents -------------------------------------------------------------

// Connect starts connecting to url, replacing any current connection.
func (s *Session) Connect(url string) {
	s.do(func() {
		s.update(func() {
			s.st.url = url
			s.st.connecting = true
		})
		s.conn.Connect(url)
	})
}

// Disconnect closes the connection and suppresses reconnection.
func (s *Session) Disconnect() {
	s.do(func() {
		s.conn.Disconnect()
		s.update(func() {
			s.st.connected = false
			s.st.connecting = false
		})
	})
}

// StartRecording announces an audio stream and starts the capture pipeline.
// No-op while already recording; refusal (permission, device busy) is
// surfaced as a notice, never a crash.
func (s *Session) StartRecording() {
	s.do(func() {
		s.update(func() {
			if s.st.recording {
				return
			}
			if err := s.conn.SendControl(wire.NewAudioStart()); err != nil {
				s.notice(fmt.Sprintf("recording unavailable: %v", err))
				return
			}
			err := s.rec.Start(func(chunk []byte) {
				s.metrics.ChunksCaptured.Add(context.Background(), 1)
				s.conn.SendAudio(chunk)
			})
			if err != nil {
				slog.Warn("capture start failed", "err", err)
				s.notice(fmt.Sprintf("recording unavailable: %v", err))
				_ = s.conn.SendControl(wire.NewAudioEnd())
				return
			}
			s.st.recording = true
		})
	})
}

// StopRecording stops the capture pipeline and ends the audio stream.
// Idempotent.
func (s *Session) StopRecording() {
	s.do(func() {
		s.update(func() {
			if !s.st.recording {
				return
			}
			s.rec.Stop()
			_ = s.conn.SendControl(wire.NewAudioEnd())
			s.st.recording = false
		})
	})
}

// SendText sends a user text message. Blank input is ignored.
func (s *Session) SendText(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.do(func() {
		s.update(func() {
			s.appendMessage(Message{ID: uuid.NewString(), Role: RoleUser, Text: text})
			if err := s.conn.SendControl(wire.NewTextMessage(text)); err != nil {
				s.notice(fmt.Sprintf("send failed: %v", err))
			}
		})
	})
}

// SendImage sends a base64-encoded image with an optional caption.
func (s *Session) SendImage(data, mediaType, caption string) {
	if data == "" {
		return
	}
	s.do(func() {
		s.update(func() {
			text := caption
			if text == "" {
				text = "[image]"
			}
			s.appendMessage(Message{ID: uuid.NewString(), Role: RoleUser, Text: text})
			if err := s.conn.SendControl(wire.NewImageMessage(data, mediaType, caption)); err != nil {
				s.notice(fmt.Sprintf("send failed: %v", err))
			}
		})
	})
}

// Interrupt cancels the in-flight response: it tells the server to stop,
// force-stops playback, finalises any streaming message, and clears the
// responding flag.
func (s *Session) Interrupt() {
	s.do(func() {
		s.update(func() {
			_ = s.conn.SendControl(wire.NewInterrupt())
			s.cancelResponse()
		})
	})
}

// SelectWorkspace binds the active page to a workspace. A repeat selection
// of the page's current workspace is a no-op; otherwise the page's log is
// cleared, a trailing blank page is guaranteed, and the server is told.
func (s *Session) SelectWorkspace(name string) {
	s.do(func() {
		s.update(func() {
			page := s.st.active()
			if page.Workspace == name {
				return
			}
			s.cancelResponse()
			page.Messages = nil
			page.Workspace = name
			page.WorkspacePath = s.workspacePath(name)
			s.ensureTrailingBlank()
			if err := s.conn.SendControl(wire.NewSelectWorkspace(name)); err != nil {
				s.notice(fmt.Sprintf("workspace switch failed: %v", err))
			}
		})
	})
}

// SelectPage switches the active page. Leaving a page with a response in
// flight cancels that response as Interrupt would; the new page's workspace
// is re-asserted on the server so its context follows the client.
func (s *Session) SelectPage(i int) {
	s.do(func() {
		s.update(func() {
			if i == s.st.activePage || i < 0 || i >= len(s.st.pages) {
				return
			}
			if s.st.responding {
				_ = s.conn.SendControl(wire.NewInterrupt())
				s.cancelResponse()
			}
			s.st.transcriptID = ""
			s.st.activePage = i
			if ws := s.st.active().Workspace; ws != "" {
				if err := s.conn.SendControl(wire.NewSelectWorkspace(ws)); err != nil {
					s.notice(fmt.Sprintf("workspace switch failed: %v", err))
				}
			}
		})
	})
}

// OpenPage appends a blank page and switches to it.
func (s *Session) OpenPage() {
	s.do(func() {
		s.update(func() {
			if s.st.responding {
				_ = s.conn.SendControl(wire.NewInterrupt())
				s.cancelResponse()
			}
			s.st.transcriptID = ""
			s.st.pages = append(s.st.pages, newPage())
			s.st.activePage = len(s.st.pages) - 1
		})
	})
}

// Ping sends an application-level ping; round-trip latency is recorded when
// the matching pong arrives.
func (s *Session) Ping() {
	s.do(func() {
		if err := s.conn.SendControl(wire.NewPing()); err == nil {
			s.pingSentAt = time.Now()
		}
	})
}

// --- Connection events ---------------------------------------------------

func (s *Session) handleEvent(ev conn.Event) {
	switch ev.Kind {
	case conn.KindConnecting:
		s.update(func() {
			s.st.connecting = true
			s.st.connected = false
		})
	case conn.KindConnected:
		s.update(func() {
			s.st.connecting = false
			s.st.connected = true
			s.st.lastError = ""
		})
	case conn.KindDisconnected:
		s.update(func() {
			s.st.connected = false
		})
	case conn.KindFailure:
		s.update(func() {
			if ev.Err != nil {
				s.st.lastError = ev.Err.Error()
			}
		})
	case conn.KindText:
		msg, err := wire.ParseServer(ev.Data)
		if err != nil {
			slog.Warn("dropping malformed server message", "err", err)
			return
		}
		s.handleServer(msg)
	case conn.KindBinary:
		typ, payload, ok := wire.DecodeFrame(ev.Data)
		if !ok || typ != wire.FrameTTS {
			return
		}
		if s.pipe != nil {
			s.pipe.Feed(payload)
			s.metrics.PlaybackBytes.Add(context.Background(), int64(len(payload)))
		}
	}
}

func (s *Session) handleServer(msg wire.ServerMessage) {
	switch m := msg.(type) {
	case wire.Transcription:
		s.update(func() { s.applyTranscription(m) })

	case wire.ResponseDelta:
		s.update(func() { s.applyDelta(m.Text) })

	case wire.ResponseEnd:
		s.update(func() {
			s.finalizeStreaming()
			s.st.responding = false
		})

	case wire.ToolUse:
		s.update(func() {
			s.st.responding = true
			s.appendMessage(Message{
				ID:       uuid.NewString(),
				Role:     RoleTool,
				ToolName: m.ToolName,
				ToolID:   m.ToolID,
			})
		})

	case wire.ToolResult:
		s.update(func() {
			s.appendMessage(Message{
				ID:       uuid.NewString(),
				Role:     RoleTool,
				Text:     m.Output,
				ToolName: m.ToolName,
				ToolID:   m.ToolID,
				IsError:  !m.Success,
			})
		})

	case wire.TTSStart:
		format := m.Format
		if format == "" {
			format = "mp3"
		}
		s.startTTS(format)

	case wire.TTSEnd:
		if s.pipe != nil {
			s.pipe.Finish()
		}

	case wire.ServerError:
		s.update(func() {
			s.st.lastError = m.Message
			s.notice(fmt.Sprintf("server error [%s]: %s", m.Code, m.Message))
		})

	case wire.Pong:
		if !s.pingSentAt.IsZero() {
			latency := time.Since(s.pingSentAt)
			s.pingSentAt = time.Time{}
			s.metrics.PingLatency.Record(context.Background(), latency.Seconds())
		}

	case wire.WorkspaceList:
		s.update(func() {
			s.st.workspaces = s.st.workspaces[:0]
			for _, w := range m.Workspaces {
				s.st.workspaces = append(s.st.workspaces, Workspace{Name: w.Name, Path: w.Path})
			}
		})

	case wire.WorkspaceSelected:
		s.update(func() {
			page := s.st.active()
			page.Workspace = m.Name
			page.WorkspacePath = m.Path
		})

	case wire.Unknown:
		slog.Debug("ignoring unknown server message", "type", m.Type)
	}
}

// --- Transitions (called under s.mu via update) --------------------------

func (s *Session) applyTranscription(m wire.Transcription) {
	page := s.st.active()
	if s.st.transcriptID != "" {
		if entry := findMessage(page, s.st.transcriptID); entry != nil {
			entry.Text = m.Text
			if m.IsFinal {
				entry.Provisional = false
				s.st.transcriptID = ""
			}
			return
		}
		s.st.transcriptID = ""
	}
	entry := Message{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Text:        m.Text,
		Provisional: !m.IsFinal,
	}
	s.appendMessage(entry)
	if !m.IsFinal {
		s.st.transcriptID = entry.ID
	}
}

func (s *Session) applyDelta(text string) {
	s.st.responding = true
	if s.st.streamingID != "" {
		if entry := findMessage(s.st.active(), s.st.streamingID); entry != nil {
			entry.Text += text
			return
		}
		s.st.streamingID = ""
	}
	entry := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      text,
		Streaming: true,
	}
	s.appendMessage(entry)
	s.st.streamingID = entry.ID
}

func (s *Session) finalizeStreaming() {
	if s.st.streamingID == "" {
		return
	}
	if entry := findMessage(s.st.active(), s.st.streamingID); entry != nil {
		entry.Streaming = false
	}
	s.st.streamingID = ""
}

// cancelResponse tears down the in-flight response: playback first (the pipe
// must close before the player is told to stop), then the streaming message.
func (s *Session) cancelResponse() {
	s.closePipe()
	s.finalizeStreaming()
	s.st.responding = false
}

func (s *Session) closePipe() {
	if s.pipe != nil {
		s.pipe.Close()
		s.pipe = nil
	}
	s.player.Stop()
}

// startTTS force-closes any prior pipe lineage and hands a fresh one to the
// player. Play blocks on the decoder, so it runs on its own goroutine.
func (s *Session) startTTS(format string) {
	s.closePipe()
	pipe := playback.NewPipe()
	s.pipe = pipe
	go func() {
		if err := s.player.Play(format, pipe); err != nil {
			slog.Warn("playback failed", "format", format, "err", err)
		}
	}()
}

func (s *Session) notice(text string) {
	s.appendMessage(Message{ID: uuid.NewString(), Role: RoleNotice, Text: text})
}

// appendMessage appends to the active page's log, trimming the oldest
// entries beyond the cap.
func (s *Session) appendMessage(m Message) {
	page := s.st.active()
	page.Messages = append(page.Messages, m)
	if excess := len(page.Messages) - s.maxLog; excess > 0 {
		page.Messages = append(page.Messages[:0:0], page.Messages[excess:]...)
	}
}

func (s *Session) ensureTrailingBlank() {
	last := &s.st.pages[len(s.st.pages)-1]
	if last.Workspace != "" || len(last.Messages) > 0 {
		s.st.pages = append(s.st.pages, newPage())
	}
}

func (s *Session) workspacePath(name string) string {
	for _, w := range s.st.workspaces {
		if w.Name == name {
			return w.Path
		}
	}
	return ""
}

func findMessage(p *Page, id string) *Message {
	for i := range p.Messages {
		if p.Messages[i].ID == id {
			return &p.Messages[i]
		}
	}
	return nil
}
