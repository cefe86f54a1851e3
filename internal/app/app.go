// Package app wires the voxlink subsystems into a running client.
//
// New builds the connection manager, capture pipeline, playback player, and
// session from a [config.Config]; Run drives them until the context is
// cancelled. Test doubles are injected via functional options; when an
// option is not provided, New creates the real implementation from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxlink-ai/voxlink/internal/capture"
	"github.com/voxlink-ai/voxlink/internal/config"
	"github.com/voxlink-ai/voxlink/internal/conn"
	"github.com/voxlink-ai/voxlink/internal/health"
	"github.com/voxlink-ai/voxlink/internal/playback"
	"github.com/voxlink-ai/voxlink/internal/session"
)

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture device instead of building one from config.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithPlayer injects a playback player instead of building one from config.
func WithPlayer(p playback.Player) Option {
	return func(a *App) { a.player = p }
}

// WithObserver registers a snapshot observer on the session, letting a
// frontend render state changes as they happen.
func WithObserver(fn func(session.Snapshot)) Option {
	return func(a *App) { a.observer = fn }
}

// App owns the subsystem lifetimes of one client instance.
type App struct {
	cfg *config.Config

	device   capture.Device
	player   playback.Player
	observer func(session.Snapshot)

	conn *conn.Manager
	sess *session.Session
}

// New wires an App from config.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.device == nil {
		if cfg.Audio.Input != "" {
			a.device = capture.NewPathDevice(cfg.Audio.Input)
		} else {
			// No input configured: recording attempts are refused cleanly.
			a.device = deniedDevice{}
		}
	}
	if a.player == nil {
		if cfg.Playback.Command != "" {
			a.player = playback.NewCommandPlayer(cfg.Playback.Command, cfg.Playback.Args...)
		} else {
			a.player = playback.NopPlayer{}
		}
	}

	a.conn = conn.NewManager(
		conn.WithBackoff(
			cfg.Reconnect.InitialDelay(time.Second),
			cfg.Reconnect.MaxDelay(30*time.Second),
		),
		conn.WithGraceWindow(cfg.Reconnect.Grace(2*time.Second)),
		conn.WithKeepalive(cfg.Reconnect.Keepalive(30*time.Second)),
	)

	captureOpts := []capture.Option{}
	if cfg.Audio.SilenceThreshold > 0 {
		captureOpts = append(captureOpts, capture.WithSilenceThreshold(cfg.Audio.SilenceThreshold))
	}
	if cfg.Audio.ChunkMillis > 0 {
		captureOpts = append(captureOpts,
			capture.WithReadSize(capture.SampleRate*cfg.Audio.ChunkMillis/1000))
	}
	pipeline := capture.New(a.device, captureOpts...)

	sessionOpts := []session.Option{}
	if cfg.Session.MaxLog > 0 {
		sessionOpts = append(sessionOpts, session.WithMaxLog(cfg.Session.MaxLog))
	}
	if a.observer != nil {
		sessionOpts = append(sessionOpts, session.WithObserver(a.observer))
	}
	a.sess = session.New(a.conn, pipeline, a.player, sessionOpts...)

	return a, nil
}

// Session exposes the orchestrator for frontends (CLI, TUI) to drive.
func (a *App) Session() *session.Session { return a.sess }

// Run starts the session loop, connects to the configured server, and
// serves the debug endpoints when enabled. It blocks until ctx is cancelled
// and returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sess.Run(ctx)
	})

	if addr := a.cfg.Debug.ListenAddr; addr != "" {
		g.Go(func() error {
			return a.serveDebug(ctx, addr)
		})
	}

	a.sess.Connect(a.cfg.Server.URL)
	slog.Info("client running", "server", a.cfg.Server.URL)

	return g.Wait()
}

// ApplyConfig reacts to a live config change: log level applies immediately
// and a server URL change reconnects. Capture and playback changes are
// picked up by the next recording or stream through the shared config.
func (a *App) ApplyConfig(diff config.ConfigDiff, lvl *slog.LevelVar) {
	if diff.LogLevelChanged && lvl != nil {
		lvl.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ServerURLChanged {
		slog.Info("server url changed, reconnecting", "url", diff.NewServerURL)
		a.sess.Connect(diff.NewServerURL)
	}
}

// serveDebug hosts /healthz, /readyz, /statusz, and /metrics until ctx ends.
func (a *App) serveDebug(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	h := health.New(
		func() any { return a.sess.Snapshot() },
		health.Checker{
			Name: "connection",
			Check: func(context.Context) error {
				if !a.conn.Connected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
	)
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("debug server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: debug server: %w", err)
	}
}

// deniedDevice stands in when no audio input is configured.
type deniedDevice struct{}

func (deniedDevice) Open(int, int, int) error {
	return fmt.Errorf("no audio input configured: %w", capture.ErrPermission)
}
func (deniedDevice) Read([]int16) (int, error) { return 0, errors.New("device not open") }
func (deniedDevice) Close() error              { return nil }
func (deniedDevice) MinBufferSize() int        { return 0 }
