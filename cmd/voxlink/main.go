// Command voxlink is a terminal client for a real-time voice/text assistant
// server. It connects over websocket, streams microphone audio up and
// synthesized speech down, and renders text responses on stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxlink-ai/voxlink/internal/app"
	"github.com/voxlink-ai/voxlink/internal/attach"
	"github.com/voxlink-ai/voxlink/internal/config"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxlink.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", "", "optional .env file loaded before the config")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fmt.Fprintf(os.Stderr, "voxlink: load %s: %v\n", *envPath, err)
			return 1
		}
	} else {
		// Best effort: a local .env is a convenience, not a requirement.
		_ = godotenv.Load()
	}

	lvl := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.Setup()
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	printer := newPrinter()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlink: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
		}
		return 1
	}
	lvl.Set(cfg.Server.LogLevel.Level())

	application, err := app.New(cfg, app.WithObserver(printer.observe))
	if err != nil {
		slog.Error("failed to initialise client", "err", err)
		return 1
	}

	// The app exists before the watcher starts, so the reload callback never
	// races its construction.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(config.Diff(old, new), lvl)
	})
	if err != nil {
		slog.Error("config watcher init failed", "err", err)
		return 1
	}
	defer watcher.Stop()

	go readInput(ctx, application.Session(), stop)

	slog.Info("voxlink starting", "config", *configPath, "server", cfg.Server.URL)
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	fmt.Println("goodbye")
	return 0
}

// readInput drives the session from stdin: lines starting with "/" are
// commands, everything else is sent as a text message.
func readInput(ctx context.Context, sess *session.Session, quit func()) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.SendText(line)
			continue
		}
		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "record":
			sess.StartRecording()
		case "stop":
			sess.StopRecording()
		case "interrupt":
			sess.Interrupt()
		case "workspace":
			if arg == "" {
				printWorkspaces(sess.Snapshot())
			} else {
				sess.SelectWorkspace(arg)
			}
		case "page":
			if n, err := strconv.Atoi(arg); err == nil {
				sess.SelectPage(n)
			}
		case "newpage":
			sess.OpenPage()
		case "image":
			sendImage(sess, arg)
		case "ping":
			sess.Ping()
		case "quit":
			quit()
			return
		default:
			fmt.Printf("unknown command /%s\n", cmd)
		}
	}
}

func sendImage(sess *session.Session, arg string) {
	path, caption, _ := strings.Cut(arg, " ")
	if path == "" {
		fmt.Println("usage: /image <path> [caption]")
		return
	}
	img, err := attach.EncodeFile(path, attach.DefaultMaxDimension)
	if err != nil {
		fmt.Printf("image: %v\n", err)
		return
	}
	sess.SendImage(img.Data, img.MediaType, caption)
}

func printWorkspaces(snap session.Snapshot) {
	if len(snap.Workspaces) == 0 {
		fmt.Println("no workspaces announced by the server")
		return
	}
	for _, w := range snap.Workspaces {
		fmt.Printf("  %s  (%s)\n", w.Name, w.Path)
	}
}

// printer renders finalized messages from session snapshots, tracking which
// entries it has already written.
type printer struct {
	mu      sync.Mutex
	printed map[string]bool
}

func newPrinter() *printer {
	return &printer{printed: make(map[string]bool)}
}

func (p *printer) observe(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range snap.Pages[snap.ActivePage].Messages {
		if m.Streaming || m.Provisional || p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		switch m.Role {
		case session.RoleAssistant:
			fmt.Printf("assistant> %s\n", m.Text)
		case session.RoleTool:
			if m.Text == "" {
				fmt.Printf("tool> %s running\n", m.ToolName)
			} else {
				fmt.Printf("tool> %s: %s\n", m.ToolName, m.Text)
			}
		case session.RoleNotice:
			fmt.Printf("notice> %s\n", m.Text)
		}
	}
}
