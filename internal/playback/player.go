package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Player is the external streaming decoder/player collaborator. Play begins
// consuming src on the player's own schedule and returns once playback has
// started; Stop aborts the current playback and releases its resources.
// Implementations must tolerate Stop without a preceding Play.
type Player interface {
	Play(format string, src io.Reader) error
	Stop()
}

// CommandPlayer implements [Player] by launching an external decoder command
// (e.g. "mpv -", "mpg123 -") and streaming src into its stdin. The literal
// argument "{format}" is replaced with the announced stream format, so a
// command line like "ffplay -f {format} -" adapts per stream.
type CommandPlayer struct {
	command string
	args    []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandPlayer creates a CommandPlayer for the given command line.
func NewCommandPlayer(command string, args ...string) *CommandPlayer {
	return &CommandPlayer{command: command, args: args}
}

// Play stops any previous playback, launches the decoder subprocess, and
// starts a goroutine copying src into its stdin. It returns an error only
// when the subprocess cannot be started.
func (cp *CommandPlayer) Play(format string, src io.Reader) error {
	cp.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, cp.command, cp.expandArgs(format)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("playback: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("playback: start %q: %w", cp.command, err)
	}

	go func() {
		if _, err := io.Copy(stdin, src); err != nil {
			slog.Debug("playback stream ended", "err", err)
		}
		stdin.Close()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("decoder exited with error", "command", cp.command, "err", err)
		}
	}()

	cp.mu.Lock()
	cp.cancel = cancel
	cp.mu.Unlock()
	return nil
}

// Stop aborts the current playback subprocess, if any. It does not wait for
// the stream goroutine: that goroutine exits on its own once its source
// reports EOF (the session closes the source pipe before stopping playback),
// so Stop never blocks its caller.
func (cp *CommandPlayer) Stop() {
	cp.mu.Lock()
	cancel := cp.cancel
	cp.cancel = nil
	cp.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// expandArgs substitutes the "{format}" placeholder in the configured args.
func (cp *CommandPlayer) expandArgs(format string) []string {
	out := make([]string, len(cp.args))
	for i, a := range cp.args {
		out[i] = strings.ReplaceAll(a, "{format}", format)
	}
	return out
}

// NopPlayer discards audio. It keeps the pipe draining on hosts with no
// decoder configured, so sessions behave identically with playback disabled.
type NopPlayer struct{}

// Play drains src until end of stream.
func (NopPlayer) Play(_ string, src io.Reader) error {
	_, err := io.Copy(io.Discard, src)
	return err
}

// Stop is a no-op.
func (NopPlayer) Stop() {}

var _ Player = NopPlayer{}
