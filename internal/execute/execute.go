//go:build unix

// Package execute runs validated commands for real, attached to the
// user's terminal. Plain commands inherit the shell's stdio; screen
// programs get a pseudo-terminal so cursor addressing and raw keyboard
// input work.
package execute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	gerrors "github.com/gatesh-dev/gatesh/internal/errors"
)

// DefaultShell interprets command lines.
const DefaultShell = "/bin/bash"

// Options configures a Runner.
type Options struct {
	// ShellPath defaults to DefaultShell.
	ShellPath string

	// Stdin, Stdout, Stderr default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Runner executes command lines through the shell.
type Runner struct {
	shellPath string
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	log       *slog.Logger
}

// NewRunner builds a Runner.
func NewRunner(opts Options) *Runner {
	if opts.ShellPath == "" {
		opts.ShellPath = DefaultShell
	}

	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		shellPath: opts.ShellPath,
		stdin:     opts.Stdin,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		log:       opts.Logger.With(slog.String("component", "execute")),
	}
}

// Run executes the command line with inherited stdio. The command's
// exit status is logged, not returned as an error: a failing command is
// a normal shell outcome, not a pipeline failure.
func (r *Runner) Run(ctx context.Context, command string) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, r.shellPath, "-c", command)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	err := cmd.Run()

	var exitErr *exec.ExitError

	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		r.log.Debug("command exited nonzero",
			slog.String("event.type", "execute.exit"),
			slog.Int("exit_code", exitErr.ExitCode()),
			slog.Duration("duration", time.Since(start)),
		)
	default:
		return gerrors.Wrap(gerrors.ExitExecution, "failed to start command", err).
			WithHint("Check that " + r.shellPath + " exists and is executable.")
	}

	return nil
}

// RunInteractive executes a screen-oriented command on a fresh
// pseudo-terminal with the controlling terminal in raw mode, mirroring
// window size changes into the child. When stdin is not a terminal it
// degrades to a plain Run.
func (r *Runner) RunInteractive(ctx context.Context, command string) error {
	stdinFile, ok := r.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(stdinFile.Fd())) {
		return r.Run(ctx, command)
	}

	cmd := exec.CommandContext(ctx, r.shellPath, "-c", command)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return gerrors.Wrap(gerrors.ExitExecution, "failed to allocate pseudo-terminal", err)
	}
	defer ptmx.Close()

	// Mirror terminal size into the child, now and on every resize.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)

	go func() {
		for range winch {
			_ = pty.InheritSize(stdinFile, ptmx)
		}
	}()
	winch <- unix.SIGWINCH

	oldState, err := term.MakeRaw(int(stdinFile.Fd()))
	if err != nil {
		_ = cmd.Process.Kill()
		return gerrors.Wrap(gerrors.ExitExecution, "failed to switch terminal to raw mode", err)
	}
	defer term.Restore(int(stdinFile.Fd()), oldState)

	// The stdin copy goroutine leaks until the user presses a key after
	// the child exits; Close on the pty unblocks the output copy.
	go func() { _, _ = io.Copy(ptmx, stdinFile) }()
	_, _ = io.Copy(r.stdout, ptmx)

	_ = cmd.Wait()

	return nil
}
