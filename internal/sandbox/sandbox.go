//go:build unix

// Package sandbox owns the persistent subshell used to dry-run commands
// before they reach the user or the security gateway.
//
// One Session wraps one long-lived non-interactive bash process and its
// pipe triple. The session is a singleton resource: only the router may
// drive it, and a new test may not begin until the previous exchange has
// been drained or timed out. There is no framing on the pipes; the
// boundary between one command's output and the next is the timeout
// window alone.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gatesh-dev/gatesh/internal/childproc"
)

const (
	// DefaultTimeout bounds one sandbox exchange.
	DefaultTimeout = 5 * time.Second

	// maxCaptureBytes bounds the output buffer; overflow is truncated,
	// never an error.
	maxCaptureBytes = 64 << 10

	// quietGap is how long the reader waits for a follow-up chunk after
	// data has started arriving, before calling the exchange complete.
	quietGap = 50 * time.Millisecond

	// shutdownGrace is how long Close waits after sending the
	// termination line before escalating.
	shutdownGrace = 2 * time.Second

	readChunkSize = 4096
)

// VerdictKind classifies a sandbox test outcome.
type VerdictKind int

const (
	// VerdictSilent: no output at all, stop silently.
	VerdictSilent VerdictKind = iota
	// VerdictOutput: stdout only, display and stop.
	VerdictOutput
	// VerdictEscalate: stderr was non-empty, so the command must go to
	// the gateway. Exit code is deliberately not consulted; stderr
	// bytes are the escalation trigger even for exit-zero commands.
	VerdictEscalate
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictOutput:
		return "output"
	case VerdictEscalate:
		return "escalate"
	default:
		return "silent"
	}
}

// Verdict is the tagged result of one sandbox test. Output holds stdout
// for VerdictOutput and the combined capture (stderr included) for
// VerdictEscalate.
type Verdict struct {
	Kind   VerdictKind
	Output []byte
}

// Options configures a Session.
type Options struct {
	// ShellPath is the subshell binary; defaults to /bin/bash.
	ShellPath string

	// ShellArgs are the subshell arguments; defaults to
	// --norc --noprofile for a fast, non-interactive shell.
	ShellArgs []string

	// Timeout bounds each Test call; defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger receives lifecycle events; defaults to slog.Default().
	Logger *slog.Logger
}

// Session is the persistent sandbox subshell.
type Session struct {
	opts Options
	log  *slog.Logger

	proc   *childproc.Process
	stdout chan []byte
	stderr chan []byte

	// disabled is the permanent fail-safe state: every Test returns
	// VerdictEscalate so nothing skips validation just because the
	// sandbox is gone.
	disabled bool

	// respawnUsed marks that the one allowed respawn has been spent;
	// reset by a successful exchange.
	respawnUsed bool
}

// Start spawns the subshell. A spawn failure does not return an error:
// the session comes back Disabled, which forces every command through
// the gateway instead.
func Start(opts Options) *Session {
	if opts.ShellPath == "" {
		opts.ShellPath = "/bin/bash"
	}

	if opts.ShellArgs == nil {
		opts.ShellArgs = []string{"--norc", "--noprofile"}
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{opts: opts, log: opts.Logger.With(slog.String("component", "sandbox"))}

	if err := s.spawn(); err != nil {
		s.log.Warn("sandbox spawn failed; forcing gateway validation for all commands",
			slog.String("event.type", "sandbox.disabled"),
			slog.String("error", err.Error()),
		)
		s.disabled = true
	}

	return s
}

func (s *Session) spawn() error {
	proc, err := childproc.Spawn(s.opts.ShellPath, s.opts.ShellArgs, childproc.WithPipes())
	if err != nil {
		return err
	}

	s.proc = proc
	s.stdout = make(chan []byte, 64)
	s.stderr = make(chan []byte, 64)

	go pump(proc.Stdout, s.stdout)
	go pump(proc.Stderr, s.stderr)

	s.log.Debug("sandbox subshell started",
		slog.String("event.type", "sandbox.start"),
		slog.Int("pid", proc.Pid()),
	)

	return nil
}

// pump reads chunks from r into ch until EOF or error, then closes ch.
func pump(r io.Reader, ch chan<- []byte) {
	defer close(ch)

	buf := make([]byte, readChunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ch <- chunk
		}

		if err != nil {
			return
		}
	}
}

// Disabled reports whether the session is in the permanent fail-safe
// state.
func (s *Session) Disabled() bool {
	return s.disabled
}

// Pid returns the subshell pid, or 0 when disabled.
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// Test streams command into the subshell and classifies the outcome
// from its stdout/stderr within the timeout window. When the session is
// Disabled it always returns VerdictEscalate so the caller falls through
// to gateway validation.
func (s *Session) Test(ctx context.Context, command string) Verdict {
	if s.disabled {
		return Verdict{Kind: VerdictEscalate}
	}

	// Delayed output from a previous exchange belongs to nobody; drop
	// it so it cannot be attributed to this command. A closed channel
	// here means the subshell already died.
	if !s.drain() {
		s.recover()

		return Verdict{Kind: VerdictEscalate}
	}

	if _, err := s.proc.Stdin.Write([]byte(command + "\n")); err != nil {
		s.log.Warn("sandbox write failed",
			slog.String("event.type", "sandbox.channel_broken"),
			slog.String("error", err.Error()),
		)
		s.recover()

		return Verdict{Kind: VerdictEscalate}
	}

	verdict, ok := s.collect(ctx)
	if !ok {
		s.recover()

		return Verdict{Kind: VerdictEscalate}
	}

	s.respawnUsed = false

	return verdict
}

// collect multiplexes the output channels under the session timeout and
// classifies the exchange. The second return is false when a channel
// closed underneath us (subshell died).
func (s *Session) collect(ctx context.Context) (Verdict, bool) {
	var (
		out       []byte
		hasStdout bool
		hasStderr bool
		started   bool
	)

	deadline := time.NewTimer(s.opts.Timeout)
	defer deadline.Stop()

	gap := time.NewTimer(s.opts.Timeout)
	defer gap.Stop()

	for {
		select {
		case chunk, ok := <-s.stdout:
			if !ok {
				return Verdict{}, false
			}

			hasStdout = true
			out = appendBounded(out, chunk)

		case chunk, ok := <-s.stderr:
			if !ok {
				return Verdict{}, false
			}

			hasStderr = true
			out = appendBounded(out, chunk)

		case <-deadline.C:
			return classify(out, hasStdout, hasStderr), true

		case <-gap.C:
			if started {
				return classify(out, hasStdout, hasStderr), true
			}

			// Nothing arrived yet and the gap timer fired only because
			// it was seeded with the full timeout; keep waiting on the
			// deadline alone.
			gap.Reset(s.opts.Timeout)

		case <-ctx.Done():
			return classify(out, hasStdout, hasStderr), true
		}

		if (hasStdout || hasStderr) && !started {
			started = true
		}

		if started {
			if !gap.Stop() {
				select {
				case <-gap.C:
				default:
				}
			}
			gap.Reset(quietGap)
		}
	}
}

func classify(out []byte, hasStdout, hasStderr bool) Verdict {
	switch {
	case hasStderr:
		return Verdict{Kind: VerdictEscalate, Output: out}
	case hasStdout:
		return Verdict{Kind: VerdictOutput, Output: out}
	default:
		return Verdict{Kind: VerdictSilent}
	}
}

func appendBounded(buf, chunk []byte) []byte {
	room := maxCaptureBytes - len(buf)
	if room <= 0 {
		return buf
	}

	if len(chunk) > room {
		chunk = chunk[:room]
	}

	return append(buf, chunk...)
}

// drain discards any buffered chunks without blocking. It reports
// false when a channel has closed underneath us, which means the
// subshell died between exchanges.
func (s *Session) drain() bool {
	for {
		select {
		case _, ok := <-s.stdout:
			if !ok {
				return false
			}
		case _, ok := <-s.stderr:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// recover tears the broken session down and respawns it once. A second
// consecutive failure disables the session for the remainder of the
// process lifetime.
func (s *Session) recover() {
	if s.respawnUsed {
		s.log.Warn("sandbox failed twice; disabling for this session",
			slog.String("event.type", "sandbox.disabled"),
		)
		s.disabled = true

		return
	}

	s.respawnUsed = true
	s.teardown()

	if err := s.spawn(); err != nil {
		s.log.Warn("sandbox respawn failed; disabling",
			slog.String("event.type", "sandbox.disabled"),
			slog.String("error", err.Error()),
		)
		s.disabled = true
	}
}

func (s *Session) teardown() {
	if s.proc == nil {
		return
	}

	s.proc.Stop(shutdownGrace)
	s.proc = nil
}

// Close shuts the subshell down by sending the termination line and
// waiting for exit, escalating if it lingers.
func (s *Session) Close() {
	if s.disabled || s.proc == nil {
		return
	}

	if _, err := s.proc.Stdin.Write([]byte("exit\n")); err == nil {
		done := make(chan struct{})
		go func() {
			_ = s.proc.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.proc = nil
			return
		case <-time.After(shutdownGrace):
		}
	}

	s.teardown()

	s.log.Debug("sandbox subshell stopped", slog.String("event.type", "sandbox.stop"))
}

// String describes the session state for status displays.
func (s *Session) String() string {
	if s.disabled {
		return "disabled"
	}

	return fmt.Sprintf("pid %d", s.proc.Pid())
}
