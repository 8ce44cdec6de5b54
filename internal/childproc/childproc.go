//go:build unix

// Package childproc is the single fork/exec/pipe abstraction shared by
// every component that owns a child process: the sandbox subshell, and
// the supervisor-launched backend and gateway services.
package childproc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Process is a running child with its channel handles.
type Process struct {
	cmd  *exec.Cmd
	pgid int

	// Pipe handles; nil unless spawned with WithPipes.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// StartedAt is when the child was spawned.
	StartedAt time.Time

	// done closes once the reaper goroutine has collected the exit
	// status into waitErr, so Wait and Stop can both observe it any
	// number of times.
	done    chan struct{}
	waitErr error
}

// Option configures a spawn.
type Option func(*spawnConfig)

type spawnConfig struct {
	pipes bool
	env   []string
	dir   string
}

// WithPipes wires stdin/stdout/stderr to pipes owned by the parent.
// Without it the child's stdio goes to /dev/null.
func WithPipes() Option {
	return func(c *spawnConfig) { c.pipes = true }
}

// WithEnv appends variables (KEY=VALUE) to the child's environment.
func WithEnv(env ...string) Option {
	return func(c *spawnConfig) { c.env = append(c.env, env...) }
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(c *spawnConfig) { c.dir = dir }
}

// Spawn starts path with args as a child process in its own process
// group, so terminal-generated SIGINT never reaches it.
func Spawn(path string, args []string, opts ...Option) (*Process, error) {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	cmd := exec.Command(path, args...) //nolint:gosec // G204: launch paths come from our own config
	cmd.Env = append(os.Environ(), cfg.env...)
	cmd.Dir = cfg.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Process{cmd: cmd}

	if cfg.pipes {
		var err error

		if p.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}

		if p.Stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}

		if p.Stderr, err = cmd.StderrPipe(); err != nil {
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", path, err)
	}

	p.StartedAt = time.Now()

	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		p.pgid = pgid
	}

	p.done = make(chan struct{})
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Pid returns the child's process id, or 0 if it never started.
func (p *Process) Pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

// Alive reports whether the child process still exists, using a
// signal-0 existence probe.
func (p *Process) Alive() bool {
	pid := p.Pid()
	if pid <= 0 {
		return false
	}

	return unix.Kill(pid, 0) == nil
}

// Wait blocks until the child exits and returns its exit error. Safe to
// call more than once, and after Stop.
func (p *Process) Wait() error {
	if p == nil || p.done == nil {
		return nil
	}

	<-p.done

	return p.waitErr
}

// Stop terminates the child: SIGTERM first, escalating to SIGKILL if
// the process has not exited within grace. Safe to call more than once.
func (p *Process) Stop(grace time.Duration) {
	pid := p.Pid()
	if pid <= 0 {
		return
	}

	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}

	// The exit status may already be collected; signaling then would
	// hit whatever process recycled the pid.
	select {
	case <-p.done:
		return
	default:
	}

	sendSignal(pid, p.pgid, syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
		sendSignal(pid, p.pgid, syscall.SIGKILL)

		select {
		case <-p.done:
		case <-time.After(grace):
		}
	}
}

func sendSignal(pid, pgid int, sig syscall.Signal) {
	if pgid > 0 {
		if err := syscall.Kill(-pgid, sig); err == nil || errors.Is(err, syscall.ESRCH) {
			return
		}
	}

	if pid <= 0 {
		return
	}

	_ = syscall.Kill(pid, sig)
}
