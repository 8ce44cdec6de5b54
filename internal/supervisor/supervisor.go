// Package supervisor keeps the backend and gateway helper processes
// alive. It is deliberately not a daemon: the router calls Check on a
// fixed command cadence, so supervision costs nothing while the shell
// is idle and a human is always in the loop when something restarts.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gatesh-dev/gatesh/internal/backend"
	"github.com/gatesh-dev/gatesh/internal/childproc"
	"github.com/gatesh-dev/gatesh/internal/gateway"
)

const (
	// CheckInterval is the number of handled commands between health
	// checks.
	CheckInterval = 10

	// connectBudget bounds the wait for the backend socket after a
	// fresh launch.
	connectBudget = 10 * time.Second

	// connectRetryGap separates dial attempts during startup.
	connectRetryGap = 500 * time.Millisecond

	// stopGrace is the per-signal wait when shutting children down.
	stopGrace = 2 * time.Second
)

// Status is the health snapshot shown in the prompt.
type Status struct {
	Backend backend.State
	Gateway bool
}

// Options configures a Supervisor.
type Options struct {
	Backend *backend.Client
	Gateway *gateway.Client

	// BackendCommand and GatewayCommand are the helper launch argv.
	// The binary is resolved via PATH with a ~/.local/bin fallback.
	BackendCommand []string
	GatewayCommand []string

	Logger *slog.Logger
}

// Supervisor owns the helper processes.
type Supervisor struct {
	backendClient *backend.Client
	gatewayClient *gateway.Client
	log           *slog.Logger

	launchBackend func() (*childproc.Process, error)
	launchGateway func() (*childproc.Process, error)

	backendProc *childproc.Process
	gatewayProc *childproc.Process
}

// New builds a Supervisor. Nothing is launched yet.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Supervisor{
		backendClient: opts.Backend,
		gatewayClient: opts.Gateway,
		log:           opts.Logger.With(slog.String("component", "supervisor")),
		launchBackend: launcher(opts.BackendCommand),
		launchGateway: launcher(opts.GatewayCommand),
	}
}

// launcher builds the spawn closure for one helper argv.
func launcher(argv []string) func() (*childproc.Process, error) {
	return func() (*childproc.Process, error) {
		if len(argv) == 0 {
			return nil, exec.ErrNotFound
		}

		path, err := resolveBinary(argv[0])
		if err != nil {
			return nil, err
		}

		return childproc.Spawn(path, argv[1:])
	}
}

// resolveBinary looks the helper up on PATH, then under ~/.local/bin,
// where the installer drops the helpers when PATH is not set up.
func resolveBinary(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", exec.ErrNotFound
	}

	local := filepath.Join(home, ".local", "bin", name)
	if _, err := os.Stat(local); err != nil {
		return "", exec.ErrNotFound
	}

	return local, nil
}

// Start launches both helpers and waits up to connectBudget for the
// backend socket to accept. A helper that fails to launch is logged and
// left down; the shell still works through the remaining channels.
func (s *Supervisor) Start(ctx context.Context) Status {
	if proc, err := s.launchGateway(); err != nil {
		s.log.Warn("gateway launch failed",
			slog.String("event.type", "supervisor.launch"),
			slog.Any("error", err),
		)
	} else {
		s.gatewayProc = proc
	}

	if proc, err := s.launchBackend(); err != nil {
		s.log.Warn("backend launch failed",
			slog.String("event.type", "supervisor.launch"),
			slog.Any("error", err),
		)
		s.backendClient.MarkFailed()
	} else {
		s.backendProc = proc
		s.connectBackend(ctx)
	}

	return s.status(ctx)
}

// connectBackend retries the backend dial until the budget runs out.
func (s *Supervisor) connectBackend(ctx context.Context) {
	deadline := time.Now().Add(connectBudget)

	for {
		if err := s.backendClient.Connect(ctx); err == nil {
			return
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			s.log.Warn("backend socket never came up",
				slog.String("event.type", "supervisor.connect"),
			)

			return
		}

		time.Sleep(connectRetryGap)
	}
}

// Check probes both channels and makes at most one restart attempt per
// channel. It is called by the router every CheckInterval commands.
func (s *Supervisor) Check(ctx context.Context) Status {
	s.checkBackend(ctx)
	s.checkGateway(ctx)

	return s.status(ctx)
}

func (s *Supervisor) checkBackend(ctx context.Context) {
	if s.backendProc != nil && s.backendProc.Alive() {
		// Process is up; refresh readiness over the socket.
		if !s.backendClient.Connected() {
			_ = s.backendClient.Connect(ctx)
		}

		if s.backendClient.State() == backend.StateLoading {
			s.backendClient.CheckStatus(ctx)
		}

		return
	}

	s.backendClient.MarkFailed()

	if s.backendProc != nil {
		s.backendProc.Stop(stopGrace)
		s.backendProc = nil
	}

	s.log.Warn("backend process down, restarting",
		slog.String("event.type", "supervisor.restart"),
	)

	proc, err := s.launchBackend()
	if err != nil {
		s.log.Warn("backend restart failed",
			slog.String("event.type", "supervisor.restart"),
			slog.Any("error", err),
		)

		return
	}

	s.backendProc = proc
	s.backendClient.MarkLoading()
	_ = s.backendClient.Connect(ctx)
}

func (s *Supervisor) checkGateway(ctx context.Context) {
	if err := s.gatewayClient.Probe(ctx); err == nil {
		return
	}

	if s.gatewayProc != nil {
		s.gatewayProc.Stop(stopGrace)
		s.gatewayProc = nil
	}

	s.log.Warn("gateway unreachable, restarting",
		slog.String("event.type", "supervisor.restart"),
	)

	proc, err := s.launchGateway()
	if err != nil {
		s.log.Warn("gateway restart failed",
			slog.String("event.type", "supervisor.restart"),
			slog.Any("error", err),
		)

		return
	}

	s.gatewayProc = proc
}

func (s *Supervisor) status(ctx context.Context) Status {
	return Status{
		Backend: s.backendClient.State(),
		Gateway: s.gatewayClient.Probe(ctx) == nil,
	}
}

// Pids reports the helper process ids, 0 for a helper that is down.
func (s *Supervisor) Pids() (backendPid, gatewayPid int) {
	if s.backendProc != nil {
		backendPid = s.backendProc.Pid()
	}

	if s.gatewayProc != nil {
		gatewayPid = s.gatewayProc.Pid()
	}

	return backendPid, gatewayPid
}

// Shutdown stops both helpers with signal escalation.
func (s *Supervisor) Shutdown() {
	s.backendClient.Close()

	if s.backendProc != nil {
		s.backendProc.Stop(stopGrace)
		s.backendProc = nil
	}

	if s.gatewayProc != nil {
		s.gatewayProc.Stop(stopGrace)
		s.gatewayProc = nil
	}
}
