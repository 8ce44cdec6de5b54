package main

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatesh-dev/gatesh/internal/auth"
	"github.com/gatesh-dev/gatesh/internal/backend"
	"github.com/gatesh-dev/gatesh/internal/classify"
	"github.com/gatesh-dev/gatesh/internal/config"
	"github.com/gatesh-dev/gatesh/internal/execute"
	"github.com/gatesh-dev/gatesh/internal/gateway"
	"github.com/gatesh-dev/gatesh/internal/observability"
	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/router"
	"github.com/gatesh-dev/gatesh/internal/sandbox"
	"github.com/gatesh-dev/gatesh/internal/supervisor"
)

// runShell is the root command: the interactive loop that owns the
// terminal until exit.
func runShell(cmd *cobra.Command) error {
	out := output.FromContext(cmd.Context())
	log := observability.FromContext(cmd.Context())

	cfg := config.Load()
	out.Verbose = cfg.Verbose() > 0

	// Widen the classification tables from the user's overlay before
	// anything routes.
	if overlay, err := classify.LoadOverlay(cfg.AllowlistPath()); err != nil {
		out.Warning("ignoring allowlist overlay: %v", err)
	} else {
		overlay.Apply()
	}

	// The backend helper reads the provider key from its environment.
	exportProviderKey(cfg.Provider())

	// Leftover socket files from a crashed session block the helpers
	// from binding.
	removeStaleSocket(cfg.BackendSocket())
	removeStaleSocket(cfg.GatewaySocket())

	sb := sandbox.Start(sandbox.Options{
		ShellPath: cfg.SandboxShell(),
		Timeout:   time.Duration(cfg.SandboxTimeout()) * time.Second,
		Logger:    log,
	})

	backendClient := backend.New(backend.Options{
		SocketPath: cfg.BackendSocket(),
		Logger:     log,
		OnThinking: func(int) { out.Marker() },
	})

	gatewayClient := gateway.New(gateway.Options{
		SocketPath: cfg.GatewaySocket(),
		Timeout:    time.Duration(cfg.GatewayTimeout()) * time.Second,
		Logger:     log,
	})

	sup := supervisor.New(supervisor.Options{
		Backend:        backendClient,
		Gateway:        gatewayClient,
		BackendCommand: []string{cfg.BackendCommand()},
		GatewayCommand: []string{cfg.GatewayCommand()},
		Logger:         log,
	})

	// SIGTERM ends the session gracefully. SIGINT only interrupts the
	// current line; it must never reach the helper children.
	ctx, stopNotify := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stopNotify()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	defer signal.Stop(sigint)

	spin := out.Spinner("Starting helpers")
	spin.Start()

	status := sup.Start(ctx)
	if backendClient.Connected() {
		status.Backend = backendClient.CheckStatus(ctx)
	}

	switch status.Backend {
	case backend.StateReady:
		spin.StopWithSuccess("AI backend ready")
	case backend.StateLoading:
		spin.StopWithWarning("AI backend still loading")
	default:
		spin.StopWithWarning("AI backend unavailable, shell continues without assistance")
	}

	if !status.Gateway {
		out.Warning("security gateway unreachable, commands run without validation")
	}

	rt := router.New(router.Options{
		Sandbox:    sb,
		Gateway:    gatewayClient,
		Backend:    backendClient,
		Supervisor: sup,
		Executor:   execute.NewRunner(execute.Options{ShellPath: cfg.SandboxShell(), Logger: log}),
		Output:     out,
		Logger:     log,
		Tracer:     observability.Tracer("gatesh/router"),
	})
	rt.SetStatus(status)

	defer func() {
		sup.Shutdown()
		sb.Close()

		_ = os.Remove(cfg.BackendSocket())
		_ = os.Remove(cfg.GatewaySocket())
	}()

	lines := readLines(os.Stdin)

	for {
		out.Print("%s", promptString(rt.Status()))

		select {
		case <-ctx.Done():
			out.Println()
			return nil
		case <-sigint:
			// Abandon the current line, fresh prompt next iteration.
			out.Println()

			continue
		case line, ok := <-lines:
			if !ok {
				out.Println()
				return nil
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if line == "exit" {
				return nil
			}

			if handleLocal(out, cfg, sup, sb, rt, line) {
				continue
			}

			if rest, ok := strings.CutPrefix(line, "ai "); ok {
				askBackend(ctx, out, backendClient, rt, rest)
			} else {
				rt.Handle(ctx, line)
			}

			out.EndMarkers()
		}
	}
}

// readLines feeds stdin lines into a channel so the loop can also wait
// on signals. The channel closes on EOF.
func readLines(f *os.File) <-chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)

		rd := bufio.NewReader(f)

		for {
			line, err := rd.ReadString('\n')
			if line != "" {
				ch <- strings.TrimRight(line, "\n")
			}

			if err != nil {
				return
			}
		}
	}()

	return ch
}

// askBackend sends a direct request to the AI backend, bypassing the
// sandbox pass on the request itself. Any command the backend suggests
// still goes through the full pipeline with suggestion trust.
func askBackend(ctx context.Context, out *output.Writer, client *backend.Client, rt *router.Router, text string) {
	verdict, err := client.Run(ctx, text)
	if err != nil {
		out.Warning("assistant unavailable: %v", err)
		return
	}

	switch verdict.Kind {
	case backend.VerdictRunCommand:
		out.Muted("$ %s", verdict.Command)
		rt.HandleSuggested(ctx, verdict.Command)
	case backend.VerdictDisplay:
		out.Info("%s", verdict.Text)
	default:
		out.Println(verdict.Text)
	}
}

// handleLocal runs shell builtins and gatesh control commands. Returns
// true when the line was consumed locally.
func handleLocal(out *output.Writer, cfg *config.Config, sup *supervisor.Supervisor, sb *sandbox.Session, rt *router.Router, line string) bool {
	fields := strings.Fields(line)

	switch fields[0] {
	case "cd":
		changeDir(out, fields)
		return true
	case "pwd":
		if cwd, err := os.Getwd(); err == nil {
			out.Println(cwd)
		}

		return true
	case "gash":
		printControlHelp(out)
		return true
	case "gast":
		printStatus(out, cfg, sup, sb, rt)
		return true
	case "gasv":
		setVerbose(out, cfg, fields)
		return true
	case "gasp":
		setProvider(out, cfg, fields)
		return true
	}

	return false
}

// changeDir is the cd builtin. The backend learns the new directory on
// its next exchange through the working-directory sync.
func changeDir(out *output.Writer, fields []string) {
	target := ""

	if len(fields) > 1 {
		target = fields[1]
	}

	if target == "" || target == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			out.Failure("cd: %v", err)
			return
		}

		target = home
	} else if strings.HasPrefix(target, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			out.Failure("cd: %v", err)
			return
		}

		target = filepath.Join(home, target[2:])
	}

	if err := os.Chdir(target); err != nil {
		out.Failure("cd: %v", err)
	}
}

func printControlHelp(out *output.Writer) {
	out.Println("gatesh control commands:")
	out.Println("  gash             this help")
	out.Println("  gast             session status")
	out.Println("  gasv <0|1|2>     set verbosity (persisted)")
	out.Println("  gasp <provider>  switch AI provider (persisted, takes effect on restart)")
	out.Println("  ai <request>     send a request straight to the AI backend")
	out.Println("  cd / pwd / exit  shell builtins")
}

func printStatus(out *output.Writer, cfg *config.Config, sup *supervisor.Supervisor, sb *sandbox.Session, rt *router.Router) {
	st := rt.Status()
	backendPid, gatewayPid := sup.Pids()

	out.Print("provider:  %s\n", cfg.Provider())
	out.Print("model:     %s\n", cfg.Model())
	out.Print("backend:   %s (pid %d)\n", st.Backend, backendPid)
	out.Print("gateway:   %s (pid %d)\n", upDown(st.Gateway), gatewayPid)
	out.Print("sandbox:   %s\n", sb)
	out.Print("verbose:   %d\n", cfg.Verbose())
}

func upDown(up bool) string {
	if up {
		return "up"
	}

	return "down"
}

func setVerbose(out *output.Writer, cfg *config.Config, fields []string) {
	if len(fields) != 2 {
		out.Warning("usage: gasv <0|1|2>")
		return
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 || n > 2 {
		out.Warning("usage: gasv <0|1|2>")
		return
	}

	if err := cfg.Set("verbose", n); err != nil {
		out.Failure("persist verbose level: %v", err)
		return
	}

	out.Verbose = n > 0
	out.Success("verbose = %d", n)
}

func setProvider(out *output.Writer, cfg *config.Config, fields []string) {
	if len(fields) != 2 {
		out.Warning("usage: gasp <provider>")
		return
	}

	if err := cfg.Set("ai.provider", fields[1]); err != nil {
		out.Failure("persist provider: %v", err)
		return
	}

	out.Success("provider = %s (backend picks it up on restart)", fields[1])
}

// exportProviderKey copies a stored credential into the provider's
// conventional environment variable so launched helpers inherit it.
func exportProviderKey(provider string) {
	envVar, ok := auth.ProviderEnvVar(provider)
	if !ok || os.Getenv(envVar) != "" {
		return
	}

	if source, key := auth.GetCredentials(provider); source != auth.SourceNone {
		_ = os.Setenv(envVar, key)
	}
}

// removeStaleSocket unlinks a socket file nobody is listening on.
func removeStaleSocket(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return
	}

	if err := os.Remove(path); err != nil {
		slog.Debug("stale socket removal failed",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

// promptString renders "user@host:cwd [a? g?] > " with one-glyph health
// indicators for the backend and the gateway.
func promptString(st supervisor.Status) string {
	username := "user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "?"
	} else if home, herr := os.UserHomeDir(); herr == nil && strings.HasPrefix(cwd, home) {
		cwd = "~" + cwd[len(home):]
	}

	return username + "@" + host + ":" + cwd + " [a" + backendGlyph(st.Backend) + " g" + gatewayGlyph(st.Gateway) + "] > "
}

func backendGlyph(st backend.State) string {
	switch st {
	case backend.StateReady:
		return output.CheckMark
	case backend.StateLoading:
		return "~"
	default:
		return output.XMark
	}
}

func gatewayGlyph(up bool) string {
	if up {
		return output.CheckMark
	}

	return output.XMark
}
