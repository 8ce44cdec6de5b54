// Package doctor provides diagnostic checks for gatesh health.
//
// This package implements a check framework that validates:
//   - Sandbox shell availability
//   - Backend and gateway helper binaries and sockets
//   - AI provider credentials
//   - Shell version against latest release
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gatesh-dev/gatesh/internal/auth"
	"github.com/gatesh-dev/gatesh/internal/backend"
	"github.com/gatesh-dev/gatesh/internal/buildinfo"
	"github.com/gatesh-dev/gatesh/internal/config"
	"github.com/gatesh-dev/gatesh/internal/gateway"
	"github.com/gatesh-dev/gatesh/internal/update"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Result holds the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Detail  string // Optional additional detail
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a new diagnostic runner.
func New() *Runner {
	r := &Runner{}

	// Register default checks
	r.AddCheck("Sandbox Shell", checkSandboxShell)
	r.AddCheck("Backend Helper", checkBackendHelper)
	r.AddCheck("Gateway Helper", checkGatewayHelper)
	r.AddCheck("Backend Socket", checkBackendSocket)
	r.AddCheck("Gateway Socket", checkGatewaySocket)
	r.AddCheck("Credentials", checkCredentials)
	r.AddCheck("Shell Version", checkShellVersion)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

// lookupHelper finds a helper binary on PATH or under ~/.local/bin.
func lookupHelper(name string) (string, bool) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, true
		}

		return "", false
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, true
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}

	local := filepath.Join(home, ".local", "bin", name)
	if _, err := os.Stat(local); err == nil {
		return local, true
	}

	return "", false
}

// checkSandboxShell verifies the dry-run subshell exists. Without it
// the shell runs with the sandbox disabled and every command goes
// through the gateway.
func checkSandboxShell(_ context.Context) Result {
	shell := config.Load().SandboxShell()

	if _, err := os.Stat(shell); err != nil {
		return Result{
			Status:  StatusFail,
			Message: shell + " not found",
			Detail:  "Set sandbox.shell in the config to an existing shell binary",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: shell,
	}
}

// checkBackendHelper verifies the AI backend binary is installed.
func checkBackendHelper(_ context.Context) Result {
	name := config.Load().BackendCommand()

	path, ok := lookupHelper(name)
	if !ok {
		return Result{
			Status:  StatusFail,
			Message: name + " not found",
			Detail:  "Install the backend helper on PATH or under ~/.local/bin",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: path,
	}
}

// checkGatewayHelper verifies the security gateway binary is installed.
func checkGatewayHelper(_ context.Context) Result {
	name := config.Load().GatewayCommand()

	path, ok := lookupHelper(name)
	if !ok {
		return Result{
			Status:  StatusWarn,
			Message: name + " not found",
			Detail:  "Without the gateway the shell runs in fail-open mode",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: path,
	}
}

// checkBackendSocket probes a running backend over its socket.
func checkBackendSocket(ctx context.Context) Result {
	sock := config.Load().BackendSocket()

	client := backend.New(backend.Options{SocketPath: sock})
	defer client.Close()

	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := client.Connect(dialCtx); err != nil {
		return Result{
			Status:  StatusWarn,
			Message: "Not running",
			Detail:  sock + " is not accepting connections; the shell launches the helper at startup",
		}
	}

	switch client.CheckStatus(ctx) {
	case backend.StateReady:
		return Result{Status: StatusPass, Message: "Ready at " + sock}
	case backend.StateLoading:
		return Result{Status: StatusWarn, Message: "Still loading at " + sock}
	default:
		return Result{Status: StatusWarn, Message: "Unresponsive at " + sock}
	}
}

// checkGatewaySocket probes a running gateway over its socket.
func checkGatewaySocket(ctx context.Context) Result {
	sock := config.Load().GatewaySocket()

	client := gateway.New(gateway.Options{SocketPath: sock})

	if err := client.Probe(ctx); err != nil {
		return Result{
			Status:  StatusWarn,
			Message: "Not running",
			Detail:  sock + " is not accepting connections; the shell launches the helper at startup",
		}
	}

	return Result{Status: StatusPass, Message: "Listening at " + sock}
}

// checkCredentials validates stored provider credentials.
func checkCredentials(_ context.Context) Result {
	provider := config.Load().Provider()

	source, apiKey := auth.GetCredentials(provider)
	if apiKey == "" {
		return Result{
			Status:  StatusFail,
			Message: "No API key for provider " + provider,
			Detail:  "Run 'gatesh auth login' to store one",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s key (via %s)", provider, source),
	}
}

// checkShellVersion checks the shell version against the latest release.
func checkShellVersion(ctx context.Context) Result {
	current := buildinfo.Version

	if current == "dev" {
		return Result{
			Status:  StatusWarn,
			Message: "Development build (version check skipped)",
		}
	}

	if update.IsDisabled() {
		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("v%s (update checks disabled)", current),
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	updater, err := update.NewUpdater()
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("v%s (could not check for updates)", current),
			Detail:  err.Error(),
		}
	}

	info, err := updater.CheckLatest(checkCtx, current)
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("v%s (could not check for updates)", current),
			Detail:  err.Error(),
		}
	}

	if info.UpdateAvailable {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("v%s (v%s available)", current, info.LatestVersion),
			Detail:  "Run 'gatesh update' to update",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("v%s (latest)", current),
	}
}

// RenderResults formats diagnostic results to the given output writer.
func RenderResults(results []Result, printFn, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	maxNameLen := 0
	for _, r := range results {
		if len(r.Name) > maxNameLen {
			maxNameLen = len(r.Name)
		}
	}

	for _, r := range results {
		symbol := r.Status.Symbol()
		padding := maxNameLen - len(r.Name) + 4

		switch r.Status {
		case StatusPass:
			successFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusWarn:
			warningFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusFail:
			failureFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		default:
			printFn("%s %-*s%s\n", symbol, len(r.Name)+padding, r.Name, r.Message)
		}

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

const (
	checkMark   = "✓" // ✓
	xMark       = "✗" // ✗
	warningMark = "⚠" // ⚠
)
