package router

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gatesh-dev/gatesh/internal/backend"
	"github.com/gatesh-dev/gatesh/internal/gateway"
	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/sandbox"
	"github.com/gatesh-dev/gatesh/internal/supervisor"
	"github.com/gatesh-dev/gatesh/internal/terminal"
)

type fakeSandbox struct {
	calls    []string
	verdicts map[string]sandbox.Verdict
}

func (f *fakeSandbox) Test(_ context.Context, command string) sandbox.Verdict {
	f.calls = append(f.calls, command)

	return f.verdicts[command]
}

type fakeGateway struct {
	calls    []string
	verdicts map[string]gateway.Verdict
}

func (f *fakeGateway) Validate(_ context.Context, command string) gateway.Verdict {
	f.calls = append(f.calls, command)

	v, ok := f.verdicts[command]
	if !ok {
		return gateway.Verdict{Kind: gateway.VerdictApproved, Command: command}
	}

	return v
}

type fakeBackend struct {
	calls    []string
	verdicts []backend.Verdict
	err      error
	state    backend.State
}

func (f *fakeBackend) Query(_ context.Context, text string) (backend.Verdict, error) {
	f.calls = append(f.calls, text)

	if f.err != nil {
		return backend.Verdict{}, f.err
	}

	v := f.verdicts[0]
	if len(f.verdicts) > 1 {
		f.verdicts = f.verdicts[1:]
	}

	return v, nil
}

func (f *fakeBackend) State() backend.State { return f.state }

type fakeSupervisor struct {
	checks int
}

func (f *fakeSupervisor) Check(context.Context) supervisor.Status {
	f.checks++

	return supervisor.Status{Backend: backend.StateReady, Gateway: true}
}

type fakeExecutor struct {
	ran         []string
	interactive []string
}

func (f *fakeExecutor) Run(_ context.Context, command string) error {
	f.ran = append(f.ran, command)

	return nil
}

func (f *fakeExecutor) RunInteractive(_ context.Context, command string) error {
	f.interactive = append(f.interactive, command)

	return nil
}

type fixture struct {
	router  *Router
	sandbox *fakeSandbox
	gateway *fakeGateway
	backend *fakeBackend
	super   *fakeSupervisor
	exec    *fakeExecutor
	out     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sandbox: &fakeSandbox{verdicts: map[string]sandbox.Verdict{}},
		gateway: &fakeGateway{verdicts: map[string]gateway.Verdict{}},
		backend: &fakeBackend{state: backend.StateReady, verdicts: []backend.Verdict{{}}},
		super:   &fakeSupervisor{},
		exec:    &fakeExecutor{},
		out:     &bytes.Buffer{},
	}

	w := output.NewWriter(f.out, f.out, terminal.Plain())
	w.SetNoColor(true)

	f.router = New(Options{
		Sandbox:    f.sandbox,
		Gateway:    f.gateway,
		Backend:    f.backend,
		Supervisor: f.super,
		Executor:   f.exec,
		Output:     w,
	})

	return f
}

func TestHandle_FastPathSkipsPipeline(t *testing.T) {
	f := newFixture(t)

	f.router.Handle(context.Background(), "df -h")

	if len(f.sandbox.calls) != 0 {
		t.Errorf("sandbox called for allow-listed command: %v", f.sandbox.calls)
	}

	if len(f.gateway.calls) != 0 {
		t.Errorf("gateway called for allow-listed command: %v", f.gateway.calls)
	}

	if len(f.exec.ran) != 1 || f.exec.ran[0] != "df -h" {
		t.Errorf("ran = %v", f.exec.ran)
	}
}

func TestHandle_LsAndEchoGoThroughSandbox(t *testing.T) {
	f := newFixture(t)
	f.sandbox.verdicts["ls /nonexistent"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("ls: cannot access '/nonexistent'\n"),
	}
	f.sandbox.verdicts["echo hi"] = sandbox.Verdict{
		Kind:   sandbox.VerdictOutput,
		Output: []byte("hi\n"),
	}

	f.router.Handle(context.Background(), "ls /nonexistent")

	if len(f.sandbox.calls) != 1 || f.sandbox.calls[0] != "ls /nonexistent" {
		t.Fatalf("sandbox calls = %v, want the failing ls", f.sandbox.calls)
	}

	if len(f.gateway.calls) != 1 || f.gateway.calls[0] != "ls /nonexistent" {
		t.Fatalf("gateway calls = %v, want validation of the failing ls", f.gateway.calls)
	}

	f.router.Handle(context.Background(), "echo hi")

	if len(f.sandbox.calls) != 2 || f.sandbox.calls[1] != "echo hi" {
		t.Fatalf("sandbox calls = %v, want echo added", f.sandbox.calls)
	}

	if len(f.gateway.calls) != 1 {
		t.Errorf("gateway calls = %v; stdout-only command must not reach the gateway", f.gateway.calls)
	}

	if !strings.Contains(f.out.String(), "hi") {
		t.Errorf("output = %q, want the sandbox stdout displayed", f.out.String())
	}
}

func TestHandle_InteractiveGoesToTerminal(t *testing.T) {
	f := newFixture(t)

	f.router.Handle(context.Background(), "vim notes.txt")

	if len(f.exec.interactive) != 1 || f.exec.interactive[0] != "vim notes.txt" {
		t.Errorf("interactive = %v", f.exec.interactive)
	}

	if len(f.sandbox.calls) != 0 {
		t.Errorf("sandbox called for interactive command: %v", f.sandbox.calls)
	}
}

func TestHandle_StdoutOnlyDisplaysAndStops(t *testing.T) {
	f := newFixture(t)
	f.sandbox.verdicts["tar -tf backup.tar"] = sandbox.Verdict{
		Kind:   sandbox.VerdictOutput,
		Output: []byte("file one\nfile two\n"),
	}

	f.router.Handle(context.Background(), "tar -tf backup.tar")

	if got := f.out.String(); got != "file one\nfile two\n" {
		t.Errorf("output = %q", got)
	}

	if len(f.gateway.calls) != 0 {
		t.Errorf("gateway contacted: %v", f.gateway.calls)
	}

	if len(f.exec.ran) != 0 {
		t.Errorf("executed: %v", f.exec.ran)
	}
}

func TestHandle_SilentStaysSilent(t *testing.T) {
	f := newFixture(t)
	f.sandbox.verdicts["touch /tmp/x"] = sandbox.Verdict{Kind: sandbox.VerdictSilent}

	f.router.Handle(context.Background(), "touch /tmp/x")

	if f.out.Len() != 0 {
		t.Errorf("output = %q", f.out.String())
	}

	if len(f.exec.ran)+len(f.exec.interactive) != 0 {
		t.Error("silent verdict led to execution")
	}
}

func TestHandle_EscalateHitsGatewayExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.state = backend.StateLoading
	f.sandbox.verdicts["tar -xf missing.tar"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("tar: missing.tar: Cannot open\n"),
	}

	f.router.Handle(context.Background(), "tar -xf missing.tar")

	if len(f.gateway.calls) != 1 || f.gateway.calls[0] != "tar -xf missing.tar" {
		t.Fatalf("gateway calls = %v, want exactly one", f.gateway.calls)
	}

	// Approved, not natural language: runs for real.
	if len(f.exec.ran) != 1 {
		t.Errorf("ran = %v", f.exec.ran)
	}
}

func TestHandle_BlockedReasonSurfacedNoExecution(t *testing.T) {
	f := newFixture(t)
	f.sandbox.verdicts["rm -rf /"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("rm: it is dangerous to operate recursively on '/'\n"),
	}
	f.gateway.verdicts["rm -rf /"] = gateway.Verdict{
		Kind:   gateway.VerdictBlocked,
		Reason: "recursive delete of filesystem root",
	}

	f.router.Handle(context.Background(), "rm -rf /")

	if !strings.Contains(f.out.String(), "recursive delete of filesystem root") {
		t.Errorf("blocked reason missing from output: %q", f.out.String())
	}

	if len(f.exec.ran)+len(f.exec.interactive) != 0 {
		t.Error("blocked command executed")
	}
}

func TestHandle_GatewayUnavailableFailsOpenWithWarning(t *testing.T) {
	f := newFixture(t)
	f.backend.state = backend.StateLoading
	f.sandbox.verdicts["make install"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("make: *** No rule to make target 'install'.\n"),
	}
	f.gateway.verdicts["make install"] = gateway.Verdict{Kind: gateway.VerdictUnavailable}

	f.router.Handle(context.Background(), "make install")

	if !strings.Contains(f.out.String(), "gateway unreachable") {
		t.Errorf("no degraded-mode warning: %q", f.out.String())
	}

	if len(f.exec.ran) != 1 || f.exec.ran[0] != "make install" {
		t.Errorf("ran = %v", f.exec.ran)
	}
}

func TestHandle_AmbiguousInputGoesToBackend(t *testing.T) {
	f := newFixture(t)
	f.sandbox.verdicts["show me the biggest files"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("bash: biggest: command not found\n"),
	}
	f.backend.verdicts = []backend.Verdict{
		{Kind: backend.VerdictDisplay, Text: "try du -ah | sort -rh | head"},
	}

	f.router.Handle(context.Background(), "show me the biggest files")

	if len(f.backend.calls) != 1 {
		t.Fatalf("backend calls = %v", f.backend.calls)
	}

	if !strings.Contains(f.backend.calls[0], "command not found") {
		t.Errorf("failure context not forwarded: %q", f.backend.calls[0])
	}

	if !strings.Contains(f.out.String(), "du -ah") {
		t.Errorf("display text missing: %q", f.out.String())
	}

	if len(f.exec.ran) != 0 {
		t.Errorf("display verdict executed: %v", f.exec.ran)
	}
}

func TestHandle_AISuggestionReentersPipeline(t *testing.T) {
	f := newFixture(t)
	f.sandbox.verdicts["show disk hogs"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("bash: show: command not found\n"),
	}
	f.sandbox.verdicts["du -sh /var/*"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("du: cannot read directory '/var/lib/private'\n"),
	}
	f.backend.verdicts = []backend.Verdict{
		{Kind: backend.VerdictRunCommand, Command: "du -sh /var/*"},
	}

	f.router.Handle(context.Background(), "show disk hogs")

	// The suggested command gets its own sandbox and gateway pass.
	if len(f.sandbox.calls) != 2 || f.sandbox.calls[1] != "du -sh /var/*" {
		t.Fatalf("sandbox calls = %v", f.sandbox.calls)
	}

	foundSuggested := false

	for _, c := range f.gateway.calls {
		if c == "du -sh /var/*" {
			foundSuggested = true
		}
	}

	if !foundSuggested {
		t.Fatalf("suggested command never validated: %v", f.gateway.calls)
	}
}

func TestHandle_SuggestionDepthBounded(t *testing.T) {
	f := newFixture(t)

	// Every pass escalates and every query suggests another unknown
	// command, so only the hop bound stops the loop.
	f.sandbox.verdicts = nil
	f.sandbox.verdicts = map[string]sandbox.Verdict{}

	suggest := backend.Verdict{Kind: backend.VerdictRunCommand, Command: "frob the widgets"}
	f.backend.verdicts = []backend.Verdict{suggest}

	for _, c := range []string{"frob the widgets", "tidy the attic"} {
		f.sandbox.verdicts[c] = sandbox.Verdict{
			Kind:   sandbox.VerdictEscalate,
			Output: []byte("bash: frob: command not found\n"),
		}
	}

	f.router.Handle(context.Background(), "tidy the attic")

	if len(f.backend.calls) != maxAIHops {
		t.Errorf("backend queried %d times, want %d", len(f.backend.calls), maxAIHops)
	}

	if len(f.exec.ran) != 0 {
		t.Errorf("unbounded suggestion executed: %v", f.exec.ran)
	}

	if !strings.Contains(f.out.String(), "depth limit") {
		t.Errorf("no depth limit notice: %q", f.out.String())
	}
}

func TestHandle_BackendNotReadyFallsBackToExecution(t *testing.T) {
	f := newFixture(t)
	f.backend.state = backend.StateFailed
	f.sandbox.verdicts["show me the logs"] = sandbox.Verdict{
		Kind:   sandbox.VerdictEscalate,
		Output: []byte("bash: show: command not found\n"),
	}

	f.router.Handle(context.Background(), "show me the logs")

	if len(f.backend.calls) != 0 {
		t.Errorf("backend queried while failed: %v", f.backend.calls)
	}

	if len(f.exec.ran) != 1 {
		t.Errorf("ran = %v", f.exec.ran)
	}
}

func TestHandle_SupervisorCadence(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 25; i++ {
		f.router.Handle(context.Background(), "pwd")
	}

	if f.super.checks != 2 {
		t.Errorf("supervisor checks = %d, want 2 in 25 commands", f.super.checks)
	}
}

func TestHandle_EmptyLineIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.router.Handle(context.Background(), "   \t  ")

	if f.out.Len() != 0 || len(f.exec.ran) != 0 || len(f.sandbox.calls) != 0 {
		t.Error("blank line triggered pipeline activity")
	}
}
