// Package router sequences the trust pipeline. One command line comes
// in per iteration; the router classifies it, dry-runs it in the
// sandbox, escalates error output to the security gateway, hands
// ambiguous input to the AI backend, and only then lets anything touch
// the real terminal. Nothing executes without either fast-path
// allow-list membership or a validation attempt on the path that led to
// execution, including commands the AI itself proposed.
package router

import (
	"context"
	"strings"

	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gatesh-dev/gatesh/internal/ansi"
	"github.com/gatesh-dev/gatesh/internal/backend"
	"github.com/gatesh-dev/gatesh/internal/classify"
	"github.com/gatesh-dev/gatesh/internal/gateway"
	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/sandbox"
	"github.com/gatesh-dev/gatesh/internal/supervisor"
)

// maxAIHops bounds nested routing passes for AI-suggested commands.
// A suggestion arriving at the bound is displayed, never executed.
const maxAIHops = 3

// Sandbox is the dry-run session.
type Sandbox interface {
	Test(ctx context.Context, command string) sandbox.Verdict
}

// Gateway is the security validation client.
type Gateway interface {
	Validate(ctx context.Context, command string) gateway.Verdict
}

// Backend is the AI disambiguation client.
type Backend interface {
	Query(ctx context.Context, text string) (backend.Verdict, error)
	State() backend.State
}

// Supervisor is the process health checker.
type Supervisor interface {
	Check(ctx context.Context) supervisor.Status
}

// Executor runs a validated command for real.
type Executor interface {
	Run(ctx context.Context, command string) error
	RunInteractive(ctx context.Context, command string) error
}

// Options wires a Router.
type Options struct {
	Sandbox    Sandbox
	Gateway    Gateway
	Backend    Backend
	Supervisor Supervisor
	Executor   Executor
	Output     *output.Writer
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Router is the orchestration entry point. It is not safe for
// concurrent use; the shell drives it from a single loop.
type Router struct {
	sandbox    Sandbox
	gateway    Gateway
	backend    Backend
	supervisor Supervisor
	exec       Executor
	out        *output.Writer
	log        *slog.Logger
	tracer     trace.Tracer

	handled int
	status  supervisor.Status
}

// New builds a Router.
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("gatesh")
	}

	return &Router{
		sandbox:    opts.Sandbox,
		gateway:    opts.Gateway,
		backend:    opts.Backend,
		supervisor: opts.Supervisor,
		exec:       opts.Executor,
		out:        opts.Output,
		log:        opts.Logger.With(slog.String("component", "router")),
		tracer:     opts.Tracer,
	}
}

// Status returns the most recent health snapshot.
func (r *Router) Status() supervisor.Status {
	return r.status
}

// SetStatus seeds the health snapshot, so the first prompts between
// startup and the first periodic check render real state.
func (r *Router) SetStatus(st supervisor.Status) {
	r.status = st
}

// Handle routes one command line. Every tenth handled command also
// triggers a supervisor health check, so supervision costs nothing on
// an idle prompt.
func (r *Router) Handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	r.handled++
	if r.handled%supervisor.CheckInterval == 0 {
		r.status = r.supervisor.Check(ctx)
	}

	ctx, span := r.tracer.Start(ctx, "router.handle",
		trace.WithAttributes(attribute.Int("command.length", len(line))))
	defer span.End()

	r.route(ctx, line, 0)
}

// HandleSuggested routes a command that came out of the backend rather
// than the user. It carries suggestion trust: no fast path, fresh
// sandbox and gateway pass, bounded nesting.
func (r *Router) HandleSuggested(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	ctx, span := r.tracer.Start(ctx, "router.handle_suggested")
	defer span.End()

	r.route(ctx, line, 1)
}

// route is one pass through the pipeline. hop counts nested passes
// triggered by AI command suggestions.
func (r *Router) route(ctx context.Context, line string, hop int) {
	// AI-suggested commands never take the fast path: a suggestion is
	// only trusted after its own sandbox and gateway pass, even when
	// its verb is allow-listed.
	if hop == 0 {
		switch classify.Line(line).Kind {
		case classify.KindSimple, classify.KindBuiltin:
			// Fast path: static allow-list, no sandbox, no gateway. The
			// latency win is deliberate and this is the one path that
			// never gains security escalation.
			r.execute(ctx, line, false)

			return
		case classify.KindInteractive:
			// Screen programs would stall the sandbox until its
			// timeout; they attach straight to the terminal.
			r.execute(ctx, line, true)

			return
		}
	}

	verdict := r.test(ctx, line)

	switch verdict.Kind {
	case sandbox.VerdictSilent:
		return
	case sandbox.VerdictOutput:
		_, _ = r.out.Write(verdict.Output)

		return
	}

	r.escalate(ctx, line, verdict, hop)
}

// escalate runs the gateway pass and dispatches on its verdict.
func (r *Router) escalate(ctx context.Context, line string, sv sandbox.Verdict, hop int) {
	gv := r.validate(ctx, line)

	switch gv.Kind {
	case gateway.VerdictBlocked:
		// Policy refusals always reach the user with their reason.
		r.out.Failure("blocked: %s", gv.Reason)

		r.log.Info("command blocked",
			slog.String("event.type", "router.blocked"),
			slog.String("reason", gv.Reason),
		)

		return
	case gateway.VerdictUnavailable:
		// Fail open: availability beats strict enforcement, visibly.
		r.out.Warning("security gateway unreachable, continuing without validation")
	}

	if r.wantsAI(line, sv) {
		r.disambiguate(ctx, line, sv, hop)

		return
	}

	// A real command that merely wrote to stderr. It was not
	// disallowed, so run it for real and let the user see everything.
	r.execute(ctx, line, false)
}

// wantsAI decides whether the input is natural language rather than a
// literal shell command. Two signals: an ambiguous leading verb, or the
// subshell reporting that no such command exists.
func (r *Router) wantsAI(line string, sv sandbox.Verdict) bool {
	if r.backend.State() != backend.StateReady {
		return false
	}

	if classify.Line(line).Kind == classify.KindAmbiguous && strings.Contains(line, " ") {
		return true
	}

	return strings.Contains(string(sv.Output), "command not found")
}

// disambiguate hands the line to the AI backend and routes its verdict.
// Suggested commands re-enter the pipeline with a fresh sandbox and
// gateway pass.
func (r *Router) disambiguate(ctx context.Context, line string, sv sandbox.Verdict, hop int) {
	ctx, span := r.tracer.Start(ctx, "router.backend")
	defer span.End()

	av, err := r.backend.Query(ctx, queryText(line, sv))
	if err != nil {
		r.out.Warning("assistant unavailable: %v", err)

		return
	}

	switch av.Kind {
	case backend.VerdictRunCommand:
		if hop+1 >= maxAIHops {
			r.out.Warning("suggestion depth limit reached, not executing: %s", av.Command)

			return
		}

		r.out.Muted("$ %s", av.Command)
		r.route(ctx, av.Command, hop+1)
	case backend.VerdictDisplay:
		r.out.Info("%s", av.Text)
	default:
		r.out.Println(av.Text)
	}
}

// queryText carries the sandbox failure context alongside the original
// input so the backend sees what actually went wrong. Escape sequences
// from the subshell are stripped first.
func queryText(line string, sv sandbox.Verdict) string {
	out := strings.TrimSpace(ansi.Strip(string(sv.Output)))
	if out == "" {
		return line
	}

	return line + " | output: " + strings.ReplaceAll(out, "\n", " ")
}

func (r *Router) test(ctx context.Context, line string) sandbox.Verdict {
	ctx, span := r.tracer.Start(ctx, "router.sandbox")
	defer span.End()

	v := r.sandbox.Test(ctx, line)

	span.SetAttributes(attribute.String("sandbox.verdict", v.Kind.String()))

	return v
}

func (r *Router) validate(ctx context.Context, line string) gateway.Verdict {
	ctx, span := r.tracer.Start(ctx, "router.gateway")
	defer span.End()

	return r.gateway.Validate(ctx, line)
}

func (r *Router) execute(ctx context.Context, line string, interactive bool) {
	ctx, span := r.tracer.Start(ctx, "router.execute",
		trace.WithAttributes(attribute.Bool("command.interactive", interactive)))
	defer span.End()

	var err error
	if interactive {
		err = r.exec.RunInteractive(ctx, line)
	} else {
		err = r.exec.Run(ctx, line)
	}

	if err != nil {
		r.out.Failure("%v", err)
	}
}
