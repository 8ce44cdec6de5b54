// Package gateway is the client for the external security-validation
// service.
//
// Validation is one request/response exchange per command over a
// unix-domain socket. The gateway is best-effort, not a hard boundary:
// an unreachable or misbehaving gateway degrades to direct sandboxed
// execution with a visible warning rather than locking the user out of
// their own shell.
package gateway

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	gerrors "github.com/gatesh-dev/gatesh/internal/errors"
	"github.com/gatesh-dev/gatesh/internal/protocol"
)

const (
	// DefaultTimeout bounds one validation exchange.
	DefaultTimeout = 5 * time.Second

	// ProbeTimeout is the near-zero readiness probe budget used by the
	// supervisor.
	ProbeTimeout = 50 * time.Millisecond
)

// VerdictKind classifies the gateway's answer.
type VerdictKind int

const (
	// VerdictUnavailable: connect failure, timeout, or malformed
	// response. Fail-open: the caller proceeds on the sandboxed direct
	// path with a warning.
	VerdictUnavailable VerdictKind = iota
	// VerdictApproved: the command may proceed.
	VerdictApproved
	// VerdictBlocked: policy refusal; Reason must reach the user
	// verbatim.
	VerdictBlocked
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictApproved:
		return "approved"
	case VerdictBlocked:
		return "blocked"
	default:
		return "unavailable"
	}
}

// Verdict is the tagged validation result.
type Verdict struct {
	Kind VerdictKind

	// Command is the approved command text (VerdictApproved).
	Command string

	// Reason is the human-readable refusal (VerdictBlocked).
	Reason string
}

// Client validates commands against the gateway service.
type Client struct {
	socketPath string
	timeout    time.Duration
	log        *slog.Logger

	// dial is injectable for tests.
	dial func(ctx context.Context) (net.Conn, error)
}

// Options configures a Client.
type Options struct {
	// SocketPath is the gateway's unix socket.
	SocketPath string

	// Timeout bounds one exchange; defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a gateway client. No connection is made until Validate.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		socketPath: opts.SocketPath,
		timeout:    opts.Timeout,
		log:        opts.Logger.With(slog.String("component", "gateway")),
	}

	c.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", c.socketPath)
	}

	return c
}

// Validate runs one SECURITY_CHECK exchange. It never returns an error
// to the caller: every failure mode collapses into VerdictUnavailable,
// because gateway failures must degrade, not break, the shell.
func (c *Client) Validate(ctx context.Context, command string) Verdict {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Warn("gateway unreachable",
			slog.String("event.type", "gateway.unavailable"),
			slog.String("error", err.Error()),
		)

		return Verdict{Kind: VerdictUnavailable}
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	req := protocol.New(protocol.KindSecurityCheck, command)
	if _, err := conn.Write(req.Encode()); err != nil {
		c.log.Warn("gateway write failed",
			slog.String("event.type", "gateway.unavailable"),
			slog.String("error", err.Error()),
		)

		return Verdict{Kind: VerdictUnavailable}
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		kind := "gateway.unavailable"
		if isTimeout(err) {
			kind = "gateway.timeout"
		}

		c.log.Warn("gateway read failed",
			slog.String("event.type", kind),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)

		return Verdict{Kind: VerdictUnavailable}
	}

	msg := protocol.Parse(line)

	switch msg.Kind {
	case protocol.KindApproved:
		return Verdict{Kind: VerdictApproved, Command: msg.Payload}
	case protocol.KindBlocked:
		return Verdict{Kind: VerdictBlocked, Reason: msg.Payload}
	default:
		c.log.Warn("gateway sent malformed response",
			slog.String("event.type", "gateway.malformed"),
			slog.String("response", truncateForLog(line)),
		)

		return Verdict{Kind: VerdictUnavailable}
	}
}

// Probe attempts a near-zero-timeout connect to check the gateway is
// accepting connections. Used by the supervisor's health checks.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return gerrors.Unavailable("gateway", err)
	}

	_ = conn.Close()

	return nil
}

// SocketPath returns the configured socket path.
func (c *Client) SocketPath() string {
	return c.socketPath
}

func isTimeout(err error) bool {
	if nerr, ok := err.(net.Error); ok {
		return nerr.Timeout()
	}

	return os.IsTimeout(err)
}

func truncateForLog(s string) string {
	const max = 128
	if len(s) > max {
		return s[:max] + "…"
	}

	return s
}
