// Package backend is the client for the external AI reasoning service.
//
// The connection is a persistent unix-domain socket established at
// startup and re-established by the supervisor after a restart. Requests
// are strictly sequential: the channel carries no request identifiers,
// so a second request may not be sent until the previous response (or
// its timeout) has been consumed. While waiting, the client surfaces
// incremental thinking markers so the user knows the shell is alive.
package backend

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	gerrors "github.com/gatesh-dev/gatesh/internal/errors"
	"github.com/gatesh-dev/gatesh/internal/protocol"
)

const (
	// MarkerInterval is the idle period before each thinking marker.
	MarkerInterval = 5 * time.Second

	// QueryMarkerLimit bounds disambiguation queries (~30s).
	QueryMarkerLimit = 6

	// RunMarkerLimit bounds long-running command queries (~320s).
	RunMarkerLimit = 64

	// ackTimeout bounds the wait for a CWD sync acknowledgment.
	ackTimeout = time.Second

	// statusTimeout bounds one STATUS probe.
	statusTimeout = time.Second
)

// supportedProtocol is the backend protocol range this client speaks.
var supportedProtocol = mustConstraint("^1")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}

	return c
}

// State is the backend readiness state machine. Transitions:
// Loading → Ready (status probe), Loading → Failed (process death or
// unrecoverable connect failure), Failed → Loading (supervisor restart
// only).
type State int

const (
	// StateLoading: backend launched, not yet ready.
	StateLoading State = iota
	// StateReady: backend answered a status probe with ready.
	StateReady
	// StateFailed: backend dead or unreachable.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "loading"
	}
}

// VerdictKind classifies a backend response.
type VerdictKind int

const (
	// VerdictRaw: free-form text, shown verbatim.
	VerdictRaw VerdictKind = iota
	// VerdictRunCommand: the backend proposes a concrete command. It is
	// never trusted directly; the router re-submits it to the full
	// sandbox/gateway pass.
	VerdictRunCommand
	// VerdictDisplay: explanatory text, shown to the user, no
	// execution.
	VerdictDisplay
)

// Verdict is the tagged backend response.
type Verdict struct {
	Kind    VerdictKind
	Command string
	Text    string
}

// Options configures a Client.
type Options struct {
	// SocketPath is the backend's unix socket.
	SocketPath string

	// OnThinking receives each marker index (1-based) while a request
	// is pending. Optional.
	OnThinking func(n int)

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Getwd is injectable for tests; defaults to os.Getwd.
	Getwd func() (string, error)
}

// Client drives the backend channel.
type Client struct {
	mu sync.Mutex

	socketPath string
	log        *slog.Logger
	onThinking func(n int)
	getwd      func() (string, error)

	conn  net.Conn
	rd    *bufio.Reader
	state State

	// markerInterval is shortened in tests.
	markerInterval time.Duration
}

// New creates a backend client in StateLoading. No connection is made
// until Connect.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Getwd == nil {
		opts.Getwd = os.Getwd
	}

	return &Client{
		socketPath:     opts.SocketPath,
		log:            opts.Logger.With(slog.String("component", "backend")),
		onThinking:     opts.OnThinking,
		getwd:          opts.Getwd,
		state:          StateLoading,
		markerInterval: MarkerInterval,
	}
}

// Connect dials the backend socket. Failure leaves the client
// disconnected but does not change state: the supervisor decides when
// loading becomes failed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	var d net.Dialer

	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return gerrors.Unavailable("backend", err)
	}

	c.conn = conn
	c.rd = bufio.NewReader(conn)

	c.log.Debug("backend connected", slog.String("event.type", "backend.connect"))

	return nil
}

// Connected reports whether a connection is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

// State returns the readiness state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// MarkFailed records backend death and clears the cached connection.
// Called by the supervisor when the process liveness probe fails.
func (c *Client) MarkFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateFailed
	c.closeLocked()
}

// MarkLoading resets the state after a supervisor-initiated restart.
// This is the only legal Failed → Loading transition.
func (c *Client) MarkLoading() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateLoading
	c.closeLocked()
}

// Close tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
}

// CheckStatus runs one STATUS probe and updates the readiness state.
// An AI_READY payload may carry the backend's protocol version; an
// unsupported version is logged, not fatal.
func (c *Client) CheckStatus(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return c.state
	}

	_ = c.conn.SetDeadline(time.Now().Add(statusTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if _, err := c.conn.Write(protocol.New(protocol.KindStatus, "").Encode()); err != nil {
		return c.state
	}

	line, err := c.rd.ReadString('\n')
	if err != nil {
		return c.state
	}

	msg := protocol.Parse(line)

	switch msg.Kind {
	case protocol.KindReady:
		c.state = StateReady
		c.checkProtocolVersion(msg.Payload)
	case protocol.KindLoading:
		c.state = StateLoading
	}

	return c.state
}

func (c *Client) checkProtocolVersion(payload string) {
	if payload == "" {
		return
	}

	v, err := semver.NewVersion(payload)
	if err != nil {
		c.log.Warn("backend reported unparseable protocol version",
			slog.String("event.type", "backend.protocol_version"),
			slog.String("version", payload),
		)

		return
	}

	if !supportedProtocol.Check(v) {
		c.log.Warn("backend protocol version outside supported range",
			slog.String("event.type", "backend.protocol_version"),
			slog.String("version", v.String()),
			slog.String("supported", supportedProtocol.String()),
		)
	}
}

// Query sends a disambiguation request and waits up to QueryMarkerLimit
// thinking markers for the response.
func (c *Client) Query(ctx context.Context, text string) (Verdict, error) {
	return c.exchange(ctx, protocol.New(protocol.KindQuery, text), QueryMarkerLimit)
}

// Run sends a direct execution request. The shell's working directory
// is synced first, because cd is applied locally and is otherwise
// invisible to the backend. Then the command goes out with the long marker budget.
func (c *Client) Run(ctx context.Context, command string) (Verdict, error) {
	c.syncCwd()

	return c.exchange(ctx, protocol.New(protocol.KindRaw, command), RunMarkerLimit)
}

// syncCwd sends the CWD state-sync message and waits briefly for the
// acknowledgment. A missing ack is tolerated; the sync is best-effort.
func (c *Client) syncCwd() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	cwd, err := c.getwd()
	if err != nil {
		return
	}

	if _, err := c.conn.Write(protocol.New(protocol.KindCwd, cwd).Encode()); err != nil {
		return
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(ackTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, _ = c.rd.ReadString('\n')
}

// exchange performs one sequential request/response cycle with bounded
// thinking markers. A timed-out exchange is terminal for this request;
// it is not retried.
func (c *Client) exchange(ctx context.Context, msg protocol.Message, markerLimit int) (Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return Verdict{}, gerrors.Unavailable("backend", nil)
	}

	start := time.Now()

	if _, err := c.conn.Write(msg.Encode()); err != nil {
		c.state = StateFailed
		c.closeLocked()

		return Verdict{}, gerrors.Unavailable("backend", err)
	}

	markers := 0

	// A response may arrive in chunks spread across marker intervals;
	// fragments consumed before a read deadline stay buffered here until
	// the terminating newline shows up.
	var partial strings.Builder

	for {
		if err := ctx.Err(); err != nil {
			return Verdict{}, gerrors.Timeout("backend", time.Since(start))
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.markerInterval))

		line, err := c.rd.ReadString('\n')
		partial.WriteString(line)

		if err == nil {
			_ = c.conn.SetReadDeadline(time.Time{})
			return parseVerdict(partial.String()), nil
		}

		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			markers++
			if c.onThinking != nil {
				c.onThinking(markers)
			}

			if markers >= markerLimit {
				_ = c.conn.SetReadDeadline(time.Time{})
				return Verdict{}, gerrors.Timeout("backend", time.Since(start))
			}

			continue
		}

		// Connection-level failure: the channel is gone.
		c.state = StateFailed
		c.closeLocked()

		return Verdict{}, gerrors.Unavailable("backend", err)
	}
}

func parseVerdict(line string) Verdict {
	msg := protocol.Parse(line)

	switch msg.Kind {
	case protocol.KindCommand:
		return Verdict{Kind: VerdictRunCommand, Command: msg.Payload}
	case protocol.KindEdit:
		return Verdict{Kind: VerdictDisplay, Text: msg.Payload}
	default:
		return Verdict{Kind: VerdictRaw, Text: msg.Payload}
	}
}

// SocketPath returns the configured socket path.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// SetMarkerInterval shortens the marker cadence; test hook.
func (c *Client) SetMarkerInterval(d time.Duration) {
	c.markerInterval = d
}
