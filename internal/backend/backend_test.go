package backend

import (
	"bufio"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gerrors "github.com/gatesh-dev/gatesh/internal/errors"
)

// fakeBackend runs a single-connection line server on a unix socket.
// respond receives each request line (trailing newline stripped) and
// returns the raw bytes to write back; returning "" writes nothing.
func fakeBackend(t *testing.T, respond func(line string) string) string {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "backend.sock")

	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		rd := bufio.NewReader(conn)

		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return
			}

			if reply := respond(strings.TrimSuffix(line, "\n")); reply != "" {
				if _, err := io.WriteString(conn, reply); err != nil {
					return
				}
			}
		}
	}()

	return sock
}

func newTestClient(t *testing.T, sock string) *Client {
	t.Helper()

	c := New(Options{SocketPath: sock})
	c.SetMarkerInterval(50 * time.Millisecond)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(c.Close)

	return c
}

func TestQuery_CommandVerdict(t *testing.T) {
	sock := fakeBackend(t, func(line string) string {
		if line != "QUERY:show me the logs" {
			t.Errorf("unexpected request %q", line)
		}

		return "CMD:tail -f /var/log/syslog\n"
	})

	c := newTestClient(t, sock)

	v, err := c.Query(context.Background(), "show me the logs")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if v.Kind != VerdictRunCommand {
		t.Fatalf("kind = %v, want VerdictRunCommand", v.Kind)
	}

	if v.Command != "tail -f /var/log/syslog" {
		t.Errorf("command = %q", v.Command)
	}
}

func TestQuery_DisplayVerdict(t *testing.T) {
	sock := fakeBackend(t, func(string) string {
		return "EDIT:the port is already in use\n"
	})

	c := newTestClient(t, sock)

	v, err := c.Query(context.Background(), "why did that fail")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if v.Kind != VerdictDisplay {
		t.Fatalf("kind = %v, want VerdictDisplay", v.Kind)
	}

	if v.Text != "the port is already in use" {
		t.Errorf("text = %q", v.Text)
	}
}

func TestQuery_RawVerdict(t *testing.T) {
	sock := fakeBackend(t, func(string) string {
		return "just some prose\n"
	})

	c := newTestClient(t, sock)

	v, err := c.Query(context.Background(), "hello")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if v.Kind != VerdictRaw || v.Text != "just some prose" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestQuery_ThinkingMarkersAndTimeout(t *testing.T) {
	// Never respond: the exchange must emit exactly QueryMarkerLimit
	// markers and then give up.
	sock := fakeBackend(t, func(string) string { return "" })

	var (
		mu      sync.Mutex
		markers []int
	)

	c := New(Options{
		SocketPath: sock,
		OnThinking: func(n int) {
			mu.Lock()
			markers = append(markers, n)
			mu.Unlock()
		},
	})
	c.SetMarkerInterval(20 * time.Millisecond)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(c.Close)

	_, err := c.Query(context.Background(), "slow")
	if !gerrors.IsKind(err, gerrors.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(markers) != QueryMarkerLimit {
		t.Fatalf("markers = %v, want %d of them", markers, QueryMarkerLimit)
	}

	for i, n := range markers {
		if n != i+1 {
			t.Errorf("marker %d = %d", i, n)
		}
	}
}

func TestQuery_SlowResponseWithinBudget(t *testing.T) {
	sock := fakeBackend(t, func(string) string {
		time.Sleep(70 * time.Millisecond)
		return "CMD:echo ok\n"
	})

	fired := 0

	c := New(Options{
		SocketPath: sock,
		OnThinking: func(int) { fired++ },
	})
	c.SetMarkerInterval(30 * time.Millisecond)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(c.Close)

	v, err := c.Query(context.Background(), "patience")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if v.Kind != VerdictRunCommand {
		t.Fatalf("kind = %v", v.Kind)
	}

	if fired == 0 {
		t.Error("expected at least one thinking marker before the reply")
	}
}

func TestQuery_ChunkedResponseAcrossMarkerInterval(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "backend.sock")

	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	// The reply arrives in two chunks with a pause longer than the
	// marker interval in between, so the first fragment is consumed
	// before a read deadline fires.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		rd := bufio.NewReader(conn)
		if _, err := rd.ReadString('\n'); err != nil {
			return
		}

		_, _ = io.WriteString(conn, "CMD:rm")
		time.Sleep(120 * time.Millisecond)
		_, _ = io.WriteString(conn, " -rf /tmp/scratch\n")
	}()

	c := newTestClient(t, sock)

	v, err := c.Query(context.Background(), "clear the scratch dir")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if v.Kind != VerdictRunCommand {
		t.Fatalf("kind = %v, want VerdictRunCommand", v.Kind)
	}

	if v.Command != "rm -rf /tmp/scratch" {
		t.Errorf("command = %q; fragments read before a marker tick must survive", v.Command)
	}
}

func TestRun_SyncsCwdFirst(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)

	sock := fakeBackend(t, func(line string) string {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()

		if strings.HasPrefix(line, "CWD:") {
			return "ok\n"
		}

		return "done\n"
	})

	c := New(Options{
		SocketPath: sock,
		Getwd:      func() (string, error) { return "/srv/app", nil },
	})
	c.SetMarkerInterval(50 * time.Millisecond)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(c.Close)

	v, err := c.Run(context.Background(), "make deploy")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if v.Kind != VerdictRaw || v.Text != "done" {
		t.Errorf("verdict = %+v", v)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(lines) != 2 || lines[0] != "CWD:/srv/app" || lines[1] != "make deploy" {
		t.Errorf("request order = %v", lines)
	}
}

func TestRun_ToleratesMissingCwdAck(t *testing.T) {
	sock := fakeBackend(t, func(line string) string {
		if strings.HasPrefix(line, "CWD:") {
			return "" // no ack
		}

		return "fine\n"
	})

	c := New(Options{
		SocketPath: sock,
		Getwd:      func() (string, error) { return "/tmp", nil },
	})
	c.SetMarkerInterval(50 * time.Millisecond)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(c.Close)

	v, err := c.Run(context.Background(), "true")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if v.Text != "fine" {
		t.Errorf("text = %q", v.Text)
	}
}

func TestCheckStatus_ReadyAndLoading(t *testing.T) {
	replies := []string{"AI_LOADING\n", "AI_READY:1.4.2\n"}
	i := 0

	sock := fakeBackend(t, func(line string) string {
		if line != "STATUS" {
			t.Errorf("unexpected request %q", line)
		}

		r := replies[i%len(replies)]
		i++

		return r
	})

	c := newTestClient(t, sock)

	if got := c.CheckStatus(context.Background()); got != StateLoading {
		t.Fatalf("state = %v, want loading", got)
	}

	if got := c.CheckStatus(context.Background()); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}

	if c.State() != StateReady {
		t.Errorf("cached state = %v", c.State())
	}
}

func TestCheckStatus_SilentBackendKeepsState(t *testing.T) {
	sock := fakeBackend(t, func(string) string { return "" })

	c := newTestClient(t, sock)

	if got := c.CheckStatus(context.Background()); got != StateLoading {
		t.Fatalf("state = %v, want loading preserved", got)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	c := New(Options{SocketPath: filepath.Join(t.TempDir(), "absent.sock")})

	err := c.Connect(context.Background())
	if !gerrors.IsKind(err, gerrors.KindChannelUnavailable) {
		t.Fatalf("err = %v, want channel unavailable", err)
	}

	if c.Connected() {
		t.Error("client reports connected after failed dial")
	}
}

func TestQuery_WithoutConnection(t *testing.T) {
	c := New(Options{SocketPath: "/nowhere.sock"})

	_, err := c.Query(context.Background(), "hi")
	if !gerrors.IsKind(err, gerrors.KindChannelUnavailable) {
		t.Fatalf("err = %v, want channel unavailable", err)
	}
}

func TestQuery_ConnectionDrop(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "drop.sock")

	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		rd := bufio.NewReader(conn)
		_, _ = rd.ReadString('\n')
		conn.Close() // drop without replying
	}()

	c := newTestClient(t, sock)

	_, qerr := c.Query(context.Background(), "hello")
	if !gerrors.IsKind(qerr, gerrors.KindChannelUnavailable) {
		t.Fatalf("err = %v, want channel unavailable", qerr)
	}

	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed after connection drop", c.State())
	}
}

func TestStateTransitions(t *testing.T) {
	c := New(Options{SocketPath: "/nowhere.sock"})

	if c.State() != StateLoading {
		t.Fatalf("initial state = %v", c.State())
	}

	c.MarkFailed()

	if c.State() != StateFailed {
		t.Fatalf("state after MarkFailed = %v", c.State())
	}

	c.MarkLoading()

	if c.State() != StateLoading {
		t.Fatalf("state after MarkLoading = %v", c.State())
	}
}
