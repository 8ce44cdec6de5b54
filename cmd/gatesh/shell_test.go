package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gatesh-dev/gatesh/internal/backend"
	"github.com/gatesh-dev/gatesh/internal/output"
	"github.com/gatesh-dev/gatesh/internal/supervisor"
	"github.com/gatesh-dev/gatesh/internal/terminal"
)

func testWriter() (*output.Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return output.NewWriter(buf, buf, terminal.Plain()), buf
}

func TestPromptStringGlyphs(t *testing.T) {
	tests := []struct {
		name   string
		status supervisor.Status
		want   string
	}{
		{"backend ready gateway up", supervisor.Status{Backend: backend.StateReady, Gateway: true}, "[a✓ g✓]"},
		{"backend loading", supervisor.Status{Backend: backend.StateLoading, Gateway: true}, "[a~ g✓]"},
		{"backend failed gateway down", supervisor.Status{Backend: backend.StateFailed, Gateway: false}, "[a✗ g✗]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := promptString(tt.status)

			if !strings.Contains(got, tt.want) {
				t.Errorf("promptString() = %q, want to contain %q", got, tt.want)
			}

			if !strings.HasSuffix(got, "> ") {
				t.Errorf("promptString() = %q, want trailing '> '", got)
			}
		})
	}
}

func TestChangeDir(t *testing.T) {
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = os.Chdir(orig) })

	dir := t.TempDir()
	out, buf := testWriter()

	changeDir(out, []string{"cd", dir})

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	// TempDir may resolve through symlinks (macOS /var -> /private/var).
	if resolved, rerr := filepath.EvalSymlinks(dir); rerr == nil {
		dir = resolved
	}

	if cwdResolved, rerr := filepath.EvalSymlinks(cwd); rerr == nil {
		cwd = cwdResolved
	}

	if cwd != dir {
		t.Errorf("cwd = %q, want %q", cwd, dir)
	}

	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestChangeDirBareGoesHome(t *testing.T) {
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = os.Chdir(orig) })

	home := t.TempDir()
	t.Setenv("HOME", home)

	out, _ := testWriter()
	changeDir(out, []string{"cd"})

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	if resolved, rerr := filepath.EvalSymlinks(home); rerr == nil {
		home = resolved
	}

	if cwdResolved, rerr := filepath.EvalSymlinks(cwd); rerr == nil {
		cwd = cwdResolved
	}

	if cwd != home {
		t.Errorf("cwd = %q, want home %q", cwd, home)
	}
}

func TestChangeDirMissingTargetReportsFailure(t *testing.T) {
	out, buf := testWriter()

	changeDir(out, []string{"cd", "/nonexistent-gatesh-test-dir"})

	if !strings.Contains(buf.String(), "cd:") {
		t.Errorf("output = %q, want cd failure message", buf.String())
	}
}

func TestReadLinesClosesOnEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.WriteString("first\nsecond\n"); err != nil {
		t.Fatal(err)
	}

	_ = w.Close()

	lines := readLines(r)

	if got := <-lines; got != "first" {
		t.Errorf("line 1 = %q, want %q", got, "first")
	}

	if got := <-lines; got != "second" {
		t.Errorf("line 2 = %q, want %q", got, "second")
	}

	if _, ok := <-lines; ok {
		t.Error("channel still open after EOF")
	}
}

func TestUpDown(t *testing.T) {
	if got := upDown(true); got != "up" {
		t.Errorf("upDown(true) = %q", got)
	}

	if got := upDown(false); got != "down" {
		t.Errorf("upDown(false) = %q", got)
	}
}

func TestSetVerboseRejectsBadInput(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, buf := testWriter()

	setVerbose(out, nil, []string{"gasv", "nine"})

	if !strings.Contains(buf.String(), "usage: gasv") {
		t.Errorf("output = %q, want usage message", buf.String())
	}

	buf.Reset()
	setVerbose(out, nil, []string{"gasv"})

	if !strings.Contains(buf.String(), "usage: gasv") {
		t.Errorf("output = %q, want usage message", buf.String())
	}
}

func TestPrintControlHelpListsCommands(t *testing.T) {
	out, buf := testWriter()

	printControlHelp(out)

	for _, want := range []string{"gash", "gast", "gasv", "gasp", "ai "} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("help output missing %q:\n%s", want, buf.String())
		}
	}
}
