package shell

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"mosaic/internal/workspace"
)

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	guard, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return &Deps{Guard: guard, DefaultTimeout: 30000, MaxTimeout: 90000}
}

func TestSplitTimeout(t *testing.T) {
	t.Parallel()

	d := newTestDeps(t)

	cmd, timeout := d.SplitTimeout("ls -la")
	if cmd != "ls -la" || timeout != 30*time.Second {
		t.Errorf("default: %q %s", cmd, timeout)
	}

	cmd, timeout = d.SplitTimeout("go test ./... --timeout 5000")
	if cmd != "go test ./..." || timeout != 5*time.Second {
		t.Errorf("explicit: %q %s", cmd, timeout)
	}

	// Values above the cap are clamped.
	_, timeout = d.SplitTimeout("sleep 1 --timeout 500000")
	if timeout != 90*time.Second {
		t.Errorf("cap: %s, want 90s", timeout)
	}

	// --timeout elsewhere in the command is left alone.
	cmd, _ = d.SplitTimeout("mytool --timeout 100 run")
	if cmd != "mytool --timeout 100 run" {
		t.Errorf("mid-command flag consumed: %q", cmd)
	}
}

func TestExecuteEcho(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}

	d := newTestDeps(t)
	out, err := d.executeBash(context.Background(), map[string]any{
		"command": "echo hello world",
	})
	if err != nil {
		t.Fatalf("executeBash: %v", err)
	}
	if out.SoftFail {
		t.Error("echo reported soft failure")
	}
	if !strings.Contains(out.Text, "hello world") {
		t.Errorf("output = %q", out.Text)
	}
}

func TestExecuteRunsInWorkspace(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}

	d := newTestDeps(t)
	out, err := d.executeBash(context.Background(), map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("executeBash: %v", err)
	}
	if strings.TrimSpace(out.Text) != d.Guard.Root() {
		t.Errorf("pwd = %q, want %q", strings.TrimSpace(out.Text), d.Guard.Root())
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}

	d := newTestDeps(t)
	out, err := d.executeBash(context.Background(), map[string]any{
		"command": "echo partial; exit 3",
	})
	if err != nil {
		t.Fatalf("non-zero exit should be a soft failure, got %v", err)
	}
	if !out.SoftFail {
		t.Error("SoftFail not set")
	}
	if !strings.Contains(out.Text, "partial") {
		t.Errorf("partial output lost: %q", out.Text)
	}
	if !strings.Contains(out.Text, "Exit code: 3") {
		t.Errorf("exit code missing: %q", out.Text)
	}
}

func TestExecuteStderrAfterStdout(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}

	d := newTestDeps(t)
	out, err := d.executeBash(context.Background(), map[string]any{
		"command": "echo out; echo err 1>&2",
	})
	if err != nil {
		t.Fatalf("executeBash: %v", err)
	}
	outIdx := strings.Index(out.Text, "out")
	errIdx := strings.Index(out.Text, "err")
	if outIdx < 0 || errIdx < 0 || errIdx < outIdx {
		t.Errorf("stream order wrong: %q", out.Text)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}

	d := newTestDeps(t)
	start := time.Now()
	out, err := d.executeBash(context.Background(), map[string]any{
		"command": "sleep 30 --timeout 200",
	})
	if err != nil {
		t.Fatalf("timeout should be a soft failure, got %v", err)
	}
	if !out.SoftFail {
		t.Error("SoftFail not set on timeout")
	}
	if !strings.Contains(out.Text, "timed out") {
		t.Errorf("timeout note missing: %q", out.Text)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestNormalizeOutput(t *testing.T) {
	t.Parallel()

	in := "\x1b[31mred\x1b[0m\r\nline\rtwo"
	want := "red\nline\ntwo"
	if got := normalizeOutput(in); got != want {
		t.Errorf("normalizeOutput = %q, want %q", got, want)
	}
}
