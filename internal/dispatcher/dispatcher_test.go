package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"mosaic/internal/approval"
	"mosaic/internal/changes"
	"mosaic/internal/config"
	"mosaic/internal/rules"
	"mosaic/internal/safety"
	"mosaic/internal/tools"
	"mosaic/internal/tools/core"
	"mosaic/internal/tools/research"
	"mosaic/internal/tools/shell"
	"mosaic/internal/workspace"
)

type harness struct {
	d      *Dispatcher
	queue  *changes.Queue
	bridge *approval.Bridge
	cfg    *config.Config
	root   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	guard, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}

	cfg := config.Default()
	queue := changes.NewQueue()
	bridge := approval.NewBridge()
	classifier := safety.New(rules.NewStore(root))

	registry := tools.NewRegistry()
	if err := core.RegisterAll(registry, &core.Deps{Guard: guard, Queue: queue}); err != nil {
		t.Fatalf("core.RegisterAll: %v", err)
	}
	sh := &shell.Deps{
		Guard:          guard,
		DefaultTimeout: cfg.Execution.DefaultTimeoutMs,
		MaxTimeout:     cfg.Execution.MaxTimeoutMs,
	}
	if err := shell.Register(registry, sh); err != nil {
		t.Fatalf("shell.Register: %v", err)
	}
	if err := research.Register(registry, &research.Deps{
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Timeout:      5 * time.Second,
	}); err != nil {
		t.Fatalf("research.Register: %v", err)
	}

	return &harness{
		d:      New(registry, guard, cfg, classifier, bridge, queue, sh),
		queue:  queue,
		bridge: bridge,
		cfg:    cfg,
		root:   root,
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(h.root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) writeRules(t *testing.T, f rules.File) {
	t.Helper()
	data, err := json.Marshal(&f)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(h.root, ".mosaic")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rules.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
}

// respond waits for the pending approval slot and answers it.
func (h *harness) respond(t *testing.T, approved bool, customResponse string) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if h.bridge.PendingApproval() != nil {
				h.bridge.RespondApproval(approved, customResponse)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestDispatchUnknownTool(t *testing.T) {
	h := newHarness(t)
	res := h.d.Dispatch(context.Background(), Invocation{Name: "nosuch"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "tool not found") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDispatchPathEscape(t *testing.T) {
	h := newHarness(t)
	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "read",
		Args: map[string]any{"path": "../../etc/passwd"},
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "access-denied" {
		t.Errorf("error = %q, want access-denied", res.Error)
	}
}

func TestDispatchReadOnlyBlocksMutating(t *testing.T) {
	h := newHarness(t)
	h.cfg.ReadOnly = true
	h.write(t, "doc.txt", "hello\n")

	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "write",
		Args: map[string]any{"path": "doc.txt", "content": "changed"},
	})
	if res.Success || res.Error != "read-only-mode" {
		t.Errorf("write: success=%v error=%q", res.Success, res.Error)
	}

	res = h.d.Dispatch(context.Background(), Invocation{
		Name: "read",
		Args: map[string]any{"path": "doc.txt"},
	})
	if !res.Success {
		t.Errorf("read in read-only mode failed: %q", res.Error)
	}
}

func TestDispatchWriteUpdatesStats(t *testing.T) {
	h := newHarness(t)
	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "write",
		Args: map[string]any{"path": "notes.txt", "content": "a\nb\n"},
	})
	if !res.Success {
		t.Fatalf("write failed: %q", res.Error)
	}
	if len(res.Diff) == 0 {
		t.Error("expected diff lines in result")
	}

	stats := h.d.Stats()
	if stats.FilesModified != 1 || stats.LinesAdded != 2 || stats.LinesRemoved != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if !h.queue.HasPending() {
		t.Error("expected a pending change")
	}
}

func TestDispatchSafeCommandNoApproval(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	h := newHarness(t)
	h.write(t, "visible.txt", "x\n")

	// No approval responder is running; a demonstrably read-only command
	// must complete without one.
	done := make(chan Result, 1)
	go func() {
		done <- h.d.Dispatch(context.Background(), Invocation{
			Name: "bash",
			Args: map[string]any{"command": "ls -la"},
		})
	}()
	select {
	case res := <-done:
		if !res.Success {
			t.Fatalf("ls failed: %q", res.Error)
		}
		if !strings.Contains(res.Result, "visible.txt") {
			t.Errorf("output missing file listing: %q", res.Result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("safe command blocked waiting for approval")
	}
	if h.queue.HasPending() {
		t.Error("read-only command enqueued changes")
	}
}

func TestDispatchDisallowedByRules(t *testing.T) {
	h := newHarness(t)
	h.writeRules(t, rules.File{Bash: &rules.BashRules{DisallowRun: []string{"rm *"}}})

	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "bash",
		Args: map[string]any{"command": "rm -rf build"},
	})
	if res.Success || res.Error != "disallowed-by-rules" {
		t.Errorf("success=%v error=%q", res.Success, res.Error)
	}
}

func TestDispatchApprovedCommandTracksChanges(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	h := newHarness(t)
	h.write(t, "a.txt", "one\n")

	h.respond(t, true, "")
	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "bash",
		Args: map[string]any{"command": "printf two > a.txt"},
	})
	if !res.Success {
		t.Fatalf("command failed: %q / %q", res.Error, res.Result)
	}

	pending := h.queue.Snapshot()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	pc := pending[0]
	if pc.Source != changes.SourceBash || pc.Kind != changes.KindEdit {
		t.Errorf("source=%s kind=%s", pc.Source, pc.Kind)
	}
	if pc.Path != "a.txt" || pc.OriginalContent != "one\n" || pc.NewContent != "two" {
		t.Errorf("pc = %+v", pc)
	}

	stats := h.d.Stats()
	if stats.FilesModified != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDispatchSkipApprovalStillSnapshots(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	h := newHarness(t)

	// No responder: SkipApproval must bypass the prompt entirely while the
	// snapshot still records what the command created.
	res := h.d.Dispatch(context.Background(), Invocation{
		Name:         "bash",
		Args:         map[string]any{"command": "printf fresh > new.txt"},
		SkipApproval: true,
	})
	if !res.Success {
		t.Fatalf("command failed: %q", res.Error)
	}

	pending := h.queue.Snapshot()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Kind != changes.KindWrite || pending[0].Path != "new.txt" {
		t.Errorf("pc = %+v", pending[0])
	}
}

func TestDispatchApprovalsDisabled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	h := newHarness(t)
	h.cfg.Approvals = false

	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "bash",
		Args: map[string]any{"command": "printf x > loose.txt"},
	})
	if !res.Success {
		t.Fatalf("command failed: %q", res.Error)
	}
	if h.queue.HasPending() {
		t.Error("changes tracked with approvals disabled")
	}
}

func TestDispatchRejectionWithInstructions(t *testing.T) {
	h := newHarness(t)

	h.respond(t, false, "use git mv instead")
	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "bash",
		Args: map[string]any{"command": "rm old.txt"},
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Error, "rejected-by-user:") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Error, "use git mv instead") {
		t.Errorf("instructions missing from error: %q", res.Error)
	}
	if res.UserMessage != "Operation cancelled" {
		t.Errorf("userMessage = %q", res.UserMessage)
	}
	if _, err := os.Stat(filepath.Join(h.root, "old.txt")); !os.IsNotExist(err) {
		t.Error("rejected command ran anyway")
	}
}

func TestDispatchRejectionWithoutResponse(t *testing.T) {
	h := newHarness(t)

	h.respond(t, false, "")
	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "bash",
		Args: map[string]any{"command": "rm old.txt"},
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "clarifying question") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDispatchInterruptedApproval(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if h.bridge.PendingApproval() != nil {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	defer cancel()

	res := h.d.Dispatch(ctx, Invocation{
		Name: "bash",
		Args: map[string]any{"command": "rm old.txt"},
	})
	if res.Success || res.Error != "interrupted" {
		t.Errorf("success=%v error=%q", res.Success, res.Error)
	}
}

func TestDispatchSoftFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	h := newHarness(t)

	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "bash",
		Args: map[string]any{"command": "ls missing-dir-zzz"},
	})
	if res.Success {
		t.Fatal("expected soft failure")
	}
	if res.Error != "" {
		t.Errorf("soft failure should carry output, not error: %q", res.Error)
	}
	if !strings.Contains(res.Result, "Exit code:") {
		t.Errorf("result = %q", res.Result)
	}
}

func TestDispatchFetchTimeout(t *testing.T) {
	h := newHarness(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "fetch",
		Args: map[string]any{"url": srv.URL, "timeout": 100},
	})
	if res.Success || res.Error != "timed-out" {
		t.Errorf("success=%v error=%q, want timed-out", res.Success, res.Error)
	}
}

func TestDispatchFetchCancelled(t *testing.T) {
	h := newHarness(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.d.Dispatch(ctx, Invocation{
		Name: "fetch",
		Args: map[string]any{"url": srv.URL},
	})
	if res.Success || res.Error != "interrupted" {
		t.Errorf("success=%v error=%q, want interrupted", res.Success, res.Error)
	}
}

func TestDispatchFetchInvalidURL(t *testing.T) {
	h := newHarness(t)
	res := h.d.Dispatch(context.Background(), Invocation{
		Name: "fetch",
		Args: map[string]any{"url": "about:blank"},
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "Invalid URL: about:blank" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ls -la", "ls -la"},
		{"echo 'hello world'", "echo 'hello world'"},
		{strings.Repeat("a", 100), strings.Repeat("a", 77) + "..."},
	}
	for _, tt := range tests {
		if got := sanitizeCommand(tt.in); got != tt.want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCountDiff(t *testing.T) {
	added, removed := countDiff([]string{
		"+   1 | alpha",
		"-   1 | beta",
		"+   2 | gamma",
		"... (3 more lines)",
	})
	if added != 2 || removed != 1 {
		t.Errorf("added=%d removed=%d", added, removed)
	}
}
