package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mosaic/internal/changes"
	"mosaic/internal/tools"
	"mosaic/internal/workspace"
)

func newTestDeps(t *testing.T) (*Deps, string) {
	t.Helper()
	root := t.TempDir()
	guard, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	return &Deps{Guard: guard, Queue: changes.NewQueue()}, guard.Root()
}

func mustWrite(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestReadWholeFile(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "f.txt", "one\ntwo\nthree\n")

	out, err := d.executeRead(context.Background(), map[string]any{"path": "f.txt"})
	if err != nil {
		t.Fatalf("executeRead: %v", err)
	}
	if out.Text != "one\ntwo\nthree\n" {
		t.Errorf("got %q", out.Text)
	}
}

func TestReadLineRange(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "f.txt", "one\ntwo\nthree\nfour\n")

	out, err := d.executeRead(context.Background(), map[string]any{
		"path":       "f.txt",
		"start_line": float64(2), // JSON numbers arrive as float64
		"end_line":   float64(3),
	})
	if err != nil {
		t.Fatalf("executeRead: %v", err)
	}
	if out.Text != "two\nthree" {
		t.Errorf("got %q, want lines 2-3", out.Text)
	}
}

func TestReadOutOfBounds(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "f.txt", "only\n")

	_, err := d.executeRead(context.Background(), map[string]any{
		"path":       "f.txt",
		"start_line": 10,
	})
	if !errors.Is(err, tools.ErrOutOfBounds) {
		t.Errorf("got %v, want ErrOutOfBounds", err)
	}
}

func TestReadEscapingPath(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(t)
	_, err := d.executeRead(context.Background(), map[string]any{"path": "../etc/passwd"})
	if !errors.Is(err, workspace.ErrAccessDenied) {
		t.Errorf("got %v, want ErrAccessDenied", err)
	}
}

func TestWriteCreatesWithParents(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	out, err := d.executeWrite(context.Background(), map[string]any{
		"path":    "deep/nested/new.txt",
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("executeWrite: %v", err)
	}
	if len(out.Diff) == 0 {
		t.Error("write produced no diff")
	}

	data, err := os.ReadFile(filepath.Join(root, "deep", "nested", "new.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("file = %q", data)
	}

	pcs := d.Queue.Snapshot()
	if len(pcs) != 1 {
		t.Fatalf("queued %d changes, want 1", len(pcs))
	}
	if pcs[0].Kind != changes.KindWrite || pcs[0].Path != "deep/nested/new.txt" {
		t.Errorf("queued %s %s", pcs[0].Kind, pcs[0].Path)
	}
}

func TestWriteTrimsTrailingWhitespace(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	_, err := d.executeWrite(context.Background(), map[string]any{
		"path":    "f.txt",
		"content": "line one   \nline two\t\n",
	})
	if err != nil {
		t.Fatalf("executeWrite: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "line one\nline two\n" {
		t.Errorf("file = %q", data)
	}
}

func TestWriteAppend(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "log.txt", "first\n")

	_, err := d.executeWrite(context.Background(), map[string]any{
		"path":    "log.txt",
		"content": "second\n",
		"append":  true,
	})
	if err != nil {
		t.Fatalf("executeWrite: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(root, "log.txt"))
	if string(data) != "first\nsecond\n" {
		t.Errorf("file = %q", data)
	}

	pcs := d.Queue.Snapshot()
	if len(pcs) != 1 || pcs[0].Kind != changes.KindEdit {
		t.Errorf("append of existing file queued %v, want one edit", pcs)
	}
	if pcs[0].OriginalContent != "first\n" {
		t.Errorf("original = %q", pcs[0].OriginalContent)
	}
}

func TestEditSecondOccurrence(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "f", "x\nfoo\nfoo\n")

	_, err := d.executeEdit(context.Background(), map[string]any{
		"path":        "f",
		"old_content": "foo",
		"new_content": "bar",
		"occurrence":  2,
	})
	if err != nil {
		t.Fatalf("executeEdit: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(root, "f"))
	if string(data) != "x\nfoo\nbar\n" {
		t.Errorf("file = %q, want second occurrence replaced", data)
	}

	pcs := d.Queue.Snapshot()
	if len(pcs) != 1 {
		t.Fatalf("queued %d changes, want 1", len(pcs))
	}
	if pcs[0].OriginalContent != "x\nfoo\nfoo\n" || pcs[0].NewContent != "x\nfoo\nbar\n" {
		t.Errorf("queued %q -> %q", pcs[0].OriginalContent, pcs[0].NewContent)
	}
}

func TestEditMissingOccurrence(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "f", "foo\n")

	_, err := d.executeEdit(context.Background(), map[string]any{
		"path":        "f",
		"old_content": "foo",
		"new_content": "bar",
		"occurrence":  2,
	})
	if !errors.Is(err, tools.ErrOccurrenceNotFound) {
		t.Errorf("got %v, want ErrOccurrenceNotFound", err)
	}
}

func TestEditAnchorNotPresent(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	mustWrite(t, root, "f", "something else\n")

	_, err := d.executeEdit(context.Background(), map[string]any{
		"path":        "f",
		"old_content": "absent",
		"new_content": "x",
	})
	if !errors.Is(err, tools.ErrOccurrenceNotFound) {
		t.Errorf("got %v, want ErrOccurrenceNotFound", err)
	}
}

func TestEditCreatesEmptyFile(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	_, err := d.executeEdit(context.Background(), map[string]any{
		"path":        "new.txt",
		"old_content": "",
		"new_content": "created",
	})
	if err != nil {
		t.Fatalf("executeEdit: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(root, "new.txt"))
	if string(data) != "created" {
		t.Errorf("file = %q", data)
	}
	pcs := d.Queue.Snapshot()
	if len(pcs) != 1 || pcs[0].Kind != changes.KindWrite {
		t.Errorf("queued %v, want one write", pcs)
	}
}

func TestCreateDirectory(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	_, err := d.executeCreateDirectory(context.Background(), map[string]any{
		"path": "a/b/c",
	})
	if err != nil {
		t.Fatalf("executeCreateDirectory: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	if err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}
}

func TestCreateDirectoryRefusesFileLikePath(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeps(t)
	for _, p := range []string{"src/main.go", "script.py", "lib.rs"} {
		if _, err := d.executeCreateDirectory(context.Background(), map[string]any{"path": p}); err == nil {
			t.Errorf("create_directory(%q) succeeded, want refusal", p)
		}
	}
}

func TestCreateDirectoryAllowsDocStyleNames(t *testing.T) {
	t.Parallel()

	d, root := newTestDeps(t)
	for _, p := range []string{"notes.md", "site.html", "v2.json", "profiles.yaml"} {
		if _, err := d.executeCreateDirectory(context.Background(), map[string]any{"path": p}); err != nil {
			t.Errorf("create_directory(%q): %v", p, err)
			continue
		}
		info, err := os.Stat(filepath.Join(root, p))
		if err != nil || !info.IsDir() {
			t.Errorf("%q not created as a directory: %v", p, err)
		}
	}
}
