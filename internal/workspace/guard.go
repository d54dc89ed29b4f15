// Package workspace confines all tool file I/O to a single root directory.
// The Guard is the one place where symlink escapes are rejected; every tool
// handler must run caller-supplied paths through it before touching the disk.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mosaic/internal/logging"
)

// ErrAccessDenied is returned for any path that resolves outside the root.
var ErrAccessDenied = errors.New("access-denied")

// Guard validates and resolves paths against a canonicalized workspace root.
type Guard struct {
	root string
}

// New canonicalizes root (absolute path, symlinks resolved) and returns a
// Guard for it. The root must exist.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize workspace root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", canonical)
	}
	return &Guard{root: canonical}, nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve joins a caller-supplied path (absolute or workspace-relative) with
// the root and validates containment. It returns the absolute, cleaned path.
func (g *Guard) Resolve(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	abs = filepath.Clean(abs)

	if err := g.Validate(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// Validate canonicalizes p and checks that the result is the root itself or
// lies strictly under it. When the leaf does not exist yet, the nearest
// existing ancestor is canonicalized and tested instead, so that writes to
// new files are still confined.
func (g *Guard) Validate(p string) error {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	abs = filepath.Clean(abs)

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Leaf may not exist yet. Canonicalize the nearest existing
		// ancestor and re-append the remainder.
		ancestor, rest, aerr := nearestExistingAncestor(abs)
		if aerr != nil {
			logging.WorkspaceWarn("validate %s: %v", p, aerr)
			return ErrAccessDenied
		}
		canonicalAncestor, cerr := filepath.EvalSymlinks(ancestor)
		if cerr != nil {
			logging.WorkspaceWarn("validate %s: %v", p, cerr)
			return ErrAccessDenied
		}
		canonical = filepath.Join(canonicalAncestor, rest)
	}

	if !g.contains(canonical) {
		logging.WorkspaceWarn("rejected path outside workspace: %s", p)
		return ErrAccessDenied
	}
	return nil
}

// Rel converts an absolute path inside the workspace to the forward-slash
// relative form used in tool results and pending changes.
func (g *Guard) Rel(abs string) string {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func (g *Guard) contains(canonical string) bool {
	if canonical == g.root {
		return true
	}
	return strings.HasPrefix(canonical, g.root+string(os.PathSeparator))
}

// nearestExistingAncestor walks up from p until a path that exists, returning
// it and the not-yet-existing remainder.
func nearestExistingAncestor(p string) (ancestor, rest string, err error) {
	ancestor = p
	for {
		if _, serr := os.Lstat(ancestor); serr == nil {
			return ancestor, rest, nil
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return "", "", fmt.Errorf("no existing ancestor for %s", p)
		}
		if rest == "" {
			rest = filepath.Base(ancestor)
		} else {
			rest = filepath.Join(filepath.Base(ancestor), rest)
		}
		ancestor = parent
	}
}
