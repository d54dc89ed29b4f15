// Package snapshot captures bounded snapshots of workspace text files so the
// effects of opaque shell commands can be reconstructed by comparison.
package snapshot

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"mosaic/internal/logging"
)

// Capture limits. Anything beyond them is skipped and therefore invisible
// to change review.
const (
	MaxFiles     = 2000
	MaxFileBytes = 512 * 1024
	MaxTotal     = 12 * 1024 * 1024
)

// excludedDirs are never descended during capture.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".hg":          true,
	".svn":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"out":          true,
	".next":        true,
	".cache":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".mosaic":      true,
}

// ExcludedDir reports whether a directory name is pruned from snapshots and
// recursive listings.
func ExcludedDir(name string) bool {
	return excludedDirs[name]
}

// Snapshot is a bounded capture of workspace text files, keyed by
// forward-slash workspace-relative path.
type Snapshot struct {
	Files     map[string]string
	Truncated bool
	Skipped   int
}

// FileDelta describes one file that differs between two snapshots. Empty
// OldContent means the file appeared; empty NewContent means it vanished.
type FileDelta struct {
	Path       string
	OldContent string
	NewContent string
}

// Capture walks the workspace depth-first, pruning excluded directories and
// honoring the file, per-file and total byte caps in walk order. Binary
// files count as skipped.
func Capture(root string) (*Snapshot, error) {
	snap := &Snapshot{Files: make(map[string]string)}
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path != root && (excludedDirs[d.Name()] || d.Name() == ".git") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if len(snap.Files) >= MaxFiles {
			snap.Truncated = true
			return filepath.SkipAll
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if info.Size() > MaxFileBytes {
			snap.Skipped++
			return nil
		}
		if total+info.Size() > MaxTotal {
			snap.Truncated = true
			return filepath.SkipAll
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			snap.Skipped++
			return nil
		}
		if IsBinary(data) {
			snap.Skipped++
			return nil
		}

		rel, rerr2 := filepath.Rel(root, path)
		if rerr2 != nil {
			return nil
		}
		snap.Files[filepath.ToSlash(rel)] = string(data)
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.SnapshotDebug("captured %d files (%d skipped, truncated=%v)",
		len(snap.Files), snap.Skipped, snap.Truncated)
	return snap, nil
}

// Diff returns the per-file deltas between two snapshots, sorted by path.
// A path present in exactly one side, or present in both with differing
// content, yields a delta.
func Diff(before, after *Snapshot) []FileDelta {
	var deltas []FileDelta

	for path, oldContent := range before.Files {
		newContent, ok := after.Files[path]
		if !ok {
			deltas = append(deltas, FileDelta{Path: path, OldContent: oldContent})
			continue
		}
		if oldContent != newContent {
			deltas = append(deltas, FileDelta{
				Path:       path,
				OldContent: oldContent,
				NewContent: newContent,
			})
		}
	}
	for path, newContent := range after.Files {
		if _, ok := before.Files[path]; !ok {
			deltas = append(deltas, FileDelta{Path: path, NewContent: newContent})
		}
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Path < deltas[j].Path })
	return deltas
}

// IsBinary reports whether data looks like binary content: a NUL byte, more
// than 10% control bytes in the first 8000 bytes, or invalid UTF-8.
func IsBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
		// The cut may have split a multi-byte rune; back off to the last
		// complete one so the UTF-8 check sees only whole runes.
		for len(probe) > 0 && !utf8.RuneStart(probe[len(probe)-1]) {
			probe = probe[:len(probe)-1]
		}
		if r, size := utf8.DecodeLastRune(probe); r == utf8.RuneError && size <= 1 && len(probe) > 0 {
			probe = probe[:len(probe)-1]
		}
	}
	if len(probe) == 0 {
		return false
	}

	control := 0
	for _, b := range probe {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			control++
		}
	}
	if control*10 > len(probe) {
		return true
	}
	return !utf8.Valid(probe)
}
