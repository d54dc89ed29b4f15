// Package rules reads user-provided auto-allow / auto-deny command patterns
// from <workspace>/.mosaic/rules.json. The parsed file is cached by mtime; an
// optional fsnotify watcher drops the cache as soon as the file changes.
package rules

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mosaic/internal/logging"
)

// File is the on-disk shape of rules.json.
type File struct {
	Bash *BashRules `json:"bash,omitempty"`
}

// BashRules holds command patterns for the bash tool.
type BashRules struct {
	AutoRun     []string `json:"autoRun,omitempty"`
	DisallowRun []string `json:"disallowRun,omitempty"`
}

// Store loads and matches local rules for one workspace.
type Store struct {
	path string

	mu      sync.Mutex
	cached  *File
	modTime time.Time

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a rules store for the workspace root. No file I/O happens
// until the first lookup.
func NewStore(workspaceRoot string) *Store {
	return &Store{
		path: filepath.Join(workspaceRoot, ".mosaic", "rules.json"),
	}
}

// Path returns the rules file location.
func (s *Store) Path() string {
	return s.path
}

// Watch starts an fsnotify watcher on the rules directory that invalidates
// the cache when rules.json changes. Best effort: a watcher error only means
// lookups fall back to mtime checking.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == filepath.Base(s.path) {
					logging.RulesDebug("rules file changed (%s), dropping cache", ev.Op)
					s.invalidate()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if any.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		close(s.done)
		s.watcher.Close()
		s.watcher = nil
	}
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.modTime = time.Time{}
	s.mu.Unlock()
}

// load returns the parsed rules file, re-reading only when the mtime moved.
// A missing or malformed file yields no rules.
func (s *Store) load() *File {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		s.cached = nil
		s.modTime = time.Time{}
		return &File{}
	}

	if s.cached != nil && info.ModTime().Equal(s.modTime) {
		return s.cached
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return &File{}
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		logging.RulesWarn("failed to parse %s: %v", s.path, err)
		return &File{}
	}

	s.cached = &f
	s.modTime = info.ModTime()
	logging.RulesDebug("loaded rules from %s", s.path)
	return &f
}

// MatchesDisallow reports whether the command matches any disallowRun pattern.
func (s *Store) MatchesDisallow(command string) bool {
	f := s.load()
	if f.Bash == nil {
		return false
	}
	return matchesAny(command, f.Bash.DisallowRun)
}

// MatchesAutoRun reports whether the command matches any autoRun pattern.
func (s *Store) MatchesAutoRun(command string) bool {
	f := s.load()
	if f.Bash == nil {
		return false
	}
	return matchesAny(command, f.Bash.AutoRun)
}

func matchesAny(command string, patterns []string) bool {
	trimmed := strings.TrimSpace(command)
	for _, p := range patterns {
		if matchPattern(trimmed, p) {
			return true
		}
	}
	return false
}

// matchPattern implements the three pattern forms:
//
//	"<tok> *"  base command plus any arguments
//	"<tok>*"   any command starting with <tok>
//	"<tok>"    exact match
func matchPattern(command, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, " *") {
		base := strings.TrimSuffix(pattern, " *")
		return command == base || strings.HasPrefix(command, base+" ")
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(command, strings.TrimSuffix(pattern, "*"))
	}
	return command == pattern
}

// subcommandRe matches identifiers that look like a subcommand rather than a
// flag or a path, e.g. "status" in "git status".
var subcommandRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// AddAutoRunRule derives a "<base command> *" pattern from the command and
// appends it to autoRun, writing the file back and dropping the cache.
// "git status --short" becomes "git status *"; "ls -la" becomes "ls *".
func (s *Store) AddAutoRunRule(command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}

	base := fields[0]
	if len(fields) > 1 && subcommandRe.MatchString(fields[1]) {
		base = base + " " + fields[1]
	}
	pattern := base + " *"

	f := s.load()
	updated := *f
	if updated.Bash == nil {
		updated.Bash = &BashRules{}
	}
	for _, existing := range updated.Bash.AutoRun {
		if existing == pattern {
			return pattern, nil
		}
	}
	updated.Bash.AutoRun = append(updated.Bash.AutoRun, pattern)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(&updated, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return "", err
	}

	s.invalidate()
	logging.Rules("added autoRun rule %q", pattern)
	return pattern, nil
}

// AutoRunPatterns returns the current autoRun patterns (for the CLI).
func (s *Store) AutoRunPatterns() []string {
	f := s.load()
	if f.Bash == nil {
		return nil
	}
	return append([]string(nil), f.Bash.AutoRun...)
}

// DisallowPatterns returns the current disallowRun patterns (for the CLI).
func (s *Store) DisallowPatterns() []string {
	f := s.load()
	if f.Bash == nil {
		return nil
	}
	return append([]string(nil), f.Bash.DisallowRun...)
}
