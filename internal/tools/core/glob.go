package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"mosaic/internal/logging"
	"mosaic/internal/snapshot"
	"mosaic/internal/tools"
)

// GlobTool returns a tool for finding files by glob pattern.
func GlobTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern; ** matches across directories",
		PathArgs:    []string{"path"},
		Execute:     d.executeGlob,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "The glob pattern to match (e.g. **/*.go)",
				},
				"path": {
					Type:        "string",
					Description: "The directory to search from",
					Default:     ".",
				},
			},
		},
	}
}

func (d *Deps) executeGlob(ctx context.Context, args map[string]any) (*tools.Output, error) {
	pattern, err := tools.RequiredString(args, "pattern")
	if err != nil {
		return nil, err
	}
	path := tools.StringArg(args, "path", ".")

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}

	var matches []string
	if strings.Contains(pattern, "**") {
		walkErr := filepath.WalkDir(abs, func(p string, entry fs.DirEntry, werr error) error {
			if werr != nil {
				return nil
			}
			name := entry.Name()
			if entry.IsDir() {
				if p != abs && (snapshot.ExcludedDir(name) || strings.HasPrefix(name, ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(abs, p)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if re.MatchString(rel) {
				matches = append(matches, rel)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", walkErr)
		}
	} else {
		entries, readErr := os.ReadDir(abs)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read directory: %w", readErr)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if re.MatchString(entry.Name()) {
				matches = append(matches, entry.Name())
			}
		}
	}

	logging.ToolsDebug("glob: pattern=%s path=%s matches=%d", pattern, d.Guard.Rel(abs), len(matches))

	if len(matches) == 0 {
		return &tools.Output{Text: fmt.Sprintf("No files matching %q", pattern)}, nil
	}
	return &tools.Output{Text: strings.Join(matches, "\n")}, nil
}

// globCache keeps compiled glob regexes, capped so pathological callers
// cannot grow it without bound. Eviction is oldest-first.
var globCache = struct {
	sync.Mutex
	entries map[string]*regexp.Regexp
	order   []string
}{entries: make(map[string]*regexp.Regexp)}

const globCacheCap = 100

// compileGlob translates a glob pattern into an anchored, case-insensitive
// regex: ** crosses directory boundaries, * and ? do not.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	globCache.Lock()
	if re, ok := globCache.entries[pattern]; ok {
		globCache.Unlock()
		return re, nil
	}
	globCache.Unlock()

	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				// Swallow a following slash so **/ also matches the
				// top level.
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					b.WriteString("/?")
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q", tools.ErrInvalidPattern, pattern)
	}

	globCache.Lock()
	if len(globCache.order) >= globCacheCap {
		oldest := globCache.order[0]
		globCache.order = globCache.order[1:]
		delete(globCache.entries, oldest)
	}
	globCache.entries[pattern] = re
	globCache.order = append(globCache.order, pattern)
	globCache.Unlock()

	return re, nil
}
