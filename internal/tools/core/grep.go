package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"mosaic/internal/logging"
	"mosaic/internal/snapshot"
	"mosaic/internal/tools"
)

// grepParallelism bounds how many files are scanned at once.
const grepParallelism = 15

// defaultGrepMaxFileSize is the per-file size cutoff when the caller does not
// override it.
const defaultGrepMaxFileSize = 512 * 1024

// fileTypeExtensions maps a file_type keyword to the extensions it covers.
var fileTypeExtensions = map[string][]string{
	"go":     {".go"},
	"js":     {".js", ".jsx", ".mjs", ".cjs"},
	"ts":     {".ts", ".tsx"},
	"py":     {".py"},
	"rust":   {".rs"},
	"java":   {".java"},
	"c":      {".c", ".h"},
	"cpp":    {".cpp", ".cc", ".cxx", ".hpp", ".hh"},
	"ruby":   {".rb"},
	"php":    {".php"},
	"shell":  {".sh", ".bash", ".zsh"},
	"web":    {".html", ".css", ".scss", ".vue", ".svelte"},
	"config": {".json", ".yaml", ".yml", ".toml", ".ini", ".env"},
	"docs":   {".md", ".rst", ".txt"},
}

// GrepTool returns a tool for searching file contents by regex.
func GrepTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "grep",
		Description: "Search file contents for a pattern",
		PathArgs:    []string{"path"},
		Execute:     d.executeGrep,
		Schema: tools.Schema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        "string",
					Description: "The text or regex to search for",
				},
				"path": {
					Type:        "string",
					Description: "The directory to search in",
					Default:     ".",
				},
				"pattern": {
					Type:        "string",
					Description: "Glob restricting which files are searched",
				},
				"exclude": {
					Type:        "string",
					Description: "Glob excluding files from the search",
				},
				"file_type": {
					Type:        "string",
					Description: "Restrict to a file type (go, js, ts, py, ...)",
				},
				"regex": {
					Type:        "boolean",
					Description: "Treat query as a regular expression",
					Default:     false,
				},
				"case_sensitive": {
					Type:        "boolean",
					Description: "Match case exactly",
					Default:     false,
				},
				"whole_word": {
					Type:        "boolean",
					Description: "Match whole words only",
					Default:     false,
				},
				"multiline": {
					Type:        "boolean",
					Description: "Allow the pattern to span lines",
					Default:     false,
				},
				"invert_match": {
					Type:        "boolean",
					Description: "Report files where nothing matches",
					Default:     false,
				},
				"context_before": {
					Type:        "integer",
					Description: "Lines of context before each match",
					Default:     0,
				},
				"context_after": {
					Type:        "integer",
					Description: "Lines of context after each match",
					Default:     0,
				},
				"output_mode": {
					Type:        "string",
					Description: "matches, files, or count",
					Default:     "matches",
					Enum:        []any{"matches", "files", "count"},
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of matches to return",
					Default:     100,
				},
				"max_file_size": {
					Type:        "integer",
					Description: "Skip files larger than this many bytes",
					Default:     defaultGrepMaxFileSize,
				},
			},
		},
	}
}

type grepMatch struct {
	line    int
	text    string
	context []string
}

type grepFileResult struct {
	path    string
	matches []grepMatch
	skipped string // non-empty reason when the file was not scanned
}

func (d *Deps) executeGrep(ctx context.Context, args map[string]any) (*tools.Output, error) {
	query, err := tools.RequiredString(args, "query")
	if err != nil {
		return nil, err
	}
	path := tools.StringArg(args, "path", ".")
	filePattern := tools.StringArg(args, "pattern", "")
	exclude := tools.StringArg(args, "exclude", "")
	fileType := tools.StringArg(args, "file_type", "")
	useRegex := tools.BoolArg(args, "regex", false)
	caseSensitive := tools.BoolArg(args, "case_sensitive", false)
	wholeWord := tools.BoolArg(args, "whole_word", false)
	multiline := tools.BoolArg(args, "multiline", false)
	invert := tools.BoolArg(args, "invert_match", false)
	ctxBefore := tools.IntArg(args, "context_before", 0)
	ctxAfter := tools.IntArg(args, "context_after", 0)
	outputMode := tools.StringArg(args, "output_mode", "matches")
	maxResults := tools.IntArg(args, "max_results", 100)
	maxFileSize := tools.IntArg(args, "max_file_size", defaultGrepMaxFileSize)

	switch outputMode {
	case "matches", "files", "count":
	default:
		return nil, fmt.Errorf("invalid output_mode: %s", outputMode)
	}

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	re, err := compileQuery(query, useRegex, caseSensitive, wholeWord, multiline)
	if err != nil {
		return nil, err
	}

	var includeRe, excludeRe *regexp.Regexp
	if filePattern != "" {
		if includeRe, err = compileGlob(filePattern); err != nil {
			return nil, err
		}
	}
	if exclude != "" {
		if excludeRe, err = compileGlob(exclude); err != nil {
			return nil, err
		}
	}

	var extensions []string
	if fileType != "" {
		exts, ok := fileTypeExtensions[strings.ToLower(fileType)]
		if !ok {
			return nil, fmt.Errorf("unknown file_type: %s", fileType)
		}
		extensions = exts
	}

	candidates := collectCandidates(abs, includeRe, excludeRe, extensions)

	results := make([]grepFileResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(grepParallelism)
	for i, rel := range candidates {
		i, rel := i, rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scanFile(abs, rel, re, multiline, invert, ctxBefore, ctxAfter, maxFileSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := formatGrepResults(results, outputMode, maxResults, len(candidates))
	logging.ToolsDebug("grep: query=%q files=%d", query, len(candidates))
	return &tools.Output{Text: out}, nil
}

// compileQuery builds the match regex from the search flags.
func compileQuery(query string, useRegex, caseSensitive, wholeWord, multiline bool) (*regexp.Regexp, error) {
	expr := query
	if !useRegex {
		expr = regexp.QuoteMeta(expr)
	}
	if wholeWord {
		expr = `\b(?:` + expr + `)\b`
	}
	var flags string
	if !caseSensitive {
		flags += "i"
	}
	if multiline {
		flags += "s"
	}
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", tools.ErrInvalidPattern, query)
	}
	return re, nil
}

// collectCandidates walks the tree and returns the workspace-relative paths
// eligible for scanning, in walk order.
func collectCandidates(root string, include, exclude *regexp.Regexp, extensions []string) []string {
	var candidates []string
	filepath.WalkDir(root, func(p string, entry fs.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		name := entry.Name()
		if entry.IsDir() {
			if p != root && (snapshot.ExcludedDir(name) || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if include != nil && !include.MatchString(rel) {
			return nil
		}
		if exclude != nil && exclude.MatchString(rel) {
			return nil
		}
		if len(extensions) > 0 {
			ext := strings.ToLower(filepath.Ext(name))
			found := false
			for _, e := range extensions {
				if ext == e {
					found = true
					break
				}
			}
			if !found {
				return nil
			}
		}
		candidates = append(candidates, rel)
		return nil
	})
	return candidates
}

func scanFile(root, rel string, re *regexp.Regexp, multiline, invert bool, ctxBefore, ctxAfter, maxFileSize int) grepFileResult {
	res := grepFileResult{path: rel}

	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		res.skipped = "unreadable"
		return res
	}
	if info.Size() > int64(maxFileSize) {
		res.skipped = "too large"
		return res
	}
	data, err := os.ReadFile(full)
	if err != nil {
		res.skipped = "unreadable"
		return res
	}
	if snapshot.IsBinary(data) {
		res.skipped = "binary"
		return res
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(content, "\n")

	if multiline {
		locs := re.FindAllStringIndex(content, -1)
		if invert {
			if len(locs) == 0 {
				res.matches = append(res.matches, grepMatch{line: 1, text: "(no match in file)"})
			}
			return res
		}
		for _, loc := range locs {
			line := 1 + strings.Count(content[:loc[0]], "\n")
			text := content[loc[0]:loc[1]]
			if idx := strings.IndexByte(text, '\n'); idx >= 0 {
				text = text[:idx] + " ..."
			}
			res.matches = append(res.matches, grepMatch{line: line, text: text})
		}
		return res
	}

	if invert {
		for _, line := range lines {
			if re.MatchString(line) {
				return res
			}
		}
		// One synthetic match stands for the whole non-matching file.
		res.matches = append(res.matches, grepMatch{line: 1, text: "(no match in file)"})
		return res
	}

	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		m := grepMatch{line: i + 1, text: line}
		for j := i - ctxBefore; j < i; j++ {
			if j >= 0 {
				m.context = append(m.context, fmt.Sprintf("%d- %s", j+1, lines[j]))
			}
		}
		m.context = append(m.context, fmt.Sprintf("%d: %s", i+1, line))
		for j := i + 1; j <= i+ctxAfter && j < len(lines); j++ {
			m.context = append(m.context, fmt.Sprintf("%d- %s", j+1, lines[j]))
		}
		res.matches = append(res.matches, m)
	}
	return res
}

func formatGrepResults(results []grepFileResult, outputMode string, maxResults, searched int) string {
	var b strings.Builder
	totalMatches := 0
	matchedFiles := 0
	var skippedSummary []string
	emitted := 0

	for _, r := range results {
		if r.skipped != "" {
			skippedSummary = append(skippedSummary, fmt.Sprintf("%s (%s)", r.path, r.skipped))
			continue
		}
		if len(r.matches) == 0 {
			continue
		}
		matchedFiles++
		totalMatches += len(r.matches)

		switch outputMode {
		case "files":
			if emitted < maxResults {
				b.WriteString(r.path + "\n")
				emitted++
			}
		case "count":
			if emitted < maxResults {
				fmt.Fprintf(&b, "%s: %d\n", r.path, len(r.matches))
				emitted++
			}
		default:
			for _, m := range r.matches {
				if emitted >= maxResults {
					break
				}
				if len(m.context) > 0 {
					fmt.Fprintf(&b, "%s:\n", r.path)
					for _, c := range m.context {
						b.WriteString("  " + c + "\n")
					}
				} else {
					fmt.Fprintf(&b, "%s:%d: %s\n", r.path, m.line, m.text)
				}
				emitted++
			}
		}
	}

	header := fmt.Sprintf("%d matches in %d files (searched %d)", totalMatches, matchedFiles, searched)
	if len(skippedSummary) > 0 {
		header += fmt.Sprintf(", skipped %d: %s", len(skippedSummary), strings.Join(skippedSummary, ", "))
	}
	if totalMatches == 0 {
		return header
	}
	return header + "\n\n" + strings.TrimRight(b.String(), "\n")
}
