// Package diff computes line-level diffs using the sergi/go-diff library
// and renders them into the labeled form used by approval previews and the
// review loop.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType classifies a diff line.
type LineType int

const (
	LineUnchanged LineType = iota
	LineAdded
	LineRemoved
)

// Line is a single entry in a computed diff. OldLine and NewLine are
// 1-indexed positions in the old and new content; -1 when not applicable.
type Line struct {
	Type    LineType
	Content string
	OldLine int
	NewLine int
}

// Engine wraps a diffmatchpatch instance configured for line diffs.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewEngine creates a diff engine. Timeout is disabled for accuracy.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp}
}

// DefaultEngine is a shared engine for general use.
var DefaultEngine = NewEngine()

// Compute returns the line-level diff between two UTF-8 strings. An empty
// input counts as an empty sequence of lines, not a single empty line.
func (e *Engine) Compute(oldContent, newContent string) []Line {
	if oldContent == newContent {
		return e.unchangedLines(oldContent)
	}

	// Line-level reduction avoids newline boundary artifacts when the
	// character diffs are converted back to line operations.
	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	var out []Line
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		for _, content := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
				out = append(out, Line{
					Type:    LineUnchanged,
					Content: content,
					OldLine: oldLine,
					NewLine: newLine,
				})
			case diffmatchpatch.DiffDelete:
				oldLine++
				out = append(out, Line{
					Type:    LineRemoved,
					Content: content,
					OldLine: oldLine,
					NewLine: -1,
				})
			case diffmatchpatch.DiffInsert:
				newLine++
				out = append(out, Line{
					Type:    LineAdded,
					Content: content,
					OldLine: -1,
					NewLine: newLine,
				})
			}
		}
	}
	return out
}

// Compute is a convenience function using the default engine.
func Compute(oldContent, newContent string) []Line {
	return DefaultEngine.Compute(oldContent, newContent)
}

// Stats counts added and removed lines in a computed diff.
func Stats(lines []Line) (added, removed int) {
	for _, l := range lines {
		switch l.Type {
		case LineAdded:
			added++
		case LineRemoved:
			removed++
		}
	}
	return added, removed
}

func (e *Engine) unchangedLines(content string) []Line {
	lines := splitLines(content)
	out := make([]Line, 0, len(lines))
	for i, content := range lines {
		out = append(out, Line{
			Type:    LineUnchanged,
			Content: content,
			OldLine: i + 1,
			NewLine: i + 1,
		})
	}
	return out
}

// splitLines splits content into lines without manufacturing a trailing empty
// line, and without treating "" as one empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
