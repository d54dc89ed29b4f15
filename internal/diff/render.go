package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Render produces the display form of a diff: one text line per added or
// removed entry, "<sign><line-number padded to 4> | <content>". Line numbers
// count the old stream for removals and the new stream for additions, and
// advance over unchanged lines. When maxLines > 0 and the output would exceed
// it, a trailing "... (N more lines)" marker is appended.
func Render(lines []Line, maxLines int) []string {
	var out []string
	hidden := 0

	for _, l := range lines {
		var rendered string
		switch l.Type {
		case LineAdded:
			rendered = fmt.Sprintf("+%4d | %s", l.NewLine, l.Content)
		case LineRemoved:
			rendered = fmt.Sprintf("-%4d | %s", l.OldLine, l.Content)
		default:
			continue
		}
		if maxLines > 0 && len(out) >= maxLines {
			hidden++
			continue
		}
		out = append(out, rendered)
	}

	if hidden > 0 {
		out = append(out, fmt.Sprintf("... (%d more lines)", hidden))
	}
	return out
}

// RenderString renders the diff display form as a single string.
func RenderString(lines []Line, maxLines int) string {
	return strings.Join(Render(lines, maxLines), "\n")
}

// ParsedLine is the result of recognizing one display-form line, so the UI
// layer can colorize diff hunks without re-running the diff.
type ParsedLine struct {
	Prefix     string
	LineNumber int
	Content    string
	IsAdded    bool
	IsRemoved  bool
}

var displayLineRe = regexp.MustCompile(`^([+-])\s*(\d+)\s*\|?\s?(.*)$`)

// ParseLine recognizes a display-form diff line. The second return value is
// false for anything that is not an added or removed line.
func ParseLine(s string) (ParsedLine, bool) {
	m := displayLineRe.FindStringSubmatch(s)
	if m == nil {
		return ParsedLine{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return ParsedLine{}, false
	}
	return ParsedLine{
		Prefix:     m[1],
		LineNumber: n,
		Content:    m[3],
		IsAdded:    m[1] == "+",
		IsRemoved:  m[1] == "-",
	}, true
}
