// Package safety decides whether a shell command may run without approval.
// It never parses shell fully; classification is conservative token
// inspection over quote-aware segments, with the local rules store taking
// precedence over everything else.
package safety

import (
	"errors"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"mosaic/internal/logging"
	"mosaic/internal/rules"
)

// Verdict is the classifier's decision for a command string.
type Verdict int

const (
	// NeedsApproval marks commands that may mutate state; the dispatcher
	// must obtain interactive approval before running them.
	NeedsApproval Verdict = iota

	// Safe marks a single read-only command.
	Safe

	// ReadOnlyChain marks a chain whose segments are all individually
	// safe. No approval is needed, but the command is still opaque for
	// snapshotting purposes.
	ReadOnlyChain

	// AutoRun marks a command matched by an autoRun rule.
	AutoRun

	// Disallowed marks a command matched by a disallowRun rule; the tool
	// is refused without an approval prompt.
	Disallowed
)

func (v Verdict) String() string {
	switch v {
	case Safe:
		return "safe"
	case ReadOnlyChain:
		return "read-only-chain"
	case AutoRun:
		return "explicitly-auto-run"
	case Disallowed:
		return "explicitly-disallowed"
	default:
		return "dangerous-requires-approval"
	}
}

// NeedsNoApproval reports whether the verdict lets the command run without
// an interactive prompt.
func (v Verdict) NeedsNoApproval() bool {
	return v == Safe || v == ReadOnlyChain || v == AutoRun
}

// ErrUnsupportedSyntax is returned by Segment for shell constructs the
// classifier refuses to reason about (command substitution, backgrounding).
var ErrUnsupportedSyntax = errors.New("unsupported-syntax")

// Classifier classifies shell commands, consulting the rules store first.
type Classifier struct {
	rules *rules.Store
}

// New creates a classifier. The rules store may be nil, in which case only
// the built-in allow-list and dangerous patterns apply.
func New(store *rules.Store) *Classifier {
	return &Classifier{rules: store}
}

// Classify returns the verdict for a command string.
func (c *Classifier) Classify(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return NeedsApproval
	}

	// The rules store dominates the heuristics, deny before allow.
	if c.rules != nil {
		if c.rules.MatchesDisallow(trimmed) {
			logging.Safety("disallowed by rules: %q", trimmed)
			return Disallowed
		}
		if c.rules.MatchesAutoRun(trimmed) {
			logging.SafetyDebug("auto-run by rules: %q", trimmed)
			return AutoRun
		}
	}

	segments, err := Segment(trimmed)
	if err != nil {
		logging.SafetyDebug("segmentation failed for %q: %v", trimmed, err)
		return NeedsApproval
	}

	for _, seg := range segments {
		if !segmentIsSafe(seg) {
			return NeedsApproval
		}
	}

	if len(segments) == 1 {
		return Safe
	}
	return ReadOnlyChain
}

// Segment splits a command at top-level ;, |, &&, || while respecting single
// and double quotes and backslash escapes. Backticks, $( and lone & abort
// with ErrUnsupportedSyntax, as do empty segments.
func Segment(command string) ([]string, error) {
	var segments []string
	var current strings.Builder

	flush := func() error {
		seg := strings.TrimSpace(current.String())
		if seg == "" {
			return ErrUnsupportedSyntax
		}
		segments = append(segments, seg)
		current.Reset()
		return nil
	}

	inSingle, inDouble := false, false
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if ch == '\\' && !inSingle && i+1 < len(runes) {
			current.WriteRune(ch)
			current.WriteRune(runes[i+1])
			i++
			continue
		}

		switch {
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteRune(ch)
			continue
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteRune(ch)
			continue
		}

		if inSingle || inDouble {
			current.WriteRune(ch)
			continue
		}

		switch ch {
		case '`':
			return nil, ErrUnsupportedSyntax
		case '$':
			if i+1 < len(runes) && runes[i+1] == '(' {
				return nil, ErrUnsupportedSyntax
			}
			current.WriteRune(ch)
		case ';':
			if err := flush(); err != nil {
				return nil, err
			}
		case '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
			if err := flush(); err != nil {
				return nil, err
			}
		case '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				i++
				if err := flush(); err != nil {
					return nil, err
				}
				continue
			}
			// Lone & (backgrounding) is out of scope.
			return nil, ErrUnsupportedSyntax
		default:
			current.WriteRune(ch)
		}
	}

	if inSingle || inDouble {
		return nil, ErrUnsupportedSyntax
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segments, nil
}

// segmentIsSafe reports whether one segment is demonstrably read-only: its
// leading token is on the allow-list and none of the dangerous patterns
// match. curl and wget are held to a stricter whole-segment whitelist.
func segmentIsSafe(segment string) bool {
	lead := leadingToken(segment)
	if lead == "" {
		return false
	}

	if lead == "curl" || lead == "wget" {
		return safeFetchRe.MatchString(segment)
	}

	if !safeCommands[lead] {
		return false
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(segment) {
			return false
		}
	}
	return true
}

// leadingToken extracts the first token of a segment. Shell-aware parsing
// handles quoted arguments; on a parse error fall back to whitespace fields.
func leadingToken(segment string) string {
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(segment)
	if err != nil || len(tokens) == 0 {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	}
	return tokens[0]
}
