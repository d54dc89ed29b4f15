// Package changes accumulates tentative file mutations during an agent turn
// and drives the accept/revert review loop that follows it.
package changes

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mosaic/internal/diff"
	"mosaic/internal/logging"
)

// Kind describes what a pending change does to its file.
type Kind string

const (
	KindWrite  Kind = "write" // file creation
	KindEdit   Kind = "edit"  // content modification
	KindDelete Kind = "delete"
)

// Source identifies the tool that produced a pending change. Anything else
// is dropped when review begins.
type Source string

const (
	SourceWrite Source = "write"
	SourceEdit  Source = "edit"
	SourceBash  Source = "bash"
)

// Preview is the human-readable summary shown during review.
type Preview struct {
	Title   string
	Content string
}

// PendingChange is one queued, reversible file mutation awaiting review.
// OriginalContent holds the file as it was when the path was first touched
// this turn; Path is workspace-relative with forward slashes.
type PendingChange struct {
	ID              string
	Kind            Kind
	Source          Source
	Path            string
	OriginalContent string
	NewContent      string
	Timestamp       time.Time
	Preview         Preview
}

// Queue is the ordered accumulation of pending changes for one turn.
// Per-path uniqueness is established at review time, not on insertion.
type Queue struct {
	mu      sync.Mutex
	items   []PendingChange
	subs    map[int]func([]PendingChange)
	nextSub int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{subs: make(map[int]func([]PendingChange))}
}

// Subscribe registers a listener invoked with the full pending list after
// every enqueue and clear. Returns an unsubscribe function.
func (q *Queue) Subscribe(fn func([]PendingChange)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subs, id)
	}
}

// Enqueue appends a change unconditionally, preserving first-touch order.
func (q *Queue) Enqueue(source Source, kind Kind, path, originalContent, newContent string, preview Preview) PendingChange {
	pc := PendingChange{
		ID:              uuid.NewString(),
		Kind:            kind,
		Source:          source,
		Path:            path,
		OriginalContent: originalContent,
		NewContent:      newContent,
		Timestamp:       time.Now(),
		Preview:         preview,
	}

	q.mu.Lock()
	q.items = append(q.items, pc)
	snapshot := append([]PendingChange(nil), q.items...)
	subs := q.listeners()
	q.mu.Unlock()

	logging.Review("queued %s %s (%s)", kind, path, source)
	for _, fn := range subs {
		fn(snapshot)
	}
	return pc
}

// HasPending reports whether any changes are queued.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// Snapshot returns a copy of the queued changes in insertion order.
func (q *Queue) Snapshot() []PendingChange {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingChange(nil), q.items...)
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	subs := q.listeners()
	q.mu.Unlock()

	for _, fn := range subs {
		fn(nil)
	}
}

func (q *Queue) listeners() []func([]PendingChange) {
	out := make([]func([]PendingChange), 0, len(q.subs))
	for _, fn := range q.subs {
		out = append(out, fn)
	}
	return out
}

// Collapse merges the queue to at most one change per path: the first
// entry's OriginalContent combined with the last entry's NewContent, with
// kind and preview recomputed from the merged pair. Entries from unknown
// sources, and merges that net out to no change, are dropped.
func (q *Queue) Collapse() []PendingChange {
	items := q.Snapshot()

	type merged struct {
		first PendingChange
		last  PendingChange
	}
	byPath := make(map[string]*merged)
	var order []string

	for _, pc := range items {
		switch pc.Source {
		case SourceWrite, SourceEdit, SourceBash:
		default:
			continue
		}
		m, ok := byPath[pc.Path]
		if !ok {
			byPath[pc.Path] = &merged{first: pc, last: pc}
			order = append(order, pc.Path)
			continue
		}
		m.last = pc
	}

	var out []PendingChange
	for _, path := range order {
		m := byPath[path]
		original := m.first.OriginalContent
		final := m.last.NewContent
		if original == final {
			continue // Netted out within the turn
		}

		kind := KindEdit
		switch {
		case original == "" && final != "":
			kind = KindWrite
		case original != "" && final == "":
			kind = KindDelete
		}

		out = append(out, PendingChange{
			ID:              m.first.ID,
			Kind:            kind,
			Source:          m.last.Source,
			Path:            path,
			OriginalContent: original,
			NewContent:      final,
			Timestamp:       m.first.Timestamp,
			Preview:         BuildPreview(kind, path, original, final),
		})
	}
	return out
}

// BuildPreview renders the review preview for a change: a titled, truncated
// diff in the display form.
func BuildPreview(kind Kind, path, original, final string) Preview {
	var title string
	switch kind {
	case KindWrite:
		title = fmt.Sprintf("Create (%s)", path)
	case KindDelete:
		title = fmt.Sprintf("Delete (%s)", path)
	default:
		title = fmt.Sprintf("Edit (%s)", path)
	}
	return Preview{
		Title:   title,
		Content: diff.RenderString(diff.Compute(original, final), 200),
	}
}
