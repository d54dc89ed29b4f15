package changes

import (
	"os"
	"path/filepath"
	"sync"

	"mosaic/internal/logging"
	"mosaic/internal/workspace"
)

// Mode is the review coordinator's state.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeReviewing Mode = "reviewing"
)

// Coordinator drives the interactive accept/revert loop over the collapsed
// change queue. Exactly one review may be active; an overlapping
// StartReview returns an empty result without side effects.
type Coordinator struct {
	queue *Queue
	guard *workspace.Guard

	mu      sync.Mutex
	mode    Mode
	items   []PendingChange
	cursor  int
	results []bool
	done    chan []bool

	modeSubs map[int]func(Mode)
	nextSub  int
}

// NewCoordinator creates an idle coordinator over the given queue.
func NewCoordinator(queue *Queue, guard *workspace.Guard) *Coordinator {
	return &Coordinator{
		queue:    queue,
		guard:    guard,
		mode:     ModeIdle,
		modeSubs: make(map[int]func(Mode)),
	}
}

// SubscribeMode registers a listener for review mode transitions.
func (c *Coordinator) SubscribeMode(fn func(Mode)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.modeSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.modeSubs, id)
	}
}

// Mode returns the current review mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Current returns the change under the cursor during a review, or nil.
func (c *Coordinator) Current() *PendingChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeReviewing || c.cursor >= len(c.items) {
		return nil
	}
	pc := c.items[c.cursor]
	return &pc
}

// StartReview collapses the queue and blocks until every change has been
// accepted or rejected (or the review is cancelled). On completion every
// rejected change is reverted, the queue is cleared, and the per-change
// results are returned in queue order.
func (c *Coordinator) StartReview() []bool {
	c.mu.Lock()
	if c.mode == ModeReviewing {
		c.mu.Unlock()
		return nil
	}
	items := c.queue.Collapse()
	if len(items) == 0 {
		c.mu.Unlock()
		c.queue.Clear()
		return nil
	}

	c.mode = ModeReviewing
	c.items = items
	c.cursor = 0
	c.results = make([]bool, 0, len(items))
	c.done = make(chan []bool, 1)
	done := c.done
	subs := c.modeListeners()
	c.mu.Unlock()

	logging.Review("review started: %d changes", len(items))
	for _, fn := range subs {
		fn(ModeReviewing)
	}

	return <-done
}

// Respond records the decision for the change under the cursor and advances.
// The final response finishes the review.
func (c *Coordinator) Respond(approved bool) error {
	c.mu.Lock()
	if c.mode != ModeReviewing {
		c.mu.Unlock()
		return ErrNoReview
	}
	c.results = append(c.results, approved)
	c.cursor++
	finished := c.cursor >= len(c.items)
	c.mu.Unlock()

	if finished {
		c.finish()
	}
	return nil
}

// AcceptAll approves every remaining change and finishes the review.
func (c *Coordinator) AcceptAll() error {
	c.mu.Lock()
	if c.mode != ModeReviewing {
		c.mu.Unlock()
		return ErrNoReview
	}
	for len(c.results) < len(c.items) {
		c.results = append(c.results, true)
	}
	c.mu.Unlock()

	c.finish()
	return nil
}

// Cancel rejects every remaining change and finishes the review; all
// still-pending changes are reverted.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	if c.mode != ModeReviewing {
		c.mu.Unlock()
		return ErrNoReview
	}
	for len(c.results) < len(c.items) {
		c.results = append(c.results, false)
	}
	c.mu.Unlock()

	c.finish()
	return nil
}

// finish reverts rejected changes in queue order, clears the queue, and
// hands the results back to the StartReview caller. The queue is cleared on
// every path, even if a revert fails.
func (c *Coordinator) finish() {
	c.mu.Lock()
	items := c.items
	results := append([]bool(nil), c.results...)
	done := c.done
	c.mode = ModeIdle
	c.items = nil
	c.cursor = 0
	c.results = nil
	c.done = nil
	subs := c.modeListeners()
	c.mu.Unlock()

	defer func() {
		c.queue.Clear()
		for _, fn := range subs {
			fn(ModeIdle)
		}
		done <- results
	}()

	for i, pc := range items {
		if i < len(results) && results[i] {
			continue
		}
		if err := c.revert(pc); err != nil {
			logging.ReviewError("revert %s failed: %v", pc.Path, err)
		} else {
			logging.Review("reverted %s", pc.Path)
		}
	}
}

// revert restores a file to its original content. A creation is reverted by
// deletion, tolerating "already absent"; everything else writes the original
// back, creating parent directories if needed.
func (c *Coordinator) revert(pc PendingChange) error {
	abs, err := c.guard.Resolve(pc.Path)
	if err != nil {
		return err
	}

	if pc.OriginalContent == "" {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(pc.OriginalContent), 0644)
}

func (c *Coordinator) modeListeners() []func(Mode) {
	out := make([]func(Mode), 0, len(c.modeSubs))
	for _, fn := range c.modeSubs {
		out = append(out, fn)
	}
	return out
}
