// Package dispatcher routes tool invocations through the safety gates:
// read-only mode, path confinement, command classification, interactive
// approval, and snapshot-based change tracking for opaque commands.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"

	"mosaic/internal/approval"
	"mosaic/internal/changes"
	"mosaic/internal/config"
	"mosaic/internal/diff"
	"mosaic/internal/logging"
	"mosaic/internal/safety"
	"mosaic/internal/snapshot"
	"mosaic/internal/tools"
	"mosaic/internal/tools/shell"
	"mosaic/internal/workspace"
)

// Invocation is one tool call request.
type Invocation struct {
	Name         string         `json:"name"`
	Args         map[string]any `json:"args"`
	SkipApproval bool           `json:"skipApproval,omitempty"`
}

// Result is the outcome of one invocation. Success false with Error is a
// hard failure; Success false with Result set is a soft failure carrying
// program output.
type Result struct {
	Success     bool     `json:"success"`
	Result      string   `json:"result,omitempty"`
	Error       string   `json:"error,omitempty"`
	UserMessage string   `json:"userMessage,omitempty"`
	Diff        []string `json:"diff,omitempty"`
}

// Stats accumulates change accounting across a session.
type Stats struct {
	FilesModified int
	LinesAdded    int
	LinesRemoved  int
}

// Dispatcher sequences tool execution. Tools never run concurrently.
type Dispatcher struct {
	registry   *tools.Registry
	guard      *workspace.Guard
	cfg        *config.Config
	classifier *safety.Classifier
	bridge     *approval.Bridge
	queue      *changes.Queue
	shell      *shell.Deps

	mu    sync.Mutex
	stats Stats
	seen  map[string]bool // paths counted toward FilesModified
}

// New wires a dispatcher from its collaborators.
func New(registry *tools.Registry, guard *workspace.Guard, cfg *config.Config,
	classifier *safety.Classifier, bridge *approval.Bridge, queue *changes.Queue,
	sh *shell.Deps) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		guard:      guard,
		cfg:        cfg,
		classifier: classifier,
		bridge:     bridge,
		queue:      queue,
		shell:      sh,
		seen:       make(map[string]bool),
	}
}

// Stats returns the accumulated change accounting.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Dispatch runs one tool invocation through the full gate sequence.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	tool, err := d.registry.Get(inv.Name)
	if err != nil {
		return fail(err)
	}

	if d.cfg.ReadOnly && tool.Mutating {
		logging.Tools("blocked %s: read-only mode", inv.Name)
		return Result{Success: false, Error: tools.ErrReadOnly.Error()}
	}

	for _, arg := range tool.PathArgs {
		p, ok := inv.Args[arg].(string)
		if !ok || p == "" {
			continue
		}
		if _, err := d.guard.Resolve(p); err != nil {
			logging.WorkspaceWarn("rejected path %q for %s: %v", p, inv.Name, err)
			return fail(err)
		}
	}

	var before *snapshot.Snapshot
	if inv.Name == "bash" {
		res, snap := d.gateBash(ctx, inv)
		if res != nil {
			return *res
		}
		before = snap
	}

	out, err := tool.Execute(ctx, inv.Args)

	if before != nil {
		d.recordSnapshotDeltas(before)
	}

	if err != nil {
		logging.Tools("%s failed: %v", inv.Name, err)
		return fail(err)
	}

	if len(out.Diff) > 0 {
		if p, ok := inv.Args["path"].(string); ok {
			if abs, resolveErr := d.guard.Resolve(p); resolveErr == nil {
				added, removed := countDiff(out.Diff)
				d.statsAdd(d.guard.Rel(abs), added, removed)
			}
		}
	}

	return Result{
		Success: !out.SoftFail,
		Result:  out.Text,
		Diff:    out.Diff,
	}
}

// gateBash classifies the command and runs the approval flow. A non-nil
// Result short-circuits execution; a non-nil Snapshot means the command is
// opaque and its effects must be diffed afterwards.
func (d *Dispatcher) gateBash(ctx context.Context, inv Invocation) (*Result, *snapshot.Snapshot) {
	raw, _ := inv.Args["command"].(string)
	command, _ := d.shell.SplitTimeout(raw)

	verdict := d.classifier.Classify(command)
	logging.SafetyDebug("classified %q: %s", command, verdict)

	if verdict == safety.Disallowed {
		return &Result{Success: false, Error: tools.ErrDisallowed.Error()}, nil
	}

	if !verdict.NeedsNoApproval() && d.cfg.Approvals && !inv.SkipApproval {
		resp, err := d.bridge.RequestApproval(ctx, &approval.Request{
			ID:       uuid.NewString(),
			ToolName: inv.Name,
			Args:     inv.Args,
			Preview: approval.Preview{
				Title:   fmt.Sprintf("Command (%s)", sanitizeCommand(command)),
				Content: command,
			},
		})
		if err != nil {
			r := fail(err)
			return &r, nil
		}
		if !resp.Approved {
			logging.Approval("command rejected: %s", command)
			r := rejection(resp.CustomResponse)
			return &r, nil
		}
		logging.Approval("command approved: %s", command)
	}

	if !verdict.NeedsNoApproval() && d.cfg.Approvals {
		snap, err := snapshot.Capture(d.guard.Root())
		if err != nil {
			logging.SnapshotDebug("capture failed, changes will not be tracked: %v", err)
			return nil, nil
		}
		return nil, snap
	}
	return nil, nil
}

// recordSnapshotDeltas compares the workspace against the pre-command
// snapshot and enqueues a pending change per differing file.
func (d *Dispatcher) recordSnapshotDeltas(before *snapshot.Snapshot) {
	after, err := snapshot.Capture(d.guard.Root())
	if err != nil {
		logging.SnapshotDebug("post-command capture failed: %v", err)
		return
	}
	for _, delta := range snapshot.Diff(before, after) {
		kind := changes.KindEdit
		switch {
		case delta.OldContent == "":
			kind = changes.KindWrite
		case delta.NewContent == "":
			kind = changes.KindDelete
		}
		d.queue.Enqueue(changes.SourceBash, kind, delta.Path,
			delta.OldContent, delta.NewContent,
			changes.BuildPreview(kind, delta.Path, delta.OldContent, delta.NewContent))
		lines := diff.Compute(delta.OldContent, delta.NewContent)
		added, removed := diff.Stats(lines)
		d.statsAdd(delta.Path, added, removed)
		logging.SnapshotDebug("delta: %s %s +%d -%d", kind, delta.Path, added, removed)
	}
}

func countDiff(diffLines []string) (added, removed int) {
	for _, line := range diffLines {
		parsed, ok := diff.ParseLine(line)
		if !ok {
			continue
		}
		if parsed.IsAdded {
			added++
		} else if parsed.IsRemoved {
			removed++
		}
	}
	return added, removed
}

func (d *Dispatcher) statsAdd(path string, added, removed int) {
	if !d.seen[path] {
		d.seen[path] = true
		d.stats.FilesModified++
	}
	d.stats.LinesAdded += added
	d.stats.LinesRemoved += removed
}

// sanitizeCommand renders a command for display with shell quoting applied,
// truncated to keep preview titles short.
func sanitizeCommand(command string) string {
	display := command
	if tokens, err := shellwords.NewParser().Parse(command); err == nil && len(tokens) > 0 {
		display = shellescape.QuoteCommand(tokens)
	}
	if len(display) > 80 {
		display = display[:77] + "..."
	}
	return display
}

// rejection builds the result for a declined approval.
func rejection(customResponse string) Result {
	if customResponse != "" {
		return Result{
			Success:     false,
			Error:       fmt.Sprintf("%s: the user declined and provided instructions: %s", tools.ErrRejected, customResponse),
			UserMessage: "Operation cancelled",
		}
	}
	return Result{
		Success:     false,
		Error:       fmt.Sprintf("%s: ask the user a clarifying question before retrying", tools.ErrRejected),
		UserMessage: "Operation cancelled",
	}
}

// tokenErrs are surfaced by their bare token text.
var tokenErrs = []error{
	workspace.ErrAccessDenied,
	tools.ErrReadOnly,
	tools.ErrDisallowed,
	tools.ErrOutOfBounds,
	tools.ErrOccurrenceNotFound,
	tools.ErrInvalidPattern,
	tools.ErrRejected,
	approval.ErrInterrupted,
	approval.ErrTimedOut,
}

// fail maps an error to its result form. Taxonomy sentinels surface as bare
// tokens; fetch failures keep their descriptive message; everything else is
// reported as unexpected.
func fail(err error) Result {
	for _, sentinel := range tokenErrs {
		if errors.Is(err, sentinel) {
			return Result{Success: false, Error: sentinel.Error()}
		}
	}
	// Context failures escaping a tool (a fetch deadline, a caller cancel)
	// carry the same tokens as the approval sentinels.
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Success: false, Error: approval.ErrTimedOut.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return Result{Success: false, Error: approval.ErrInterrupted.Error()}
	}
	if errors.Is(err, tools.ErrInvalidURL) || errors.Is(err, tools.ErrHTTP) {
		msg := err.Error()
		if i := strings.Index(msg, ": "); i >= 0 {
			msg = msg[i+2:]
		}
		return Result{Success: false, Error: msg}
	}
	return Result{Success: false, Error: fmt.Sprintf("unexpected: %s", err.Error())}
}
