// Package shell implements the bash tool: command execution confined to the
// workspace with a non-interactive environment and normalized output.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"mosaic/internal/logging"
	"mosaic/internal/tools"
	"mosaic/internal/workspace"
)

// Deps carries the collaborators and limits the shell tool runs with.
// Timeouts are in milliseconds.
type Deps struct {
	Guard          *workspace.Guard
	DefaultTimeout int
	MaxTimeout     int
}

const maxOutputBytes = 50000

// BashTool returns a tool for executing shell commands in the workspace.
func BashTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "bash",
		Description: "Execute a shell command in the workspace and return its output",
		Mutating:    true,
		Execute:     d.executeBash,
		Schema: tools.Schema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {
					Type:        "string",
					Description: "The command to execute; a trailing --timeout <ms> overrides the default timeout",
				},
			},
		},
	}
}

// Register adds the shell tool to the registry.
func Register(registry *tools.Registry, d *Deps) error {
	return registry.Register(BashTool(d))
}

// timeoutSuffixRe recognizes a trailing --timeout <ms> on the command line.
var timeoutSuffixRe = regexp.MustCompile(`\s+--timeout\s+(\d+)\s*$`)

// SplitTimeout extracts a trailing --timeout <ms> from a command, clamping
// to the configured maximum. The returned command has the suffix removed.
func (d *Deps) SplitTimeout(command string) (string, time.Duration) {
	timeoutMs := d.DefaultTimeout
	if m := timeoutSuffixRe.FindStringSubmatch(command); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			timeoutMs = v
			command = strings.TrimSpace(timeoutSuffixRe.ReplaceAllString(command, ""))
		}
	}
	if timeoutMs > d.MaxTimeout {
		timeoutMs = d.MaxTimeout
	}
	return command, time.Duration(timeoutMs) * time.Millisecond
}

func (d *Deps) executeBash(ctx context.Context, args map[string]any) (*tools.Output, error) {
	raw, err := tools.RequiredString(args, "command")
	if err != nil {
		return nil, err
	}

	command, timeout := d.SplitTimeout(raw)

	logging.ShellDebug("bash: cmd=%s timeout=%s", command, timeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}
	cmd.Dir = d.Guard.Root()
	cmd.Env = append(os.Environ(),
		"TERM=dumb",
		"NO_COLOR=1",
		"PAGER=cat",
		"GIT_PAGER=cat",
		"CI=true",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := normalizeOutput(stdout.String())
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += normalizeOutput(stderr.String())
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n...[truncated]"
	}

	if runErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			logging.Shell("bash timed out: %s", command)
			return &tools.Output{
				Text:     fmt.Sprintf("%s\nCommand timed out after %s", output, timeout),
				SoftFail: true,
			}, nil
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			logging.Shell("bash exited %d: %s", exitErr.ExitCode(), command)
			return &tools.Output{
				Text:     fmt.Sprintf("%s\nExit code: %d", output, exitErr.ExitCode()),
				SoftFail: true,
			}, nil
		}
		return nil, fmt.Errorf("failed to execute command: %w", runErr)
	}

	return &tools.Output{Text: output}, nil
}

// ansiRe matches ANSI escape sequences emitted by color-aware programs.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// normalizeOutput strips ANSI escapes and normalizes line endings.
func normalizeOutput(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}
