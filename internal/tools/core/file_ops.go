package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mosaic/internal/changes"
	"mosaic/internal/diff"
	"mosaic/internal/logging"
	"mosaic/internal/tools"
)

// ReadFileTool returns a tool for reading file contents.
func ReadFileTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "read",
		Description: "Read the contents of a file, optionally restricted to a line range",
		PathArgs:    []string{"path"},
		Execute:     d.executeRead,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to read",
				},
				"start_line": {
					Type:        "integer",
					Description: "Starting line number (1-indexed, optional)",
				},
				"end_line": {
					Type:        "integer",
					Description: "Ending line number (inclusive, optional)",
				},
			},
		},
	}
}

func (d *Deps) executeRead(ctx context.Context, args map[string]any) (*tools.Output, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return nil, err
	}

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	logging.ToolsDebug("read: path=%s", d.Guard.Rel(abs))

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	result := string(content)

	startLine := tools.IntArg(args, "start_line", 0)
	endLine := tools.IntArg(args, "end_line", 0)

	if startLine > 0 || endLine > 0 {
		lines := strings.Split(result, "\n")
		if startLine == 0 {
			startLine = 1
		}
		if endLine == 0 {
			endLine = len(lines)
		}
		if startLine > len(lines) || startLine > endLine || endLine < 1 {
			return nil, fmt.Errorf("%w: lines %d-%d of %d", tools.ErrOutOfBounds, startLine, endLine, len(lines))
		}
		if endLine > len(lines) {
			endLine = len(lines)
		}
		result = strings.Join(lines[startLine-1:endLine], "\n")
	}

	return &tools.Output{Text: result}, nil
}

// WriteFileTool returns a tool for creating or overwriting files.
func WriteFileTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "write",
		Description: "Write content to a file, creating it and any parent directories as needed",
		Mutating:    true,
		PathArgs:    []string{"path"},
		Execute:     d.executeWrite,
		Schema: tools.Schema{
			Required: []string{"path", "content"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to write",
				},
				"content": {
					Type:        "string",
					Description: "The content to write",
				},
				"append": {
					Type:        "boolean",
					Description: "Append to the file instead of replacing it",
					Default:     false,
				},
			},
		},
	}
}

func (d *Deps) executeWrite(ctx context.Context, args map[string]any) (*tools.Output, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("missing required parameter: content")
	}
	appendMode := tools.BoolArg(args, "append", false)

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	original := ""
	if data, err := os.ReadFile(abs); err == nil {
		original = string(data)
	}

	var final string
	if appendMode {
		final = original + content
	} else {
		final = trimTrailingWhitespace(content)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(final), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	rel := d.Guard.Rel(abs)
	kind := changes.KindWrite
	if original != "" {
		kind = changes.KindEdit
	}
	d.Queue.Enqueue(changes.SourceWrite, kind, rel, original, final,
		changes.BuildPreview(kind, rel, original, final))

	lines := diff.Compute(original, final)
	added, removed := diff.Stats(lines)
	logging.Tools("write: path=%s +%d -%d", rel, added, removed)

	return &tools.Output{
		Text: fmt.Sprintf("Wrote %d bytes to %s", len(final), rel),
		Diff: diff.Render(lines, 200),
	}, nil
}

// EditFileTool returns a tool for targeted string replacement within a file.
func EditFileTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "edit",
		Description: "Replace an occurrence of a string in a file",
		Mutating:    true,
		PathArgs:    []string{"path"},
		Execute:     d.executeEdit,
		Schema: tools.Schema{
			Required: []string{"path", "old_content", "new_content"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to edit",
				},
				"old_content": {
					Type:        "string",
					Description: "The exact text to replace",
				},
				"new_content": {
					Type:        "string",
					Description: "The replacement text",
				},
				"occurrence": {
					Type:        "integer",
					Description: "Which occurrence to replace (1-indexed)",
					Default:     1,
				},
			},
		},
	}
}

func (d *Deps) executeEdit(ctx context.Context, args map[string]any) (*tools.Output, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return nil, err
	}
	oldContent, _ := args["old_content"].(string)
	newContent, _ := args["new_content"].(string)
	occurrence := tools.IntArg(args, "occurrence", 1)
	if occurrence < 1 {
		return nil, fmt.Errorf("occurrence must be >= 1, got %d", occurrence)
	}

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	rel := d.Guard.Rel(abs)

	original := ""
	if data, err := os.ReadFile(abs); err == nil {
		original = string(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var final string
	if oldContent == "" {
		// Empty target only makes sense for an empty or absent file.
		if original != "" {
			return nil, fmt.Errorf("old_content is required for a non-empty file")
		}
		final = newContent
	} else {
		parts := strings.Split(original, oldContent)
		count := len(parts) - 1
		if occurrence > count {
			return nil, fmt.Errorf("%w: occurrence %d of %q (found %d)", tools.ErrOccurrenceNotFound, occurrence, oldContent, count)
		}
		final = strings.Join(parts[:occurrence], oldContent) + newContent + strings.Join(parts[occurrence:], oldContent)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(final), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	kind := changes.KindEdit
	if original == "" {
		kind = changes.KindWrite
	}
	d.Queue.Enqueue(changes.SourceEdit, kind, rel, original, final,
		changes.BuildPreview(kind, rel, original, final))

	lines := diff.Compute(original, final)
	added, removed := diff.Stats(lines)
	logging.Tools("edit: path=%s occurrence=%d +%d -%d", rel, occurrence, added, removed)

	return &tools.Output{
		Text: fmt.Sprintf("Edited %s", rel),
		Diff: diff.Render(lines, 200),
	}, nil
}

// codeFileExtensions guards create_directory against path arguments that
// look like source files rather than directories. Code extensions only:
// doc-style names like "notes.md" or "v2.json" are legal directory names.
var codeFileExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".hpp": true, ".cs": true, ".rb": true, ".rs": true, ".php": true,
	".swift": true, ".kt": true, ".scala": true, ".sh": true, ".pl": true,
	".lua": true, ".sql": true,
}

// CreateDirectoryTool returns a tool for creating directories.
func CreateDirectoryTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "create_directory",
		Description: "Create a directory, including any missing parents",
		Mutating:    true,
		PathArgs:    []string{"path"},
		Execute:     d.executeCreateDirectory,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The directory path to create",
				},
			},
		},
	}
}

func (d *Deps) executeCreateDirectory(ctx context.Context, args map[string]any) (*tools.Output, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return nil, err
	}

	if ext := strings.ToLower(filepath.Ext(path)); codeFileExtensions[ext] {
		return nil, fmt.Errorf("path %q looks like a file, not a directory", path)
	}

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	rel := d.Guard.Rel(abs)
	logging.Tools("create_directory: path=%s", rel)
	return &tools.Output{Text: fmt.Sprintf("Created directory %s", rel)}, nil
}

// trimTrailingWhitespace removes trailing spaces and tabs from every line.
func trimTrailingWhitespace(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
