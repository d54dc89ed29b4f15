package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mosaic/internal/logging"
	"mosaic/internal/snapshot"
	"mosaic/internal/tools"
)

// ListFilesTool returns a tool for listing directory contents.
func ListFilesTool(d *Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "list",
		Description: "List the contents of a directory",
		PathArgs:    []string{"path"},
		Execute:     d.executeList,
		Schema: tools.Schema{
			Required: []string{},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The directory to list",
					Default:     ".",
				},
				"recursive": {
					Type:        "boolean",
					Description: "Descend into subdirectories",
					Default:     false,
				},
				"filter": {
					Type:        "string",
					Description: "Only include entries whose name contains this substring",
				},
				"include_hidden": {
					Type:        "boolean",
					Description: "Include dotfiles and dot-directories",
					Default:     false,
				},
			},
		},
	}
}

func (d *Deps) executeList(ctx context.Context, args map[string]any) (*tools.Output, error) {
	path := tools.StringArg(args, "path", ".")
	recursive := tools.BoolArg(args, "recursive", false)
	filter := tools.StringArg(args, "filter", "")
	includeHidden := tools.BoolArg(args, "include_hidden", false)

	abs, err := d.Guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	var lines []string
	add := func(rel string, entry fs.DirEntry, excluded bool) {
		name := entry.Name()
		if filter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(filter)) {
			return
		}
		switch {
		case excluded:
			lines = append(lines, rel+"/ (excluded)")
		case entry.IsDir():
			lines = append(lines, rel+"/")
		default:
			lines = append(lines, rel)
		}
	}

	if recursive {
		err = filepath.WalkDir(abs, func(p string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if p == abs {
				return nil
			}
			rel, relErr := filepath.Rel(abs, p)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			name := entry.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				if entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if entry.IsDir() && snapshot.ExcludedDir(name) {
				add(rel, entry, true)
				return filepath.SkipDir
			}
			add(rel, entry, false)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		entries, readErr := os.ReadDir(abs)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read directory: %w", readErr)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			add(name, entry, false)
		}
	}

	logging.ToolsDebug("list: path=%s recursive=%v entries=%d", d.Guard.Rel(abs), recursive, len(lines))

	if len(lines) == 0 {
		return &tools.Output{Text: "(empty directory)"}, nil
	}
	return &tools.Output{Text: strings.Join(lines, "\n")}, nil
}
