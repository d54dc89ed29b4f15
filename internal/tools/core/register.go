// Package core implements the filesystem tools: reading, writing, editing,
// listing, and searching files inside the workspace.
package core

import (
	"mosaic/internal/changes"
	"mosaic/internal/tools"
	"mosaic/internal/workspace"
)

// Deps carries the shared collaborators the core tools operate through.
type Deps struct {
	Guard *workspace.Guard
	Queue *changes.Queue
}

// RegisterAll registers all core filesystem tools with the given registry.
func RegisterAll(registry *tools.Registry, d *Deps) error {
	allTools := []*tools.Tool{
		// File operations
		ReadFileTool(d),
		WriteFileTool(d),
		EditFileTool(d),
		CreateDirectoryTool(d),
		ListFilesTool(d),

		// Search operations
		GlobTool(d),
		GrepTool(d),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
