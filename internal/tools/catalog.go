package tools

import (
	"fmt"
	"log/slog"

	"github.com/turinglab/turinglab/internal/config"
	"github.com/turinglab/turinglab/internal/search"
)

// NewDefaultRegistry builds the five built-in tools in their canonical
// order. mgr may be nil, which leaves web_search in stub mode.
func NewDefaultRegistry(cfg config.ToolsConfig, mgr *search.Manager, logger *slog.Logger) (*Registry, error) {
	files, err := NewFileOps(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("file_operations: %w", err)
	}
	r := NewRegistry(
		Calculator{},
		NewWebSearch(mgr),
		NewClock(nil),
		files,
		NewCodeExecutor(),
	)
	r.SetLogger(logger)
	return r, nil
}
