// Package tools holds the agent's tool catalog: the registry that
// resolves and dispatches tool calls, and the built-in executors.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
)

// Descriptor describes a tool to the model. Parameters maps each
// parameter name to a human-readable type and purpose.
type Descriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters"`
}

// Executor is a single tool. Execute never panics to the caller on
// purpose and always returns a non-nil Result; the registry still
// recovers panics and substitutes results for nil returns.
type Executor interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, params map[string]any) *Result
}

// Registry holds the tool catalog in registration order. Lookups are
// case-insensitive. A Registry is safe for concurrent use once built.
type Registry struct {
	executors []Executor
	byName    map[string]int
	logger    *slog.Logger
}

// NewRegistry creates a registry holding executors.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{
		byName: make(map[string]int),
		logger: slog.Default(),
	}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// SetLogger sets the logger used for dispatch diagnostics.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Register adds an executor, replacing any existing tool with the same
// name in place.
func (r *Registry) Register(e Executor) {
	key := strings.ToLower(e.Descriptor().Name)
	if i, ok := r.byName[key]; ok {
		r.executors[i] = e
		return
	}
	r.byName[key] = len(r.executors)
	r.executors = append(r.executors, e)
}

// List returns every tool descriptor in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.executors))
	for i, e := range r.executors {
		out[i] = e.Descriptor()
	}
	return out
}

// Names returns every tool name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.executors))
	for i, e := range r.executors {
		out[i] = e.Descriptor().Name
	}
	return out
}

// Resolve finds a tool by case-insensitive name.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	e, err := r.lookup(name)
	if err != nil {
		return Descriptor{}, false
	}
	return e.Descriptor(), true
}

func (r *Registry) lookup(name string) (Executor, error) {
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return r.executors[i], nil
}

// Execute dispatches a call to the named tool. Unknown names, executor
// panics and nil results all become error results, so the caller always
// gets exactly one Result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (res *Result) {
	e, err := r.lookup(name)
	if err != nil {
		r.logger.Warn("tool not found", "tool", name, "error", err)
		return Failure(
			"Unknown tool: "+name,
			fmt.Sprintf("The tool '%s' is not available. Available tools: %s", name, strings.Join(r.Names(), ", ")),
		)
	}

	if params == nil {
		params = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				"tool", name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			msg := fmt.Sprint(p)
			res = Failure(msg, "Tool execution failed: "+msg)
		}
	}()

	res = e.Execute(ctx, params)
	if res == nil {
		res = Failure("no result", "Tool execution failed: no result")
	}
	return res
}
