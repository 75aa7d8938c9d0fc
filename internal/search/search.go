// Package search provides the web search backends behind the web_search
// tool. A [Manager] routes queries to one configured [Provider]; with no
// provider configured the tool answers with its "not configured" stub.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/turinglab/turinglab/internal/config"
)

// DefaultCount is the number of results returned when none is requested.
const DefaultCount = 5

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional query parameters.
type Options struct {
	// Count is the maximum number of results. Zero means DefaultCount.
	Count int `json:"count,omitempty"`
	// Language is an ISO 639-1 code.
	Language string `json:"language,omitempty"`
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds registered providers and routes queries to the primary.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a manager whose primary provider is named primary.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// FromConfig builds a manager from the search section of the config.
// An empty provider yields an unconfigured manager.
func FromConfig(cfg config.SearchConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := NewManager(cfg.Provider)
	switch cfg.Provider {
	case "searxng":
		mgr.Register(NewSearXNG(cfg.SearXNGURL))
	case "brave":
		mgr.Register(NewBrave(cfg.BraveAPIKey))
	default:
		return mgr
	}
	logger.Info("web search enabled", "provider", cfg.Provider)
	return mgr
}

// Register adds a provider.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if m == nil {
		return nil, fmt.Errorf("search provider not configured")
	}
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	return p.Search(ctx, query, opts)
}

// Primary returns the name of the primary provider.
func (m *Manager) Primary() string {
	if m == nil {
		return ""
	}
	return m.primary
}

// Configured reports whether the primary provider is registered. Nil-safe.
func (m *Manager) Configured() bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[m.primary]
	return ok
}

// FormatResults renders results as a numbered list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(r.Title)
		sb.WriteString("\n   ")
		sb.WriteString(r.URL)
		if r.Snippet != "" {
			sb.WriteString("\n   ")
			sb.WriteString(r.Snippet)
		}
	}
	return sb.String()
}

func limit(opts Options) int {
	if opts.Count <= 0 {
		return DefaultCount
	}
	return opts.Count
}
