// Package llm talks to the local text-generation backend.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace mirrors config.LevelTrace for wire-level payload logging
// without importing the config package.
const LevelTrace = slog.Level(-8)

// Options are per-call generation parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator turns a fully rendered prompt into completion text.
// Transport failures and non-2xx statuses are returned as errors.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// StreamCallback receives each token of a streamed completion.
type StreamCallback func(token string)
