package agent

import "github.com/turinglab/turinglab/internal/config"

// Config tunes a run.
type Config struct {
	Model         string
	MaxIterations int
	Temperature   float64
	MaxTokens     int
}

// DefaultConfig returns five iterations at temperature 0.7 with up to
// 1024 generated tokens per call.
func DefaultConfig() Config {
	return Config{
		Model:         "gemma3:1b",
		MaxIterations: 5,
		Temperature:   0.7,
		MaxTokens:     1024,
	}
}

// ConfigFrom builds a run config from the loaded configuration file.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Model:         c.Ollama.Model,
		MaxIterations: c.Agent.MaxIterations,
		Temperature:   c.Agent.Temperature,
		MaxTokens:     c.Agent.MaxTokens,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}
