package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/turinglab/turinglab/internal/httpkit"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient is a client for the Ollama generate API.
type OllamaClient struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewOllamaClient creates a new Ollama client. timeout bounds
// non-streaming requests; streaming requests rely on ctx.
func NewOllamaClient(baseURL string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "ollama")
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		streamClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateChunk is one NDJSON line of a streamed response, and also the
// shape of a non-streamed one.
type generateChunk struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Generate sends a non-streaming generate request and returns the
// completion text.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	resp, err := c.post(ctx, c.httpClient, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	text := decodeGenerateResponse(raw)
	c.logger.Debug("generate complete",
		"model", opts.Model,
		"prompt_len", len(prompt),
		"response_len", len(text),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", text)
	return text, nil
}

// GenerateStream sends a streaming generate request. Each token is passed
// to callback as it arrives; the full text is returned when the backend
// reports done or closes the stream.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt string, opts Options, callback StreamCallback) (string, error) {
	resp, err := c.post(ctx, c.streamClient, prompt, opts, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk generateChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return sb.String(), fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return sb.String(), fmt.Errorf("stream error: %s", chunk.Error)
		}
		if chunk.Response != "" {
			sb.WriteString(chunk.Response)
			if callback != nil {
				callback(chunk.Response)
			}
		}
		if chunk.Done {
			c.logger.Debug("stream complete",
				"model", chunk.Model,
				"done_reason", chunk.DoneReason,
				"eval_count", chunk.EvalCount,
			)
			break
		}
	}
	return sb.String(), nil
}

func (c *OllamaClient) post(ctx context.Context, client *http.Client, prompt string, opts Options, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{
		Model:  opts.Model,
		Prompt: prompt,
		Stream: stream,
		Options: generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("ollama generate failed: %d %s %s", resp.StatusCode, http.StatusText(resp.StatusCode), msg)
	}
	return resp, nil
}

// decodeGenerateResponse extracts the completion text from a generate
// response body. Besides the native {"response": ...} object it accepts
// an output array of {text|content} parts, a top-level text, answer or
// content field, and finally the raw body itself.
func decodeGenerateResponse(raw []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}

	if s, ok := stringField(obj, "response"); ok {
		return s
	}

	if out, ok := obj["output"]; ok {
		var parts []struct {
			Text    *string `json:"text"`
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(out, &parts); err == nil {
			var sb strings.Builder
			for _, p := range parts {
				switch {
				case p.Text != nil:
					sb.WriteString(*p.Text)
				case p.Content != nil:
					sb.WriteString(*p.Content)
				}
			}
			return sb.String()
		}
	}

	for _, key := range []string{"text", "answer", "content"} {
		if s, ok := stringField(obj, key); ok && s != "" {
			return s
		}
	}
	return string(raw)
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// ListModels returns the names of locally available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

func (c *OllamaClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 1024)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}
