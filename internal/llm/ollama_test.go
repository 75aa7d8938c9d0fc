package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOllamaClient(srv.URL, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerate_SendsRequest(t *testing.T) {
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"model":"gemma3:1b","response":"The result is 48.","done":true}`)
	})

	text, err := c.Generate(t.Context(), "User: hi\n\nAssistant:", Options{
		Model:       "gemma3:1b",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "The result is 48." {
		t.Errorf("text = %q", text)
	}
	if got.Model != "gemma3:1b" || got.Stream {
		t.Errorf("request model=%q stream=%v", got.Model, got.Stream)
	}
	if got.Options.Temperature != 0.7 || got.Options.NumPredict != 1024 {
		t.Errorf("request options = %+v", got.Options)
	}
	if !strings.HasSuffix(got.Prompt, "Assistant:") {
		t.Errorf("prompt = %q", got.Prompt)
	}
}

func TestGenerate_Non2xxIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	_, err := c.Generate(t.Context(), "hi", Options{Model: "missing"})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %v", err)
	}
}

func TestGenerate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOllamaClient(url, time.Second, nil)
	if _, err := c.Generate(t.Context(), "hi", Options{}); err == nil {
		t.Fatal("expected error against closed server")
	}
}

func TestDecodeGenerateResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"native", `{"response":"hello","done":true}`, "hello"},
		{"empty native", `{"response":"","done":true}`, ""},
		{"output parts", `{"output":[{"type":"output_text","text":"a"},{"content":"b"},{}]}`, "ab"},
		{"text field", `{"text":"t"}`, "t"},
		{"answer field", `{"answer":"a"}`, "a"},
		{"content field", `{"content":"c"}`, "c"},
		{"plain text", "just words", "just words"},
		{"unknown object", `{"foo":1}`, `{"foo":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeGenerateResponse([]byte(tt.raw)); got != tt.want {
				t.Errorf("decodeGenerateResponse(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}
		fmt.Fprintln(w, `{"response":"The ","done":false}`)
		fmt.Fprintln(w, `{"response":"answer","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true,"done_reason":"stop","eval_count":2}`)
	})

	var tokens []string
	text, err := c.GenerateStream(t.Context(), "hi", Options{Model: "m"}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if text != "The answer" {
		t.Errorf("text = %q", text)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestGenerateStream_ErrorChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	})

	text, err := c.GenerateStream(t.Context(), "hi", Options{}, nil)
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("err = %v", err)
	}
	if text != "partial" {
		t.Errorf("partial text = %q", text)
	}
}

func TestListModelsAndPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"gemma3:1b"},{"name":"llama3.2:3b"}]}`)
	})

	if err := c.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	models, err := c.ListModels(t.Context())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "gemma3:1b" {
		t.Errorf("models = %v", models)
	}
}

func TestNewOllamaClient_DefaultURL(t *testing.T) {
	c := NewOllamaClient("", 0, nil)
	if c.baseURL != DefaultOllamaURL {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	c = NewOllamaClient("http://ollama:11434/", 0, nil)
	if c.baseURL != "http://ollama:11434" {
		t.Errorf("trailing slash not trimmed: %q", c.baseURL)
	}
}
