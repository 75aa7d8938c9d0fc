package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turinglab/turinglab/internal/events"
	"github.com/turinglab/turinglab/internal/llm"
	"github.com/turinglab/turinglab/internal/tools"
)

// scriptedLLM returns canned outputs in order and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	outputs []string
	err     error
	prompts []string
	opts    []llm.Options
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, opts llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return "", s.err
	}
	if len(s.prompts) > len(s.outputs) {
		return "", errors.New("script exhausted")
	}
	return s.outputs[len(s.prompts)-1], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(gen llm.Generator, ts ToolSet) *Orchestrator {
	if ts == nil {
		ts = tools.NewRegistry(tools.Calculator{}, tools.NewWebSearch(nil))
	}
	return New(gen, ts, DefaultConfig(), quietLogger())
}

const calcDirective = "TOOL_CALL: calculator\nPARAMETERS: {\"expression\": \"12 * 4\"}"

func TestRun_EndToEndCalculator(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{calcDirective, "The result is 48."}}
	o := newTestOrchestrator(gen, nil)

	res, err := o.Run(context.Background(), "What is 12 * 4?", nil)
	require.NoError(t, err)

	assert.Equal(t, "The result is 48.", res.Response)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, TerminationFinalAnswer, res.Termination)
	require.Len(t, res.ToolsUsed, 1)
	assert.Equal(t, "calculator", res.ToolsUsed[0].Name)
	assert.Equal(t, 48.0, res.ToolsUsed[0].Result.Field("result"))
	assert.NotEmpty(t, res.RunID)

	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepLLMResponse, res.Steps[0].Kind)
	assert.Equal(t, StepToolExecution, res.Steps[1].Kind)
	assert.Equal(t, 1, res.Steps[1].Iteration)
	assert.Equal(t, StepLLMResponse, res.Steps[2].Kind)
	assert.Equal(t, 2, res.Steps[2].Iteration)

	// The second prompt carries the exchange and the JSON tool result.
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[0], "Available tools:\n- calculator:")
	assert.True(t, strings.HasSuffix(gen.prompts[0], "User: What is 12 * 4?\n\nAssistant:"))
	assert.Contains(t, gen.prompts[1], "\n\nAssistant: "+calcDirective+"\n\nTool Result: {\"success\":true,\"result\":48,")
	assert.True(t, strings.HasPrefix(gen.prompts[1], gen.prompts[0][:len(gen.prompts[0])-len("\n\nAssistant:")]))

	assert.Equal(t, llm.Options{Model: "gemma3:1b", Temperature: 0.7, MaxTokens: 1024}, gen.opts[0])
}

func TestRun_FirstIterationFinalAnswer(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{"  Hello there!  "}}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "hi", []Turn{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "reply"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", res.Response)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.ToolsUsed)
	assert.Len(t, res.Steps, 1)
	assert.Contains(t, gen.prompts[0], "User: earlier\nAssistant: reply\nUser: hi")
}

func TestRun_EmptyFinalAnswerFallsBack(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{"PARAMETERS: {}\n   "}}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "I apologize, but I couldn't complete that task.", res.Response)
	assert.Equal(t, TerminationFinalAnswer, res.Termination)
}

func TestRun_IterationLimit(t *testing.T) {
	outputs := make([]string, 10)
	for i := range outputs {
		outputs[i] = calcDirective
	}
	gen := &scriptedLLM{outputs: outputs}
	o := New(gen, tools.NewRegistry(tools.Calculator{}), Config{MaxIterations: 3}, quietLogger())

	res, err := o.Run(context.Background(), "loop forever", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, gen.prompts, 3, "no extra backend call at the limit")
	assert.Equal(t, TerminationIterationLimit, res.Termination)
	assert.Equal(t, "I've completed multiple steps to help you. I used the following tools: calculator, calculator, calculator.", res.Response)
	assert.LessOrEqual(t, len(res.ToolsUsed), res.Iterations)
	for _, u := range res.ToolsUsed {
		found := false
		for _, s := range res.Steps {
			if s.Kind == StepToolExecution && s.Iteration == u.Iteration {
				found = true
			}
		}
		assert.True(t, found, "tool use at iteration %d has no step", u.Iteration)
	}
}

func TestRun_ToolErrorStopsRun(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{
		"TOOL_CALL: calculator\nPARAMETERS: {\"expression\": \"2 + 2; DROP TABLE\"}",
		"should not be reached",
	}}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "hack", nil)
	require.NoError(t, err)

	assert.Len(t, gen.prompts, 1)
	assert.Equal(t, TerminationToolError, res.Termination)
	assert.Equal(t,
		"I tried to use the calculator tool, but encountered an error: Invalid expression. "+
			"Expression contains invalid characters. Only numbers and operators (+, -, *, /, parentheses) are allowed.",
		res.Response)
}

func TestRun_UnknownToolIsToolError(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{"TOOL_CALL: teleport"}}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "beam me up", nil)
	require.NoError(t, err)

	assert.Equal(t, TerminationToolError, res.Termination)
	assert.Contains(t, res.Response, "Unknown tool: teleport")
	assert.Equal(t, "teleport", res.ToolsUsed[0].Name)
}

func TestRun_BackendErrorFailsRun(t *testing.T) {
	gen := &scriptedLLM{err: errors.New("connection refused")}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "hi", nil)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRun_BackendErrorMidRun(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{calcDirective}}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "hi", nil)

	assert.Nil(t, res, "no partial result")
	assert.ErrorContains(t, err, "iteration 2")
}

func TestRunSimple(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{"Sure! TOOL_CALL: calculator\nHere you go."}}
	res, err := newTestOrchestrator(gen, nil).RunSimple(context.Background(), "hi", nil)
	require.NoError(t, err)

	assert.Equal(t, "Sure!\nHere you go.", res.Response)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.ToolsUsed)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "Sure! TOOL_CALL: calculator\nHere you go.", res.Steps[0].Content)
	assert.True(t, strings.HasPrefix(gen.prompts[0],
		"You are a helpful AI assistant. Respond to the user's question naturally and conversationally.\n\nUser: hi"))
	assert.NotContains(t, gen.prompts[0], "Available tools")
}

func TestRun_PublishesEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(32)
	defer bus.Unsubscribe(ch)

	gen := &scriptedLLM{outputs: []string{calcDirective, "48"}}
	o := newTestOrchestrator(gen, nil)
	o.SetEventBus(bus)

	res, err := o.Run(context.Background(), "What is 12 * 4?", nil)
	require.NoError(t, err)

	want := []string{
		events.KindRequestStart,
		events.KindLLMCall, events.KindLLMResponse, events.KindToolCall, events.KindToolDone,
		events.KindLLMCall, events.KindLLMResponse,
		events.KindRequestComplete,
	}
	var got []string
	var directives []any
	timeout := time.After(time.Second)
	for len(got) < len(want) {
		select {
		case e := <-ch:
			got = append(got, e.Kind)
			assert.Equal(t, res.RunID, e.Data["run_id"])
			if e.Kind == events.KindLLMResponse {
				directives = append(directives, e.Data["directive"])
			}
		case <-timeout:
			t.Fatalf("timed out; got %v", got)
		}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []any{true, false}, directives)
}

func TestRun_ToolNameOnNextLine(t *testing.T) {
	gen := &scriptedLLM{outputs: []string{
		"TOOL_CALL:\ncalculator\nPARAMETERS: {\"expression\": \"2+2\"}",
		"It is 4.",
	}}
	res, err := newTestOrchestrator(gen, nil).Run(context.Background(), "2+2?", nil)
	require.NoError(t, err)

	assert.Equal(t, TerminationFinalAnswer, res.Termination)
	assert.Equal(t, "It is 4.", res.Response)
	require.Len(t, res.ToolsUsed, 1)
	assert.Equal(t, "calculator", res.ToolsUsed[0].Name)
	assert.Equal(t, map[string]any{"expression": "2+2"}, res.ToolsUsed[0].Parameters)
}

func TestConfigDefaults(t *testing.T) {
	o := New(&scriptedLLM{}, tools.NewRegistry(), Config{Temperature: 0.2}, nil)
	cfg := o.Config()
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, "gemma3:1b", cfg.Model)
}

func TestOrchestrator_ConcurrentRuns(t *testing.T) {
	o := New(llmFunc(func(prompt string) string {
		if strings.Contains(prompt, "Tool Result:") {
			return "done"
		}
		return calcDirective
	}), tools.NewRegistry(tools.Calculator{}), DefaultConfig(), quietLogger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Run(context.Background(), "What is 12 * 4?", nil)
			assert.NoError(t, err)
			assert.Equal(t, 2, res.Iterations)
		}()
	}
	wg.Wait()
}

type llmFunc func(prompt string) string

func (f llmFunc) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	return f(prompt), nil
}
