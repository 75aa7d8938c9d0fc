// Package agent runs the tool-augmented conversation loop: prompt the
// backend, look for an embedded tool directive, run the tool, feed the
// result back, and stop at a final answer, a tool error or the
// iteration limit.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/turinglab/turinglab/internal/events"
	"github.com/turinglab/turinglab/internal/llm"
	"github.com/turinglab/turinglab/internal/prompts"
	"github.com/turinglab/turinglab/internal/protocol"
	"github.com/turinglab/turinglab/internal/tools"
)

// ToolSet is the tool catalog a run can use. *tools.Registry
// implements it.
type ToolSet interface {
	List() []tools.Descriptor
	Execute(ctx context.Context, name string, params map[string]any) *tools.Result
}

// Orchestrator drives runs. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	gen    llm.Generator
	tools  ToolSet
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
}

// New creates an orchestrator. Zero fields in cfg take DefaultConfig
// values, except Temperature.
func New(gen llm.Generator, toolset ToolSet, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gen:    gen,
		tools:  toolset,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// SetEventBus attaches a bus that receives one event per run step.
func (o *Orchestrator) SetEventBus(b *events.Bus) {
	o.bus = b
}

// Config returns the effective run configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Tools returns the catalog offered to the model.
func (o *Orchestrator) Tools() []tools.Descriptor {
	return o.tools.List()
}

// Run answers prompt given prior history, calling tools as the model
// requests them. A backend failure aborts the run and returns an error
// with no partial result; tool failures end the run with a tool_error
// answer instead.
func (o *Orchestrator) Run(ctx context.Context, prompt string, history []Turn) (*RunResult, error) {
	run := o.begin("tools", prompt, history)
	system := prompts.ToolSystemPrompt(o.tools.List())
	convo := prompts.Context(history, prompt)
	res := &RunResult{RunID: run.id, Model: o.cfg.Model, ToolsUsed: []ToolUse{}}

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		res.Iterations = iter

		out, err := o.generate(ctx, run, iter, prompts.Render(system, convo))
		if err != nil {
			return nil, run.fail(err)
		}
		output, directive := out.text, out.directive
		res.Steps = append(res.Steps, Step{Iteration: iter, Kind: StepLLMResponse, Content: output})

		if !out.hasDirective {
			res.Response = finalAnswer(output)
			res.Termination = TerminationFinalAnswer
			run.complete(res)
			return res, nil
		}

		result := o.dispatch(ctx, run, iter, directive)
		res.Steps = append(res.Steps, Step{
			Iteration:  iter,
			Kind:       StepToolExecution,
			Tool:       directive.Name,
			Parameters: directive.Parameters,
			Result:     result,
		})
		res.ToolsUsed = append(res.ToolsUsed, ToolUse{
			Name:       directive.Name,
			Parameters: directive.Parameters,
			Result:     result,
			Iteration:  iter,
		})
		convo = prompts.AppendExchange(convo, output, result.JSON())

		if result.Error != "" {
			res.Response = prompts.ToolErrorAnswer(directive.Name, result.Error, result.Response)
			res.Termination = TerminationToolError
			run.complete(res)
			return res, nil
		}
	}

	res.Response = prompts.IterationLimitAnswer(res.ToolNames())
	res.Termination = TerminationIterationLimit
	run.complete(res)
	return res, nil
}

// RunSimple answers prompt with a single backend call and no tools.
func (o *Orchestrator) RunSimple(ctx context.Context, prompt string, history []Turn) (*RunResult, error) {
	run := o.begin("simple", prompt, history)

	out, err := o.generate(ctx, run, 1,
		prompts.Render(prompts.SimpleSystemPrompt(), prompts.Context(history, prompt)))
	if err != nil {
		return nil, run.fail(err)
	}
	output := out.text

	res := &RunResult{
		RunID:       run.id,
		Model:       o.cfg.Model,
		Response:    finalAnswer(output),
		ToolsUsed:   []ToolUse{},
		Steps:       []Step{{Iteration: 1, Kind: StepLLMResponse, Content: output}},
		Iterations:  1,
		Termination: TerminationFinalAnswer,
	}
	run.complete(res)
	return res, nil
}

func finalAnswer(output string) string {
	if s := protocol.StripDirectiveSyntax(output); s != "" {
		return s
	}
	return prompts.EmptyResponseFallback
}

// reply is one backend output with its directive parsed once.
type reply struct {
	text         string
	directive    protocol.Directive
	hasDirective bool
}

func (o *Orchestrator) generate(ctx context.Context, run *runState, iter int, prompt string) (reply, error) {
	o.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
		"run_id": run.id,
		"iter":   iter,
		"model":  o.cfg.Model,
	})
	o.logger.Log(ctx, llm.LevelTrace, "rendered prompt", "run_id", run.id, "iter", iter, "prompt", prompt)

	start := time.Now()
	output, err := o.gen.Generate(ctx, prompt, llm.Options{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		o.logger.Error("backend call failed", "run_id", run.id, "iter", iter, "error", err)
		return reply{}, fmt.Errorf("generate (iteration %d): %w", iter, err)
	}

	directive, hasDirective := protocol.ParseDirective(output)
	o.logger.Debug("backend responded",
		"run_id", run.id,
		"iter", iter,
		"response_len", len(output),
		"directive", hasDirective,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	o.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"run_id":       run.id,
		"iter":         iter,
		"response_len": len(output),
		"directive":    hasDirective,
		"elapsed_ms":   time.Since(start).Milliseconds(),
	})
	return reply{text: output, directive: directive, hasDirective: hasDirective}, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, run *runState, iter int, d protocol.Directive) *tools.Result {
	o.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"run_id": run.id,
		"iter":   iter,
		"tool":   d.Name,
	})
	o.logger.Info("tool call", "run_id", run.id, "iter", iter, "tool", d.Name)

	start := time.Now()
	result := o.tools.Execute(ctx, d.Name, d.Parameters)
	if result == nil {
		result = tools.Failure("no result", "Tool execution failed: no result")
	}

	ok := !result.Failed()
	if ok {
		o.logger.Debug("tool succeeded", "run_id", run.id, "tool", d.Name, "elapsed", time.Since(start).Round(time.Millisecond))
	} else {
		o.logger.Warn("tool failed", "run_id", run.id, "tool", d.Name, "error", result.Error)
	}
	o.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"run_id":      run.id,
		"iter":        iter,
		"tool":        d.Name,
		"ok":          ok,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result
}

// runState carries the per-run identifiers used for logging and events.
type runState struct {
	o     *Orchestrator
	id    string
	start time.Time
}

func (o *Orchestrator) begin(mode, prompt string, history []Turn) *runState {
	run := &runState{o: o, id: newRunID(), start: time.Now()}
	o.logger.Info("agent run started",
		"run_id", run.id,
		"mode", mode,
		"model", o.cfg.Model,
		"prompt_len", len(prompt),
		"history_len", len(history),
	)
	o.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"run_id":      run.id,
		"mode":        mode,
		"prompt_len":  len(prompt),
		"history_len": len(history),
	})
	return run
}

func (r *runState) complete(res *RunResult) {
	elapsed := time.Since(r.start)
	r.o.logger.Info("agent run completed",
		"run_id", r.id,
		"iterations", res.Iterations,
		"termination", res.Termination,
		"tools_used", len(res.ToolsUsed),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	r.o.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"run_id":      r.id,
		"iterations":  res.Iterations,
		"termination": string(res.Termination),
		"tools_used":  res.ToolNames(),
		"elapsed_ms":  elapsed.Milliseconds(),
	})
}

func (r *runState) fail(err error) error {
	r.o.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"run_id":     r.id,
		"error":      err.Error(),
		"elapsed_ms": time.Since(r.start).Milliseconds(),
	})
	return err
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
