package agent

import (
	"github.com/turinglab/turinglab/internal/prompts"
	"github.com/turinglab/turinglab/internal/tools"
)

// Turn is one prior conversation message, role "user" or "assistant".
type Turn = prompts.Turn

// Termination records why a run stopped.
type Termination string

const (
	TerminationFinalAnswer    Termination = "final_answer"
	TerminationToolError      Termination = "tool_error"
	TerminationIterationLimit Termination = "iteration_limit"
)

// StepKind tags a Step.
type StepKind string

const (
	StepLLMResponse   StepKind = "llm_response"
	StepToolExecution StepKind = "tool_execution"
)

// Step is one entry in a run's trace. llm_response steps carry Content;
// tool_execution steps carry Tool, Parameters and Result.
type Step struct {
	Iteration  int            `json:"iteration"`
	Kind       StepKind       `json:"type"`
	Content    string         `json:"content,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     *tools.Result  `json:"result,omitempty"`
}

// ToolUse records one dispatched tool call.
type ToolUse struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Result     *tools.Result  `json:"result"`
	Iteration  int            `json:"iteration"`
}

// RunResult is the outcome of a run. It is not modified after Run
// returns.
type RunResult struct {
	RunID       string      `json:"run_id"`
	Response    string      `json:"response"`
	ToolsUsed   []ToolUse   `json:"toolsUsed"`
	Steps       []Step      `json:"steps"`
	Iterations  int         `json:"iterations"`
	Termination Termination `json:"termination"`
	Model       string      `json:"model,omitempty"`
}

// ToolNames lists the tools used, in call order.
func (r *RunResult) ToolNames() []string {
	names := make([]string, len(r.ToolsUsed))
	for i, u := range r.ToolsUsed {
		names[i] = u.Name
	}
	return names
}
