package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// CodeExecutionTimeout bounds every code_executor run.
const CodeExecutionTimeout = 5 * time.Second

const maxConsoleOutput = 64 << 10

// CodeExecutor runs JavaScript snippets in a fresh goja runtime per call.
// The runtime has no filesystem, network or module loader; console.log
// output is captured. This is still the least constrained tool in the
// catalog: snippets can burn CPU and memory until the timeout fires.
type CodeExecutor struct {
	timeout time.Duration
}

// NewCodeExecutor creates the code_executor tool.
func NewCodeExecutor() *CodeExecutor {
	return &CodeExecutor{timeout: CodeExecutionTimeout}
}

type codeParams struct {
	Code string `json:"code"`
}

type runOutcome struct {
	value goja.Value
	err   error
}

func (c *CodeExecutor) Descriptor() Descriptor {
	return Descriptor{
		Name:        "code_executor",
		Description: "Execute simple code snippets in JavaScript. Use with caution.",
		Parameters: map[string]string{
			"code": "string - JavaScript code to execute",
		},
	}
}

func (c *CodeExecutor) Execute(ctx context.Context, params map[string]any) *Result {
	var p codeParams
	if err := decodeParams(params, &p); err != nil {
		return invalidParams(err)
	}
	if strings.TrimSpace(p.Code) == "" {
		return Failure("Missing code parameter", "Please provide code to execute.")
	}

	vm := goja.New()
	out := &consoleBuffer{}
	console := vm.NewObject()
	_ = console.Set("log", out.log)
	_ = vm.Set("console", console)

	// Buffered so a run that finishes after the timeout can still send
	// and exit.
	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: fmt.Errorf("%v", r)}
			}
		}()
		v, err := vm.RunString("(function() {\n\"use strict\";\n" + p.Code + "\n})()")
		done <- runOutcome{value: v, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			msg := jsErrorMessage(o.err)
			return Failure(msg, "Code execution failed: "+msg)
		}
		result := "undefined"
		if o.value != nil {
			result = o.value.String()
		}
		return Success("Code executed successfully. Result: "+result, map[string]any{
			"result":  result,
			"output":  out.String(),
			"warning": "Code execution is restricted for security. Some operations may not work.",
		})
	case <-timer.C:
		vm.Interrupt("Execution timeout")
		return Failure("Execution timeout", "Code execution failed: Execution timeout")
	case <-ctx.Done():
		vm.Interrupt(ctx.Err().Error())
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return Failure("Execution timeout", "Code execution failed: Execution timeout")
		}
		return Failure(err.Error(), "Code execution failed: "+err.Error())
	}
}

// consoleBuffer collects console.log lines up to maxConsoleOutput bytes.
type consoleBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *consoleBuffer) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	line := strings.Join(parts, " ") + "\n"

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sb.Len()+len(line) <= maxConsoleOutput {
		b.sb.WriteString(line)
	}
	return goja.Undefined()
}

func (b *consoleBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
