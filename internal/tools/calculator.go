package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/dop251/goja"
)

// MaxExpressionLength caps calculator input. It also bounds nesting
// depth, which dominates parse time.
const MaxExpressionLength = 1024

// Calculator evaluates arithmetic expressions. Input is restricted to
// digits, + - * / ( ) . and whitespace; anything else is rejected before
// evaluation. Accepted expressions run in a fresh goja runtime.
type Calculator struct{}

type calculatorParams struct {
	Expression string `json:"expression"`
}

func (Calculator) Descriptor() Descriptor {
	return Descriptor{
		Name:        "calculator",
		Description: "Perform mathematical calculations. Supports basic arithmetic and common math operations.",
		Parameters: map[string]string{
			"expression": "string - The mathematical expression to evaluate (e.g., '2 + 2', '10 * 5 + 3')",
		},
	}
}

func (Calculator) Execute(_ context.Context, params map[string]any) *Result {
	var p calculatorParams
	if err := decodeParams(params, &p); err != nil {
		return invalidParams(err)
	}
	expr := p.Expression
	if strings.TrimSpace(expr) == "" {
		return Failure("Missing expression parameter", "Please provide a mathematical expression to calculate.")
	}
	if len(expr) > MaxExpressionLength {
		return Failure("Expression too long",
			fmt.Sprintf("Expression is longer than %d characters. Please simplify it.", MaxExpressionLength))
	}
	if !isArithmetic(expr) {
		return Failure("Invalid expression",
			"Expression contains invalid characters. Only numbers and operators (+, -, *, /, parentheses) are allowed.")
	}

	v, err := goja.New().RunString(expr)
	if err != nil {
		return Failure("Calculation failed", fmt.Sprintf("Could not calculate '%s'. Error: %s", expr, jsErrorMessage(err)))
	}

	var result any
	if f := v.ToFloat(); !math.IsInf(f, 0) && !math.IsNaN(f) {
		result = f
	}
	return Success(fmt.Sprintf("The result of %s is %s", expr, v.String()), map[string]any{
		"result": result,
	})
}

func isArithmetic(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case strings.ContainsRune("+-*/().", r):
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	return true
}

// jsErrorMessage reduces a goja error to its "Name: message" form.
func jsErrorMessage(err error) string {
	if ex, ok := err.(*goja.Exception); ok {
		return ex.Value().String()
	}
	return err.Error()
}
