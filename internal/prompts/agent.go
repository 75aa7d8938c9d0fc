package prompts

import "strings"

// EmptyResponseFallback is returned when the model's final answer is
// empty once directive syntax is stripped.
const EmptyResponseFallback = "I apologize, but I couldn't complete that task."

// ToolErrorAnswer is the final answer when a tool call fails.
func ToolErrorAnswer(tool, errMsg, response string) string {
	return "I tried to use the " + tool + " tool, but encountered an error: " + errMsg + ". " + response
}

// IterationLimitAnswer is the final answer when the iteration budget
// runs out. It is built locally without another backend call.
func IterationLimitAnswer(toolNames []string) string {
	s := "I've completed multiple steps to help you. "
	if len(toolNames) > 0 {
		s += "I used the following tools: " + strings.Join(toolNames, ", ") + "."
	}
	return s
}
