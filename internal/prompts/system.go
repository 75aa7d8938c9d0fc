package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/turinglab/turinglab/internal/tools"
)

const toolSystemTemplate = `You are an AI assistant with access to tools. You can use tools to help answer questions and complete tasks.

Available tools:
%s

To use a tool, respond with the following format:
TOOL_CALL: tool_name
PARAMETERS: {"param1": "value1", "param2": "value2"}

After using a tool, you will receive the result. You can then use another tool or provide a final answer.
When you have enough information to answer the user's question, provide a clear, natural language response WITHOUT the TOOL_CALL format.

Important:
- Only use TOOL_CALL when you actually need to execute a tool
- When answering the user, do NOT use the TOOL_CALL format
- Be conversational and helpful
- If a tool fails, explain the issue to the user`

const simpleSystemPrompt = "You are a helpful AI assistant. Respond to the user's question naturally and conversationally."

// ToolSystemPrompt returns the system prompt that teaches the model the
// directive grammar and lists every tool with its parameter schema.
func ToolSystemPrompt(descriptors []tools.Descriptor) string {
	lines := make([]string, len(descriptors))
	for i, d := range descriptors {
		params, err := json.Marshal(d.Parameters)
		if err != nil || d.Parameters == nil {
			params = []byte("{}")
		}
		lines[i] = fmt.Sprintf("- %s: %s\n  Parameters: %s", d.Name, d.Description, params)
	}
	return fmt.Sprintf(toolSystemTemplate, strings.Join(lines, "\n"))
}

// SimpleSystemPrompt returns the system prompt for runs without tools.
func SimpleSystemPrompt() string {
	return simpleSystemPrompt
}
