package prompts

import "strings"

// Turn is one prior conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context renders history as "User: ..." and "Assistant: ..." lines
// followed by the current prompt. Any role other than "user" renders as
// Assistant.
func Context(history []Turn, prompt string) string {
	var sb strings.Builder
	for _, t := range history {
		if t.Role == "user" {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(t.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString("User: ")
	sb.WriteString(prompt)
	return sb.String()
}

// AppendExchange grows the context with the model output that requested
// a tool and the tool's JSON result.
func AppendExchange(context, modelOutput, resultJSON string) string {
	return context + "\n\nAssistant: " + modelOutput + "\n\nTool Result: " + resultJSON
}

// Render joins the system prompt and context into the final prompt,
// leaving the model to continue after "Assistant:".
func Render(system, context string) string {
	return system + "\n\n" + context + "\n\nAssistant:"
}
