package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const agentRequestSchema = `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string"},
		"conversationHistory": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"role": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["role", "content"]
			}
		},
		"conversation_id": {"type": "string", "maxLength": 128},
		"simple": {"type": "boolean"}
	}
}`

const generateRequestSchema = `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string"},
		"model": {"type": "string"}
	}
}`

var (
	agentSchema    = mustSchema(agentRequestSchema)
	generateSchema = mustSchema(generateRequestSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return s
}

// validate checks body against schema and returns one message per
// violation. A body that is not JSON at all yields a single message.
func validate(schema *gojsonschema.Schema, body []byte) []string {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []string{"invalid JSON: " + err.Error()}
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return msgs
}
