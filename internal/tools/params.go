package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeParams decodes model-supplied parameters into a typed request.
// Decoding is weakly typed, so {"expression": 48} fills a string field.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// invalidParams is the result for parameters that cannot be decoded at
// all, such as an object where a string is expected.
func invalidParams(err error) *Result {
	return Failure(err.Error(), "Tool execution failed: "+err.Error())
}
