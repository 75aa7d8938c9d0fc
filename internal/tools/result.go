package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Result is the outcome of one tool invocation. Response is always set
// and is the only field meant for end users. Fields holds tool-specific
// data and is flattened into the top-level JSON object.
type Result struct {
	Success  bool
	Error    string
	Response string
	Fields   map[string]any
}

// Success builds a successful result.
func Success(response string, fields map[string]any) *Result {
	return &Result{Success: true, Response: response, Fields: fields}
}

// Failure builds an error result. errMsg is the short machine-facing
// reason and response the user-facing explanation.
func Failure(errMsg, response string) *Result {
	return &Result{Error: errMsg, Response: response}
}

// Failed reports whether the invocation did not succeed.
func (r *Result) Failed() bool {
	return r == nil || !r.Success || r.Error != ""
}

// Field returns a tool-specific field, or nil.
func (r *Result) Field(key string) any {
	if r == nil {
		return nil
	}
	return r.Fields[key]
}

var reservedKeys = []string{"success", "error", "response"}

// MarshalJSON renders success first, then error, the tool-specific
// fields in key order, and response last. Non-finite floats encode as
// null.
func (r Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"success":`)
	if r.Success && r.Error == "" {
		buf.WriteString("true")
	} else {
		buf.WriteString("false")
	}

	write := func(key string, v any) error {
		data, err := json.Marshal(finite(v))
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		k, _ := json.Marshal(key)
		buf.WriteByte(',')
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(data)
		return nil
	}

	if r.Error != "" {
		if err := write("error", r.Error); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if !slices.Contains(reservedKeys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := write(k, r.Fields[k]); err != nil {
			return nil, err
		}
	}

	if err := write("response", r.Response); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reverses MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = Result{}
	if v, ok := m["success"].(bool); ok {
		r.Success = v
	}
	if v, ok := m["error"].(string); ok {
		r.Error = v
	}
	if v, ok := m["response"].(string); ok {
		r.Response = v
	}
	for _, k := range reservedKeys {
		delete(m, k)
	}
	if len(m) > 0 {
		r.Fields = m
	}
	return nil
}

// JSON returns the encoded result, falling back to a minimal object if a
// field cannot be encoded.
func (r *Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(Failure(err.Error(), r.Response))
	}
	return string(data)
}

func finite(v any) any {
	if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil
	}
	return v
}
