// Package protocol parses the plain-text tool directive the model embeds
// in its output:
//
//	TOOL_CALL: tool_name
//	PARAMETERS: {"param": "value"}
//
// Markers are case-insensitive and may carry surrounding decoration
// (bold, backticks, quotes, a code fence around the JSON). The tool name
// may follow on the next line. Output with no directive is a final answer.
package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Directive is one parsed tool call.
type Directive struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

var (
	callPattern   = regexp.MustCompile(`(?i)TOOL_CALL:`)
	namePattern   = regexp.MustCompile("^[ \\t*`\"']*(?:\\r?\\n)?[ \\t*`\"']*([A-Za-z0-9_]+)")
	paramsPattern = regexp.MustCompile(`(?i)PARAMETERS:`)
	markerPattern = regexp.MustCompile(`(?i)TOOL_CALL:|PARAMETERS:`)
)

// ParseDirective extracts the first directive that names a tool. The
// parameter block is the first PARAMETERS: after that marker, or the
// first anywhere when none follows it. A missing or malformed block
// yields an empty, non-nil map; it never fails the parse.
func ParseDirective(text string) (Directive, bool) {
	name, end, ok := findName(text)
	if !ok {
		return Directive{}, false
	}
	d := Directive{
		Name:       name,
		Parameters: map[string]any{},
	}

	loc := paramsPattern.FindStringIndex(text[end:])
	if loc != nil {
		loc[0] += end
		loc[1] += end
	} else {
		loc = paramsPattern.FindStringIndex(text)
	}
	if loc != nil {
		if params, ok := decodeObject(text[loc[1]:]); ok {
			d.Parameters = params
		}
	}
	return d, true
}

// findName returns the tool named by the first TOOL_CALL: marker that
// names one, and the offset just past that name. The name may sit on the
// line after the marker. A following marker is not a name.
func findName(text string) (string, int, bool) {
	for _, loc := range callPattern.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		m := namePattern.FindStringSubmatchIndex(rest)
		if m == nil {
			continue
		}
		name := rest[m[2]:m[3]]
		if strings.HasPrefix(rest[m[3]:], ":") && isMarker(name) {
			continue
		}
		return name, loc[1] + m[3], true
	}
	return "", 0, false
}

func isMarker(word string) bool {
	return strings.EqualFold(word, "TOOL_CALL") || strings.EqualFold(word, "PARAMETERS")
}

// decodeObject decodes the JSON object at the start of s, ignoring
// anything after it. Leading whitespace, emphasis markers and an
// opening code fence are skipped.
func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimLeft(s, " \t\r\n*")
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		// Drop the fence and its language tag.
		if i := strings.IndexAny(rest, "{\n"); i >= 0 {
			rest = rest[i:]
		}
		s = rest
	}
	s = strings.TrimLeft(s, " \t\r\n*`")
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}

	var out map[string]any
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// StripDirectiveSyntax removes directive markers from text: each line is
// cut at its first TOOL_CALL: or PARAMETERS: marker, lines left empty by
// the cut are dropped, and the result is trimmed. It is idempotent.
func StripDirectiveSyntax(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		loc := markerPattern.FindStringIndex(line)
		if loc == nil {
			kept = append(kept, line)
			continue
		}
		cut := strings.TrimRight(line[:loc[0]], " \t\r")
		if cut != "" {
			kept = append(kept, cut)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
