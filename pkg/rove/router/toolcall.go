package router

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/ovrishq/rove/pkg/rove/model"
)

var (
	fencedJSONPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	xmlToolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\w[\w.]*)\(([^)]*)\)\s*</tool_call>`)
)

type rawToolCall struct {
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
}

// ExtractToolCall recognises a tool-call representation embedded in free
// text, in the priority order fixed by spec.md §4.2:
//  1. a whole-message JSON object {"function": name, "arguments": …}
//  2. the same object inside a fenced code block, even amid prose
//  3. a <tool_call>NAME(ARGS)</tool_call> XML form
//  4. the first occurrence of `{"function"` anywhere in the text,
//     extended by brace-depth counting that respects string literals
//     and escapes
//
// Returns nil if no form matches.
func ExtractToolCall(text string) *model.ToolCall {
	trimmed := strings.TrimSpace(text)

	if raw, ok := tryParseRawToolCall(trimmed); ok {
		return toModelToolCall(raw)
	}

	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		if raw, ok := tryParseRawToolCall(m[1]); ok {
			return toModelToolCall(raw)
		}
	}

	if m := xmlToolCallPattern.FindStringSubmatch(text); m != nil {
		name := m[1]
		args := parseXMLArgs(m[2])
		return &model.ToolCall{ID: uuid.NewString(), Name: name, Arguments: args}
	}

	if idx := strings.Index(text, `{"function"`); idx >= 0 {
		if block := extractBraceBlock(text[idx:]); block != "" {
			if raw, ok := tryParseRawToolCall(block); ok {
				return toModelToolCall(raw)
			}
		}
	}

	return nil
}

func tryParseRawToolCall(candidate string) (rawToolCall, bool) {
	var raw rawToolCall
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil || raw.Function == "" {
		return rawToolCall{}, false
	}
	return raw, true
}

func toModelToolCall(raw rawToolCall) *model.ToolCall {
	argsJSON, _ := json.Marshal(raw.Arguments)
	return &model.ToolCall{ID: uuid.NewString(), Name: raw.Function, Arguments: string(argsJSON)}
}

// parseXMLArgs turns a comma-separated "k=v, k2=v2" argument list from
// the <tool_call>NAME(ARGS)</tool_call> form into a JSON object string.
func parseXMLArgs(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}"
	}
	args := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"'`)
		args[key] = val
	}
	encoded, _ := json.Marshal(args)
	return string(encoded)
}

// extractBraceBlock returns the substring of s starting at its first
// byte (expected to be '{') through the matching closing brace,
// counting depth while respecting quoted string literals and escape
// sequences.
func extractBraceBlock(s string) string {
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case !inString && r == '{':
			depth++
		case !inString && r == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
