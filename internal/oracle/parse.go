// internal/oracle/parse.go
package oracle

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex extracts the body of a markdown code fence.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// formFieldKeys are the composite form tool's recognized value keys.
var formFieldKeys = []string{"name", "email", "subject", "phone", "message"}

// DefaultWait is the action taken when the oracle response is unusable.
// A parse failure never propagates: the loop waits and asks again.
func DefaultWait() schemas.Action {
	return schemas.Action{Type: schemas.ActionWait}
}

// ParseAction extracts one action from the oracle's free-form response.
// It applies, in order: fence stripping, direct parse, a quote-aware
// balanced-brace scan (trying the last candidate first, since oracles
// sometimes echo an example before the real answer), and progressively
// larger slices from the last unmatched brace. The boolean reports whether
// any strategy produced an action; on false the result is DefaultWait().
func ParseAction(text string) (schemas.Action, bool) {
	stripped := stripCodeFences(text)

	// Direct parse of the whole remaining text.
	if raw, ok := tryDecode(stripped); ok {
		return actionFromMap(raw), true
	}

	// Balanced top-level objects, last candidate first.
	candidates, lastUnmatched := objectSpans(stripped)
	for i := len(candidates) - 1; i >= 0; i-- {
		raw, ok := tryDecode(candidates[i])
		if !ok {
			continue
		}
		if _, has := raw["type"]; !has {
			if _, has = raw["extracted_data"]; !has {
				continue
			}
		}
		return actionFromMap(raw), true
	}

	// Progressively larger slices from the last unmatched '{'.
	if lastUnmatched >= 0 {
		rest := stripped[lastUnmatched:]
		for off := 0; ; {
			j := strings.IndexByte(rest[off:], '}')
			if j < 0 {
				break
			}
			off += j + 1
			if raw, ok := tryDecode(rest[:off]); ok {
				return actionFromMap(raw), true
			}
		}
	}

	return DefaultWait(), false
}

// stripCodeFences removes a surrounding markdown fence, if any.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := jsonBlockRegex.FindStringSubmatch(trimmed); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// tryDecode parses s into a JSON object.
func tryDecode(s string) (map[string]interface{}, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil || raw == nil {
		return nil, false
	}
	return raw, true
}

// objectSpans scans s once, tracking string state so braces inside literals
// are ignored, and returns every balanced {...} span in closing order plus
// the index of the last unmatched '{' (-1 when braces balance). Nested spans
// close before their parents, so the outermost object of the final candidate
// is always last.
func objectSpans(s string) (spans []string, lastUnmatched int) {
	var stack []int
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			spans = append(spans, s[start:i+1])
		}
	}

	lastUnmatched = -1
	if len(stack) > 0 {
		lastUnmatched = stack[len(stack)-1]
	}
	return spans, lastUnmatched
}

// actionFromMap converts a decoded object into a typed, normalized Action.
func actionFromMap(raw map[string]interface{}) schemas.Action {
	a := schemas.Action{
		Type:     schemas.ActionType(strings.ToLower(asString(raw["type"]))),
		Selector: asString(raw["selector"]),
		Value:    asString(raw["value"]),
		ToolName: asString(raw["tool_name"]),
		Thought:  asString(raw["thought"]),
	}
	if t, ok := asInt(raw["timeout_ms"]); ok {
		a.TimeoutMs = t
	}
	if args, ok := raw["args"].(map[string]interface{}); ok && len(args) > 0 {
		a.Args = args
	}
	if data, ok := raw["extracted_data"].(map[string]interface{}); ok {
		a.Data = data
	} else if data, ok := raw["data"].(map[string]interface{}); ok {
		a.Data = data
	}

	// Oracles frequently put form field values at the top level of a fill
	// action instead of inside args; gather them so the normalization
	// rewrite has everything it needs.
	if a.Type == schemas.ActionFill || a.Type == "form.fill" || a.ToolName == "form.fill" {
		a.Args = mergeFormValues(a.Args, raw)
	}

	switch a.Type {
	case schemas.ActionClick, schemas.ActionFill, schemas.ActionScroll,
		schemas.ActionWait, schemas.ActionTool, schemas.ActionComplete:
		return Normalize(a)
	case "form.fill":
		return Normalize(a)
	case "":
		// An object with only extracted_data is an implicit completion.
		if a.Data != nil {
			a.Type = schemas.ActionComplete
			return a
		}
		if a.ToolName != "" {
			a.Type = schemas.ActionTool
			return Normalize(a)
		}
		return DefaultWait()
	default:
		// Unknown type carrying a tool name is treated as a tool call.
		if a.ToolName != "" {
			a.Type = schemas.ActionTool
			return Normalize(a)
		}
		return DefaultWait()
	}
}

// Normalize applies the deterministic fill -> form.fill rewrite: a primitive
// fill action, a "form.fill" typed action, or a form.fill tool name without
// type "tool" all become the composite tool call with merged field values.
// The rewrite is total and idempotent.
func Normalize(a schemas.Action) schemas.Action {
	needsRewrite := a.Type == schemas.ActionFill ||
		a.Type == "form.fill" ||
		(a.ToolName == "form.fill" && a.Type != schemas.ActionTool)
	if !needsRewrite {
		return a
	}

	out := a
	out.Type = schemas.ActionTool
	out.ToolName = "form.fill"
	out.Args = mergeFormValues(a.Args, nil)
	if out.Args == nil {
		out.Args = map[string]interface{}{}
	}
	// A bare single-field fill keeps its selector/value pair so the
	// composite tool can still target that one field.
	if a.Selector != "" {
		out.Args["selector"] = a.Selector
	}
	if a.Value != "" {
		if _, exists := out.Args["value"]; !exists {
			out.Args["value"] = a.Value
		}
	}
	out.Selector = ""
	out.Value = ""
	return out
}

// mergeFormValues collects recognized form field values from args and from
// the top level of the raw object, args taking precedence.
func mergeFormValues(args, raw map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	put := func(k string, v interface{}) {
		s := asString(v)
		if s == "" {
			return
		}
		if out == nil {
			out = make(map[string]interface{})
		}
		if _, exists := out[k]; !exists {
			out[k] = s
		}
	}
	for _, k := range formFieldKeys {
		if args != nil {
			put(k, args[k])
		}
	}
	for _, k := range formFieldKeys {
		if raw != nil {
			put(k, raw[k])
		}
	}
	// Preserve any non-field args (selector, value, form hints).
	for k, v := range args {
		if out == nil {
			out = make(map[string]interface{})
		}
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
