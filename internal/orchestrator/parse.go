package orchestrator

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/toolweave/pkg/provider/llm"
)

// callHeader matches the opening of a textual tool call, up to the tool name:
//
//	[TOOL_CALL: get_weather {"city": "Paris"}]
var callHeader = regexp.MustCompile(`\[\s*TOOL_CALL\s*:\s*([A-Za-z0-9_.\-]+)\s*`)

// textualCall is one occurrence of the textual grammar in model output.
type textualCall struct {
	call       llm.ToolCall
	start, end int
	ok         bool
}

// parseTextual extracts every textual tool call from content. Well-formed
// calls are returned with fresh IDs. rest is the trimmed content with every
// occurrence, well-formed or not, removed.
func parseTextual(content string) (calls []llm.ToolCall, rest string) {
	found := scanTextual(content)
	if len(found) == 0 {
		return nil, strings.TrimSpace(content)
	}
	var b strings.Builder
	prev := 0
	for _, f := range found {
		b.WriteString(content[prev:f.start])
		prev = f.end
		if f.ok {
			calls = append(calls, f.call)
		}
	}
	b.WriteString(content[prev:])
	return calls, tidy(b.String())
}

func scanTextual(content string) []textualCall {
	var out []textualCall
	offset := 0
	for offset < len(content) {
		loc := callHeader.FindStringSubmatchIndex(content[offset:])
		if loc == nil {
			break
		}
		start := offset + loc[0]
		name := content[offset+loc[2] : offset+loc[3]]
		pos := offset + loc[1]

		tc := textualCall{start: start}
		args, n, ok := readArgs(content[pos:])
		if ok {
			pos += n
			pos += len(content[pos:]) - len(strings.TrimLeft(content[pos:], " \t"))
			if strings.HasPrefix(content[pos:], "]") {
				tc.ok = true
				tc.end = pos + 1
				tc.call = llm.ToolCall{ID: uuid.NewString(), Name: name, Arguments: args}
			}
		}
		if !tc.ok {
			// Malformed: drop up to the next bracket or line end.
			tc.end = malformedEnd(content, pos)
		}
		out = append(out, tc)
		offset = tc.end
	}
	return out
}

// readArgs reads the JSON object at the start of s. A call without
// arguments ("[TOOL_CALL: list_transcripts]") yields "{}".
func readArgs(s string) (args string, n int, ok bool) {
	if strings.HasPrefix(s, "]") {
		return "{}", 0, true
	}
	if !strings.HasPrefix(s, "{") {
		return "", 0, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "", 0, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", 0, false
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", 0, false
	}
	return compact.String(), int(dec.InputOffset()), true
}

func malformedEnd(content string, pos int) int {
	rest := content[pos:]
	if i := strings.IndexAny(rest, "]\n"); i >= 0 {
		if rest[i] == ']' {
			return pos + i + 1
		}
		return pos + i
	}
	return len(content)
}

// validStructured keeps the structured calls that name a tool and carry a
// JSON object (or nothing) as arguments. Missing IDs are filled in.
func validStructured(calls []llm.ToolCall) []llm.ToolCall {
	var out []llm.ToolCall
	for _, c := range calls {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		args := strings.TrimSpace(c.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(args), &obj); err != nil {
			continue
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Arguments = args
		out = append(out, c)
	}
	return out
}

// detect applies the two-variant parse: structured calls first, else the
// textual grammar. content is the model text with the grammar removed.
func detect(resp *llm.CompletionResponse) (calls []llm.ToolCall, content string) {
	if structured := validStructured(resp.ToolCalls); len(structured) > 0 {
		_, content = parseTextual(resp.Content)
		return structured, content
	}
	return parseTextual(resp.Content)
}

// Strip removes the textual tool-call grammar from text.
func Strip(text string) string {
	_, rest := parseTextual(text)
	return rest
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func tidy(s string) string {
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// decodeArgs parses validated call arguments into the map shown in the
// tool_call event.
func decodeArgs(arguments string) map[string]any {
	params := map[string]any{}
	if err := json.Unmarshal([]byte(arguments), &params); err != nil || params == nil {
		return map[string]any{}
	}
	return params
}
