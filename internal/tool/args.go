package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// coerceArgs turns whatever the model produced into an argument map.
//
// Accepted inputs are a map, a JSON object as string / []byte /
// json.RawMessage, or nil. A bare non-JSON string is accepted for tools with
// exactly one required parameter and becomes that parameter's value.
func coerceArgs(args any, schema map[string]any) (map[string]any, error) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return cloneMap(v), nil
	case json.RawMessage:
		return decodeObject([]byte(v), schema)
	case []byte:
		return decodeObject(v, schema)
	case string:
		return decodeObject([]byte(v), schema)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("arguments of type %T are not encodable: %w", args, err)
		}
		return decodeObject(b, schema)
	}
}

func decodeObject(raw []byte, schema map[string]any) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '{' {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("arguments are not a valid JSON object: %w", err)
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	}

	// Some models JSON-encode the argument object twice.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			return decodeObject([]byte(inner), schema)
		}
	}

	req := requiredParams(schema)
	if len(req) == 1 {
		return map[string]any{req[0]: string(raw)}, nil
	}
	return nil, fmt.Errorf("arguments must be a JSON object")
}

// applyDefaults fills missing properties that declare a "default" and
// converts scalar values to the declared property type where that is lossless
// ("5" for an integer parameter, 14 for a string parameter).
func applyDefaults(args map[string]any, schema map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	for name, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		val, present := args[name]
		if !present {
			if def, ok := prop["default"]; ok {
				args[name] = def
			}
			continue
		}
		if typ, ok := prop["type"].(string); ok {
			args[name] = convertScalar(val, typ)
		}
	}
}

func convertScalar(v any, typ string) any {
	switch typ {
	case "integer", "number":
		s, ok := v.(string)
		if !ok {
			return v
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return v
		}
		return f
	case "boolean":
		s, ok := v.(string)
		if !ok {
			return v
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	case "string":
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(n)
		}
	}
	return v
}

// validateArgs checks required properties and primitive JSON types.
func validateArgs(args map[string]any, schema map[string]any) error {
	for _, name := range requiredParams(schema) {
		v, ok := args[name]
		if !ok || v == nil {
			return fmt.Errorf("missing required parameter %q", name)
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return fmt.Errorf("required parameter %q is empty", name)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, val := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if typ == "" {
			continue
		}
		if !matchesType(val, typ) {
			return fmt.Errorf("parameter %q: expected %s, got %T", name, typ, val)
		}
		if s, isStr := val.(string); isStr {
			if enum := stringList(prop["enum"]); len(enum) > 0 && !slices.Contains(enum, s) {
				return fmt.Errorf("parameter %q: %q is not one of %v", name, s, enum)
			}
		}
	}
	return nil
}

func matchesType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && math.Trunc(f) == f
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "null":
		return v == nil
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// requiredParams returns the schema's "required" list regardless of whether it
// was built in Go ([]string) or decoded from JSON ([]any).
func requiredParams(schema map[string]any) []string {
	return stringList(schema["required"])
}

func stringList(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
