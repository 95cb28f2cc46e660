// Package adapters holds the helpers shared by the external-service adapters
// in its subpackages. Each subpackage exposes a Tools constructor returning
// the tool.Tool values it serves.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mitchellh/mapstructure"

	"github.com/MrWong99/toolweave/internal/adapters/auth"
)

// maxErrorBody caps how much of a failed response body is kept in a
// [StatusError].
const maxErrorBody = 512

// Decode copies a coerced argument map into the struct pointed to by out,
// matching keys against json struct tags. Scalar values are converted weakly
// ("5" into an int field, 5 into a string field).
func Decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("adapters: build decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Schema builds a JSON Schema object for a tool's parameters. props maps
// parameter names to their property schema.
func Schema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Prop returns a property schema of the given JSON type.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// StatusError is a non-2xx response from an upstream service. 401 and 403
// responses unwrap to [auth.ErrUnauthorized].
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.Code, e.Body)
}

// Unwrap maps authentication rejections onto [auth.ErrUnauthorized].
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return auth.ErrUnauthorized
	}
	return nil
}

// FetchJSON sends req with hc and decodes a 2xx JSON body into out. out may
// be nil when the body is not needed.
func FetchJSON(ctx context.Context, hc *http.Client, service string, req *http.Request, out any) error {
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Service: service, Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
