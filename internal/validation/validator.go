// Package validation implements the sanitizer/validator collaborator the
// dispatch core consumes: schema validation with per-type sanitizers, scalar
// sanitizers for undeclared arguments, and the recursive pollution filter.
package validation

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"relaycore/internal/dispatch"
)

// Sanitizer validates and sanitizes request parameters against their
// declared types.
type Sanitizer struct {
	validate *validator.Validate
}

// NewSanitizer creates a Sanitizer ready for use.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{validate: validator.New()}
}

var _ dispatch.Validator = (*Sanitizer)(nil)

// SanitizeValidate checks every declared parameter against its type and
// returns the final value map. Missing required values and values that
// cannot be sanitized to their declared type fail validation.
func (s *Sanitizer) SanitizeValidate(ctx context.Context, schema map[string]dispatch.FieldSchema) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for name, field := range schema {
		if field.Value == nil {
			if field.Required {
				return nil, fmt.Errorf("parameter %q is required", name)
			}
			continue
		}
		clean, err := s.sanitizeTyped(name, field)
		if err != nil {
			return nil, err
		}
		out[name] = clean
	}
	return out, nil
}

func (s *Sanitizer) sanitizeTyped(name string, field dispatch.FieldSchema) (any, error) {
	switch field.Type {
	case "int", "integer":
		switch v := field.Value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
		}
		return nil, fmt.Errorf("parameter %q must be an integer", name)
	case "float", "numeric":
		switch v := field.Value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		return nil, fmt.Errorf("parameter %q must be numeric", name)
	case "bool", "boolean":
		if v, ok := field.Value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("parameter %q must be a boolean", name)
	case "string", "text":
		if v, ok := field.Value.(string); ok {
			return sanitizeText(v), nil
		}
		return nil, fmt.Errorf("parameter %q must be a string", name)
	case "array", "iterable":
		if v, ok := field.Value.([]any); ok {
			return s.SanitizeDeep(v), nil
		}
		return nil, fmt.Errorf("parameter %q must be an array", name)
	case "object":
		if v, ok := field.Value.(map[string]any); ok {
			return s.SanitizeDeep(v), nil
		}
		return nil, fmt.Errorf("parameter %q must be an object", name)
	case "email":
		v, ok := field.Value.(string)
		if !ok || s.validate.Var(strings.TrimSpace(v), "email") != nil {
			return nil, fmt.Errorf("parameter %q must be a valid email address", name)
		}
		return strings.ToLower(strings.TrimSpace(v)), nil
	case "url":
		v, ok := field.Value.(string)
		if !ok || s.validate.Var(strings.TrimSpace(v), "url") != nil {
			return nil, fmt.Errorf("parameter %q must be a valid URL", name)
		}
		return strings.TrimSpace(v), nil
	case "html":
		if v, ok := field.Value.(string); ok {
			return sanitizeHTML(v), nil
		}
		return nil, fmt.Errorf("parameter %q must be an HTML string", name)
	}
	return nil, fmt.Errorf("parameter %q has unsupported type %q", name, field.Type)
}

// SanitizeString trims and control-strips string values; anything else is
// dropped.
func (s *Sanitizer) SanitizeString(v any) (any, bool) {
	str, ok := v.(string)
	if !ok {
		return nil, false
	}
	return sanitizeText(str), true
}

// SanitizeFloat accepts any numeric shape, plus numeric-looking strings.
func (s *Sanitizer) SanitizeFloat(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

// SanitizeBool accepts booleans and their common string spellings.
func (s *Sanitizer) SanitizeBool(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return nil, false
}

// SanitizeArray deep-sanitizes slice values.
func (s *Sanitizer) SanitizeArray(v any) (any, bool) {
	if arr, ok := v.([]any); ok {
		return s.SanitizeDeep(arr), true
	}
	return nil, false
}

// SanitizeObject deep-sanitizes map values.
func (s *Sanitizer) SanitizeObject(v any) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		return s.SanitizeDeep(m), true
	}
	return nil, false
}

// pollutionKeys are removed at every nesting depth before any other
// processing reads the data; a polluted object must never reach shared
// runtime state.
var pollutionKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// SanitizeDeep returns a copy of v with prototype-pollution vectors removed
// recursively. Cyclic input is cut at the revisit instead of recursed into.
func (s *Sanitizer) SanitizeDeep(v any) any {
	return deepFilter(v, make(map[uintptr]struct{}))
}

func deepFilter(v any, visited map[uintptr]struct{}) any {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil
		}
		visited[ptr] = struct{}{}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if _, polluted := pollutionKeys[k]; polluted {
				continue
			}
			out[k] = deepFilter(inner, visited)
		}
		delete(visited, ptr)
		return out
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil
		}
		visited[ptr] = struct{}{}
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = deepFilter(inner, visited)
		}
		delete(visited, ptr)
		return out
	default:
		return v
	}
}

// sanitizeText trims surrounding whitespace and strips NUL and other control
// characters (newlines and tabs survive).
func sanitizeText(s string) string {
	out := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(out)
}

var (
	reScriptBlock = regexp.MustCompile(`(?is)<\s*(script|iframe|object|embed)\b.*?<\s*/\s*(script|iframe|object|embed)\s*>`)
	reEventAttr   = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	reJSHref      = regexp.MustCompile(`(?i)(href|src)\s*=\s*("javascript:[^"]*"|'javascript:[^']*')`)
)

// sanitizeHTML removes active content from markup while leaving inert tags
// in place.
func sanitizeHTML(s string) string {
	out := reScriptBlock.ReplaceAllString(s, "")
	out = reEventAttr.ReplaceAllString(out, "")
	out = reJSHref.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
