package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// fakeValidator is a minimal in-package Validator for unit tests of the
// collector, schema, and extra-argument paths.
type fakeValidator struct {
	failValidation bool
}

func (f *fakeValidator) SanitizeValidate(_ context.Context, schema map[string]FieldSchema) (map[string]any, error) {
	if f.failValidation {
		return nil, fmt.Errorf("validation rejected")
	}
	out := make(map[string]any, len(schema))
	for name, field := range schema {
		if field.Value == nil {
			if field.Required {
				return nil, fmt.Errorf("parameter %q is required", name)
			}
			continue
		}
		out[name] = field.Value
	}
	return out, nil
}

func (f *fakeValidator) SanitizeString(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return strings.TrimSpace(s), true
}

func (f *fakeValidator) SanitizeFloat(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed, true
		}
	}
	return nil, false
}

func (f *fakeValidator) SanitizeBool(v any) (any, bool) {
	b, ok := v.(bool)
	if !ok {
		return nil, false
	}
	return b, true
}

func (f *fakeValidator) SanitizeArray(v any) (any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	return f.SanitizeDeep(arr), true
}

func (f *fakeValidator) SanitizeObject(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return f.SanitizeDeep(m), true
}

func (f *fakeValidator) SanitizeDeep(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			switch k {
			case "__proto__", "constructor", "prototype":
				continue
			}
			out[k] = f.SanitizeDeep(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = f.SanitizeDeep(inner)
		}
		return out
	default:
		return v
	}
}
