package dispatch

import (
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	apperrors "relaycore/internal/errors"
)

// paramTypes is the fixed whitelist of declarable parameter types.
var paramTypes = map[string]struct{}{
	"int": {}, "integer": {}, "float": {}, "numeric": {},
	"bool": {}, "boolean": {}, "string": {}, "text": {},
	"array": {}, "iterable": {}, "email": {}, "url": {},
	"html": {}, "object": {},
}

// buildSchema constructs the per-parameter validation schema from the route's
// declarations and the collected arguments, substituting defaults and
// applying best-effort type coercion. A blank name or a type outside the
// whitelist is a configuration error surfaced to the caller as a validation
// failure, not a server fault.
func buildSchema(params []ParamDef, args map[string]any) (map[string]FieldSchema, error) {
	schema := make(map[string]FieldSchema, len(params))
	for _, def := range params {
		if strings.TrimSpace(def.Name) == "" {
			return nil, apperrors.New(apperrors.CodeValidationFailed, "parameter definition has an empty name")
		}
		if _, ok := paramTypes[def.Type]; !ok {
			return nil, apperrors.Newf(apperrors.CodeValidationFailed, "parameter %q has unknown type %q", def.Name, def.Type)
		}

		value, present := args[def.Name]
		if (!present || value == nil) && !def.Required && def.Default != nil {
			value = def.Default
		}
		schema[def.Name] = FieldSchema{
			Value:    coerce(value, def.Type),
			Type:     def.Type,
			Required: def.Required,
		}
	}
	return schema, nil
}

// coerce applies best-effort type coercion before validation. On parse
// failure the original value is returned untouched so the validator can
// reject it with a precise message.
func coerce(value any, typ string) any {
	s, isString := value.(string)
	if !isString {
		return value
	}
	switch typ {
	case "int", "integer":
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	case "float", "numeric":
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	case "bool", "boolean":
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1":
			return true
		case "false", "0":
			return false
		}
	case "array", "iterable":
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") {
			var arr []any
			if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
				return arr
			}
		}
	}
	return value
}

// signatureCache maps a route's parameter signature to its allowed-name set.
// The key is derived from content (ordered name:type pairs), never from the
// ParamDef slice's identity: structurally identical configurations built
// repeatedly must hit the same entry.
type signatureCache struct {
	mu    sync.Mutex
	names map[string]map[string]struct{}
}

func newSignatureCache() *signatureCache {
	return &signatureCache{names: make(map[string]map[string]struct{})}
}

func paramSignature(params []ParamDef) string {
	var b strings.Builder
	for i, def := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(def.Name)
		b.WriteByte(':')
		b.WriteString(def.Type)
	}
	return b.String()
}

func (c *signatureCache) allowedNames(params []ParamDef) map[string]struct{} {
	key := paramSignature(params)
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.names[key]; ok {
		return set
	}
	set := make(map[string]struct{}, len(params))
	for _, def := range params {
		set[def.Name] = struct{}{}
	}
	c.names[key] = set
	return set
}

// extraArguments computes the request arguments outside both the declared
// schema and the validated output, sanitizing each by its runtime shape.
// Values the sanitizer drops are omitted from the result.
func extraArguments(v Validator, cache *signatureCache, params []ParamDef, args, validated map[string]any) map[string]any {
	allowed := cache.allowedNames(params)
	extra := make(map[string]any)
	for name, raw := range args {
		if _, declared := allowed[name]; declared {
			continue
		}
		if _, already := validated[name]; already {
			continue
		}
		if clean, ok := sanitizeByShape(v, raw); ok {
			extra[name] = clean
		}
	}
	return extra
}

// sanitizeByShape dispatches on the runtime shape of an undeclared value.
func sanitizeByShape(v Validator, raw any) (any, bool) {
	switch raw.(type) {
	case nil:
		return nil, false
	case string:
		return v.SanitizeString(raw)
	case bool:
		return v.SanitizeBool(raw)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v.SanitizeFloat(raw)
	case []any:
		return v.SanitizeArray(raw)
	case map[string]any:
		return v.SanitizeObject(raw)
	}
	return nil, false
}
