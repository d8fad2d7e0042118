package dispatch

import (
	"reflect"
	"time"
)

// The isolation engine deep-clones the mutable request data into immutable
// Value trees, one PipelineInput per request. Cloning tracks references
// already seen within the traversal; revisiting one substitutes a circular
// marker instead of recursing. Serialization round-trips are deliberately not
// used for this: they throw on legitimate non-serializable-but-acyclic data
// and cost a second pass.

// PipelineInput is the frozen execution context shared read-only by every
// handler in the chain.
type PipelineInput struct {
	method    string
	validated Value
	extra     Value
	rawQuery  Value
	rawBody   Value
	headers   Value
	context   Value
}

// Method returns the request method the chain is running under.
func (p *PipelineInput) Method() string { return p.method }

// Validated returns the schema-validated, type-coerced arguments.
func (p *PipelineInput) Validated() Value { return p.validated }

// Extra returns the sanitized arguments outside the declared schema.
func (p *PipelineInput) Extra() Value { return p.extra }

// RawQuery returns the unprocessed query arguments.
func (p *PipelineInput) RawQuery() Value { return p.rawQuery }

// RawBody returns the unprocessed body arguments.
func (p *PipelineInput) RawBody() Value { return p.rawBody }

// Headers returns the request headers.
func (p *PipelineInput) Headers() Value { return p.headers }

// Context returns the caller-supplied request context with the requestId
// attached under "requestId".
func (p *PipelineInput) Context() Value { return p.context }

// buildPipelineInput clones and freezes the per-request data.
func buildPipelineInput(req *Request, rc *RequestContext, validated, extra map[string]any) *PipelineInput {
	callerCtx := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		callerCtx[k] = v
	}
	callerCtx["requestId"] = rc.RequestID

	headers := make(map[string]any, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}

	return &PipelineInput{
		method:    req.Method,
		validated: freeze(validated),
		extra:     freeze(extra),
		rawQuery:  freeze(req.Query),
		rawBody:   freeze(req.Body),
		headers:   freeze(headers),
		context:   freeze(callerCtx),
	}
}

// freeze deep-clones arbitrary request data into an immutable Value.
func freeze(v any) Value {
	return freezeValue(v, make(map[uintptr]struct{}))
}

func freezeValue(v any, visited map[uintptr]struct{}) Value {
	switch val := v.(type) {
	case nil:
		return nullValue()
	case bool:
		return boolValue(val)
	case string:
		return stringValue(val)
	case int:
		return intValue(int64(val))
	case int8:
		return intValue(int64(val))
	case int16:
		return intValue(int64(val))
	case int32:
		return intValue(int64(val))
	case int64:
		return intValue(val)
	case uint:
		return intValue(int64(val))
	case uint8:
		return intValue(int64(val))
	case uint16:
		return intValue(int64(val))
	case uint32:
		return intValue(int64(val))
	case uint64:
		return intValue(int64(val))
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	case time.Time:
		return stringValue(val.Format(time.RFC3339Nano))
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, seen := visited[ptr]; seen {
			return circularValue()
		}
		visited[ptr] = struct{}{}
		out := make(map[string]Value, len(val))
		for k, inner := range val {
			out[k] = freezeValue(inner, visited)
		}
		delete(visited, ptr)
		return objectValue(out)
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if _, seen := visited[ptr]; seen {
			return circularValue()
		}
		visited[ptr] = struct{}{}
		out := make([]Value, len(val))
		for i, inner := range val {
			out[i] = freezeValue(inner, visited)
		}
		delete(visited, ptr)
		return arrayValue(out)
	}
	return freezeReflect(reflect.ValueOf(v), visited)
}

// freezeReflect handles the less common shapes: typed maps and slices,
// pointers, and anything else, which is carried opaquely.
func freezeReflect(rv reflect.Value, visited map[uintptr]struct{}) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nullValue()
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if _, seen := visited[ptr]; seen {
				return circularValue()
			}
			visited[ptr] = struct{}{}
			out := freezeValue(rv.Elem().Interface(), visited)
			delete(visited, ptr)
			return out
		}
		return freezeValue(rv.Elem().Interface(), visited)
	case reflect.Map:
		if rv.IsNil() {
			return nullValue()
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return circularValue()
		}
		visited[ptr] = struct{}{}
		out := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key()
			if key.Kind() != reflect.String {
				continue
			}
			out[key.String()] = freezeValue(iter.Value().Interface(), visited)
		}
		delete(visited, ptr)
		return objectValue(out)
	case reflect.Slice:
		if rv.IsNil() {
			return nullValue()
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return circularValue()
		}
		visited[ptr] = struct{}{}
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = freezeValue(rv.Index(i).Interface(), visited)
		}
		delete(visited, ptr)
		return arrayValue(out)
	case reflect.Array:
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = freezeValue(rv.Index(i).Interface(), visited)
		}
		return arrayValue(out)
	case reflect.Invalid:
		return nullValue()
	}
	return opaqueValue(rv.Interface())
}

// hasCycle scans plain Go data for reference cycles using a visited set.
// Used to validate handler results before they are accepted.
func hasCycle(v any) bool {
	return scanCycle(v, make(map[uintptr]struct{}))
}

func scanCycle(v any, visited map[uintptr]struct{}) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return false
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return true
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)
		if rv.Kind() == reflect.Map {
			iter := rv.MapRange()
			for iter.Next() {
				if scanCycle(iter.Value().Interface(), visited) {
					return true
				}
			}
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if scanCycle(rv.Index(i).Interface(), visited) {
				return true
			}
		}
		return false
	case reflect.Pointer:
		if rv.IsNil() {
			return false
		}
		ptr := rv.Pointer()
		if _, seen := visited[ptr]; seen {
			return true
		}
		visited[ptr] = struct{}{}
		defer delete(visited, ptr)
		return scanCycle(rv.Elem().Interface(), visited)
	case reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return scanCycle(rv.Elem().Interface(), visited)
	}
	return false
}
