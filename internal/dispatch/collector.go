package dispatch

import "net/http"

// routing field names stripped from the collected arguments before schema
// processing; they address the route, not the handler.
const (
	fieldNamespace = "namespace"
	fieldAction    = "action"
	fieldVersion   = "version"
)

// collectArguments merges the request inputs by method: GET/HEAD use the
// query alone, the write verbs merge query and body with body winning on
// collision, and anything else falls back to query only. Both sides pass
// through the validator's recursive pollution filter before anything else
// touches them.
func collectArguments(v Validator, method string, query, body map[string]any) map[string]any {
	cleanQuery, _ := v.SanitizeDeep(query).(map[string]any)
	cleanBody, _ := v.SanitizeDeep(body).(map[string]any)

	merged := make(map[string]any, len(cleanQuery)+len(cleanBody))
	for k, val := range cleanQuery {
		merged[k] = val
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		for k, val := range cleanBody {
			merged[k] = val
		}
	}
	return merged
}

// stripRoutingFields removes the namespace/action/version addressing fields
// in place and returns their values.
func stripRoutingFields(args map[string]any) (namespace, action, version string) {
	namespace = popString(args, fieldNamespace)
	action = popString(args, fieldAction)
	version = popString(args, fieldVersion)
	return
}

func popString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	delete(args, key)
	s, _ := v.(string)
	return s
}
