package errors

import "net/http"

// Code identifies one entry of the dispatch error taxonomy. Codes are part of
// the wire contract: clients match on them, so they never change meaning.
type Code string

const (
	CodeMethodNotAllowed   Code = "METHOD_NOT_ALLOWED"
	CodeMissingRouteFields Code = "MISSING_ROUTE_FIELDS"
	CodeRouteNotFound      Code = "ROUTE_NOT_FOUND"
	CodeInvalidRouteEntry  Code = "INVALID_ROUTE_ENTRY"
	CodeMiddlewareFailed   Code = "MIDDLEWARE_FAILED"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeAutoloadFailed     Code = "AUTOLOAD_FAILED"
	CodeHandlerException   Code = "HANDLER_EXCEPTION"
	CodeCriticalUnhandled  Code = "CRITICAL_UNHANDLED_EXCEPTION"
)

// defaultStatus maps each taxonomy code to its HTTP status.
var defaultStatus = map[Code]int{
	CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	CodeMissingRouteFields: http.StatusBadRequest,
	CodeRouteNotFound:      http.StatusNotFound,
	CodeInvalidRouteEntry:  http.StatusInternalServerError,
	CodeMiddlewareFailed:   http.StatusInternalServerError,
	CodeValidationFailed:   http.StatusBadRequest,
	CodeAutoloadFailed:     http.StatusInternalServerError,
	CodeHandlerException:   http.StatusInternalServerError,
	CodeCriticalUnhandled:  http.StatusInternalServerError,
}

// Status returns the HTTP status associated with the code. Unknown codes
// fall back to 500 so a taxonomy gap can never produce a 200.
func (c Code) Status() int {
	if s, ok := defaultStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}
