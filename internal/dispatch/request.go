package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "relaycore/internal/errors"
)

// Request is the transport-agnostic request descriptor handed to Handle.
// The HTTP bridge, a test harness, or an RPC shim all produce the same shape.
type Request struct {
	Method  string
	Query   map[string]any
	Body    map[string]any
	Headers map[string]string
	Context map[string]any
}

// RequestContext is the per-call bookkeeping record: a unique request id, the
// call timestamp, and the errors accumulated while processing. One is created
// at the top of Handle and discarded once the response is built; it is never
// shared across requests.
type RequestContext struct {
	RequestID string
	Timestamp time.Time
	Errors    []ErrorRecord
}

// ErrorRecord is one accumulated failure, carried in the response envelope's
// details array.
type ErrorRecord struct {
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func newRequestContext(now time.Time) *RequestContext {
	return &RequestContext{
		RequestID: uuid.NewString(),
		Timestamp: now,
		Errors:    make([]ErrorRecord, 0, 4),
	}
}

// Record appends a failure to the per-request error list. Messages pass
// through redaction before being stored.
func (rc *RequestContext) Record(category, message string, data any, now time.Time) {
	rc.Errors = append(rc.Errors, ErrorRecord{
		Message:   apperrors.Redact(message),
		Data:      apperrors.SanitizeForLogging(data),
		Category:  category,
		Timestamp: now,
		RequestID: rc.RequestID,
	})
}

// Response is the uniform envelope returned for every request.
type Response struct {
	OK     bool       `json:"ok"`
	Status int        `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the error half of the envelope.
type ErrorInfo struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Details   []ErrorRecord `json:"details"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id"`
}

// HandlerOutput is what a handler hands back. A nil *HandlerOutput is a
// no-op: the running result is left unchanged. Abort short-circuits the
// remaining chain with Response verbatim. Otherwise Result replaces the
// running result.
type HandlerOutput struct {
	Abort    bool
	Response *Response
	Result   any
}

// Handler is one link of a route's execution chain. Handlers receive the
// frozen PipelineInput and must treat it as read-only; the type makes any
// other use impossible.
type Handler struct {
	Name string
	Fn   func(ctx context.Context, in *PipelineInput) (*HandlerOutput, error)
}

// RequestMeta is the route-resolution summary given to the pre-validation
// middleware.
type RequestMeta struct {
	Namespace string
	Action    string
	Version   string
	Method    string
	RequestID string
	Entry     *RouteEntry
}

// PreValidationMiddleware runs after route resolution and before schema
// validation. Returning an abort output short-circuits the request; an error
// maps to MIDDLEWARE_FAILED.
type PreValidationMiddleware func(ctx context.Context, meta *RequestMeta) (*HandlerOutput, error)

// FieldSchema is the per-parameter validation unit handed to the Validator.
type FieldSchema struct {
	Value    any
	Type     string
	Required bool
}

// Validator is the external sanitizer/validator collaborator. All methods
// use a uniform synchronous contract; implementations that need to block
// honor the context.
type Validator interface {
	// SanitizeValidate validates and sanitizes the declared parameters.
	// The returned map holds the final per-parameter values. A returned
	// error means validation failed (missing required value, unsanitizable
	// input) and maps to VALIDATION_FAILED.
	SanitizeValidate(ctx context.Context, schema map[string]FieldSchema) (map[string]any, error)

	// Scalar sanitizers for extra-argument cleaning. The bool result
	// reports whether the value survived; false means drop it.
	SanitizeString(v any) (any, bool)
	SanitizeFloat(v any) (any, bool)
	SanitizeBool(v any) (any, bool)
	SanitizeArray(v any) (any, bool)
	SanitizeObject(v any) (any, bool)

	// SanitizeDeep returns a copy of v with prototype-pollution vectors
	// ("__proto__", "constructor", "prototype") removed at every depth.
	SanitizeDeep(v any) any
}

// AutoLoader resolves the concrete handler chain for a matched route entry.
type AutoLoader interface {
	// LoadCoreUtilities performs best-effort warm-up. Failures are logged
	// by the dispatcher and never fatal.
	LoadCoreUtilities(ctx context.Context) error

	// EnsureRouteDependencies resolves the handler functions for entry.
	// Failures are retried by the dispatcher per its retry configuration.
	EnsureRouteDependencies(ctx context.Context, entry *RouteEntry) ([]Handler, error)
}
