package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	apperrors "relaycore/internal/errors"
)

// Options configures a Dispatcher. Routes, Validator, and AutoLoader are
// required; everything else has a default.
type Options struct {
	Routes     RouteConfig
	Validator  Validator
	AutoLoader AutoLoader
	Middleware PreValidationMiddleware
	Logger     *slog.Logger

	AllowedMethods      []string
	DependencyRetries   int
	DependencyRetryBase time.Duration
	HandlerTimeout      time.Duration
	EnableRouteCache    bool
	MaxRouteCacheSize   int
	EnableVersioning    bool
	ParallelHandlers    bool
	DebugMode           bool

	// Clock overrides the timestamp source, for deterministic tests.
	Clock func() time.Time
}

var defaultAllowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodHead,
}

// Dispatcher is the long-lived request-dispatch core. One instance serves
// many concurrent requests; the only shared mutable state is its two caches,
// both mutex-guarded.
type Dispatcher struct {
	table      *routeTable
	validator  Validator
	loader     AutoLoader
	middleware PreValidationMiddleware
	logger     *slog.Logger

	allowedMethods map[string]struct{}
	retries        int
	retryBase      time.Duration
	exec           *executor
	sigCache       *signatureCache
	debug          bool
	clock          func() time.Time
}

// NewDispatcher validates the route configuration and assembles the core.
// Malformed route groups are a fatal construction error; nothing else fails
// here.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Validator == nil {
		return nil, fmt.Errorf("dispatcher requires a validator")
	}
	if opts.AutoLoader == nil {
		return nil, fmt.Errorf("dispatcher requires an auto-loader")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "dispatcher"))

	cacheSize := opts.MaxRouteCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	table, err := newRouteTable(opts.Routes, opts.EnableVersioning, cacheSize, opts.EnableRouteCache)
	if err != nil {
		return nil, fmt.Errorf("invalid route configuration: %w", err)
	}

	methods := opts.AllowedMethods
	if len(methods) == 0 {
		methods = defaultAllowedMethods
	}
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = struct{}{}
	}

	retries := opts.DependencyRetries
	if retries < 0 {
		retries = 0
	}
	retryBase := opts.DependencyRetryBase
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Dispatcher{
		table:          table,
		validator:      opts.Validator,
		loader:         opts.AutoLoader,
		middleware:     opts.Middleware,
		logger:         logger,
		allowedMethods: allowed,
		retries:        retries,
		retryBase:      retryBase,
		exec: &executor{
			timeout:  opts.HandlerTimeout,
			parallel: opts.ParallelHandlers,
			logger:   logger,
		},
		sigCache: newSignatureCache(),
		debug:    opts.DebugMode,
		clock:    clock,
	}

	// Warm-up is best-effort; a failing loader still serves requests.
	if err := d.loader.LoadCoreUtilities(context.Background()); err != nil {
		logger.Warn("core utility load failed", slog.String("error", err.Error()))
	}
	return d, nil
}

// Handle processes one request descriptor into a response envelope. It never
// panics and never returns an error: every failure, including ones the
// taxonomy does not anticipate, becomes an envelope.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (resp *Response) {
	rc := newRequestContext(d.clock())

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "unhandled exception in dispatch",
				slog.String("request_id", rc.RequestID),
				slog.Any("panic", apperrors.SanitizeForLogging(r)),
				slog.Bool("critical", true))
			msg := "internal dispatch failure"
			if d.debug {
				msg = apperrors.Redact(fmt.Sprintf("unhandled exception: %v\n%s", r, debug.Stack()))
			}
			rc.Record("critical", msg, nil, d.clock())
			resp = d.errorResponse(rc, apperrors.CodeCriticalUnhandled, msg)
		}
	}()

	if req == nil {
		rc.Record("request", "request descriptor is nil", nil, d.clock())
		return d.errorResponse(rc, apperrors.CodeMissingRouteFields, "request descriptor is nil")
	}

	method := strings.ToUpper(req.Method)
	if _, ok := d.allowedMethods[method]; !ok {
		rc.Record("request", fmt.Sprintf("method %q is not allowed", req.Method), nil, d.clock())
		return d.errorResponse(rc, apperrors.CodeMethodNotAllowed, fmt.Sprintf("method %q is not allowed", req.Method))
	}

	// Pollution filtering and merging happen before anything else reads
	// the request data.
	args := collectArguments(d.validator, method, req.Query, req.Body)
	namespace, action, version := stripRoutingFields(args)
	if strings.TrimSpace(namespace) == "" || strings.TrimSpace(action) == "" {
		rc.Record("routing", "namespace and action are required", nil, d.clock())
		return d.errorResponse(rc, apperrors.CodeMissingRouteFields, "namespace and action are required")
	}

	entry := d.table.resolve(namespace, action, version)
	if entry == nil {
		rc.Record("routing", fmt.Sprintf("no route for %s", cacheKey(namespace, action, version)), nil, d.clock())
		return d.errorResponse(rc, apperrors.CodeRouteNotFound, fmt.Sprintf("no route for %s/%s", namespace, action))
	}
	if err := checkEntry(entry); err != nil {
		rc.Record("routing", err.Error(), nil, d.clock())
		return d.errorResponse(rc, apperrors.CodeInvalidRouteEntry, err.Error())
	}

	if d.debug {
		d.logger.DebugContext(ctx, "route resolved",
			slog.String("request_id", rc.RequestID),
			slog.String("namespace", namespace),
			slog.String("action", action),
			slog.String("version", version))
	}

	if d.middleware != nil {
		meta := &RequestMeta{
			Namespace: namespace,
			Action:    action,
			Version:   version,
			Method:    method,
			RequestID: rc.RequestID,
			Entry:     entry,
		}
		out, err := d.middleware(ctx, meta)
		if err != nil {
			rc.Record("middleware", err.Error(), nil, d.clock())
			return d.errorResponse(rc, apperrors.CodeMiddlewareFailed, "pre-validation middleware failed")
		}
		if out != nil && out.Abort {
			// Same structural contract as a handler abort: no response
			// means the middleware is broken, not the request.
			if out.Response == nil {
				rc.Record("middleware", "middleware abort is missing its response", nil, d.clock())
				return d.errorResponse(rc, apperrors.CodeMiddlewareFailed, "pre-validation middleware failed")
			}
			return out.Response
		}
	}

	schema, err := buildSchema(entry.Params, args)
	if err != nil {
		rc.Record("validation", err.Error(), nil, d.clock())
		return d.errorResponse(rc, codeOf(err), apperrors.Redact(err.Error()))
	}
	validated, err := d.validator.SanitizeValidate(ctx, schema)
	if err != nil {
		rc.Record("validation", err.Error(), nil, d.clock())
		return d.errorResponse(rc, apperrors.CodeValidationFailed, apperrors.Redact(err.Error()))
	}
	extra := extraArguments(d.validator, d.sigCache, entry.Params, args, validated)

	handlers, attempts, err := loadDependencies(ctx, d.loader, entry, d.retries, d.retryBase, d.logger)
	if err != nil {
		rc.Record("autoload", err.Error(), map[string]any{"attempts": attempts}, d.clock())
		return d.errorResponse(rc, apperrors.CodeAutoloadFailed,
			fmt.Sprintf("failed to load route dependencies after %d attempts", attempts))
	}

	input := buildPipelineInput(req, rc, validated, extra)

	response, failed := d.exec.run(ctx, handlers, input)
	if failed != nil {
		rc.Record("handler", failed.err.Error(), map[string]any{
			"handler_index": failed.index,
			"handler_name":  failed.name,
			"duration_ms":   failed.duration.Milliseconds(),
		}, d.clock())
		return d.errorResponse(rc, apperrors.CodeHandlerException, apperrors.Redact(failed.err.Error()))
	}
	return response
}

// checkEntry enforces the structural invariant of a resolved entry. The
// parameter list must not declare the same name twice; that is a
// configuration fault, not a caller mistake.
func checkEntry(entry *RouteEntry) error {
	seen := make(map[string]struct{}, len(entry.Params))
	for _, p := range entry.Params {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("route entry declares parameter %q twice", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// codeOf extracts the taxonomy code of a DispatchError, defaulting to
// CRITICAL_UNHANDLED_EXCEPTION for anything untyped.
func codeOf(err error) apperrors.Code {
	if de, ok := err.(*apperrors.DispatchError); ok {
		return de.Code
	}
	return apperrors.CodeCriticalUnhandled
}

// errorResponse builds the error envelope. Details is always an array, the
// message always passes redaction, and logging is best-effort.
func (d *Dispatcher) errorResponse(rc *RequestContext, code apperrors.Code, message string) *Response {
	details := rc.Errors
	if details == nil {
		details = []ErrorRecord{}
	}
	resp := &Response{
		OK:     false,
		Status: code.Status(),
		Error: &ErrorInfo{
			Code:      string(code),
			Message:   apperrors.Redact(message),
			Details:   details,
			Timestamp: d.clock(),
			RequestID: rc.RequestID,
		},
	}
	d.logger.Warn("request failed",
		slog.String("request_id", rc.RequestID),
		slog.String("code", string(code)),
		slog.Int("status", resp.Status))
	return resp
}
