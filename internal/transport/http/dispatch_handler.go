package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/render"
	json "github.com/goccy/go-json"

	"relaycore/internal/dispatch"
)

// maxBodyBytes bounds how much request body the bridge will buffer.
const maxBodyBytes = 10 * 1024 * 1024

// DispatchHandler translates HTTP requests into dispatch descriptors.
type DispatchHandler struct {
	core   *dispatch.Dispatcher
	logger *slog.Logger
}

// NewDispatchHandler creates the bridge handler around a dispatcher.
func NewDispatchHandler(core *dispatch.Dispatcher, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		core:   core,
		logger: logger.With(slog.String("handler", "dispatch")),
	}
}

// ServeHTTP handles any method on the dispatch endpoint.
func (h *DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &dispatch.Request{
		Method:  r.Method,
		Query:   queryToMap(r.URL.Query()),
		Body:    h.bodyToMap(r),
		Headers: headersToMap(r.Header),
		Context: map[string]any{
			"remoteAddr": r.RemoteAddr,
			"userAgent":  r.UserAgent(),
		},
	}

	resp := h.core.Handle(r.Context(), req)
	render.Status(r, resp.Status)
	render.JSON(w, r, resp)
}

// queryToMap flattens url.Values: single values become strings, repeated
// keys become arrays.
func queryToMap(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		arr := make([]any, len(vs))
		for i, v := range vs {
			arr[i] = v
		}
		out[k] = arr
	}
	return out
}

// bodyToMap decodes a JSON object body; anything else yields an empty map.
// Malformed bodies are not a transport error: the core's validation reports
// missing parameters with a proper envelope.
func (h *DispatchHandler) bodyToMap(r *http.Request) map[string]any {
	if r.Body == nil || r.ContentLength == 0 {
		return map[string]any{}
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return map[string]any{}
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read request body", slog.String("error", err.Error()))
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		h.logger.WarnContext(r.Context(), "request body is not a JSON object", slog.String("error", err.Error()))
		return map[string]any{}
	}
	return body
}

func headersToMap(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k := range header {
		out[k] = header.Get(k)
	}
	return out
}
