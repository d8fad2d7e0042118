package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaycore/internal/dispatch"
	"relaycore/internal/validation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	registry := dispatch.NewHandlerRegistry()
	require.NoError(t, registry.Register("users.get", func(_ context.Context, in *dispatch.PipelineInput) (*dispatch.HandlerOutput, error) {
		return &dispatch.HandlerOutput{Result: map[string]any{
			"userId": in.Validated().Field("userId").Int(),
			"agent":  in.Context().Field("userAgent").String(),
		}}, nil
	}))
	core, err := dispatch.NewDispatcher(dispatch.Options{
		Routes: dispatch.RouteConfig{{
			"users": {"get": &dispatch.RouteEntry{
				Params:   []dispatch.ParamDef{{Name: "userId", Type: "int", Required: true}},
				Handlers: []string{"users.get"},
			}},
		}},
		Validator:  validation.NewSanitizer(),
		AutoLoader: dispatch.NewRegistryAutoLoader(registry),
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	return core
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestQueryToMap(t *testing.T) {
	values := url.Values{
		"single": {"a"},
		"multi":  {"x", "y"},
	}
	out := queryToMap(values)
	assert.Equal(t, "a", out["single"])
	assert.Equal(t, []any{"x", "y"}, out["multi"])
}

func TestServeHTTPGetSuccess(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/dispatch?namespace=users&action=get&userId=42", nil)
	req.Header.Set("User-Agent", "relay-test")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["ok"])
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(42), data["userId"])
	assert.Equal(t, "relay-test", data["agent"])
}

func TestServeHTTPPostBodyWins(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodPost,
		"/api/dispatch?namespace=users&action=get&userId=1",
		strings.NewReader(`{"userId": "99"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(99), data["userId"])
}

func TestServeHTTPErrorEnvelope(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/dispatch?namespace=users&action=missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["ok"])
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "ROUTE_NOT_FOUND", errObj["code"])
	assert.NotEmpty(t, errObj["request_id"])
	_, isArray := errObj["details"].([]any)
	assert.True(t, isArray, "details must serialize as a JSON array")
}

func TestServeHTTPIgnoresNonJSONBody(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodPost,
		"/api/dispatch?namespace=users&action=get&userId=7",
		strings.NewReader("userId=99"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(7), data["userId"], "non-JSON bodies contribute nothing")
}

func TestServeHTTPMalformedJSONBody(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodPost,
		"/api/dispatch?namespace=users&action=get",
		strings.NewReader(`{"userId": `))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The broken body is dropped, so the required parameter is missing.
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errObj := decodeEnvelope(t, rec)["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_FAILED", errObj["code"])
}

func TestServeHTTPMethodNotAllowed(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/dispatch?namespace=users&action=get", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(newTestCore(t), discardLogger())

	// Generate one sample first.
	warm := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_http_requests_total")
}
