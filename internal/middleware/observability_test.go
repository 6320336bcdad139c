package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatsrelay/internal/metrics"
	"whatsrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)
	return logger, &buf
}

func TestObservability_AssignsRequestID(t *testing.T) {
	logger, buf := bufferedLogger()

	var seen string
	router := mux.NewRouter()
	router.Use(Observability(logger, false))
	router.HandleFunc("/api/chats/{wa_id}", func(w http.ResponseWriter, r *http.Request) {
		seen = tracing.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/chats/{wa_id}", "200"))

	req := httptest.NewRequest(http.MethodGet, "/api/chats/256700", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, seen)
	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, rec.Header().Get(tracing.RequestIDHeader))

	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/chats/{wa_id}", "200"))
	assert.Equal(t, before+1, after, "metrics use the route template, not the raw path")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "HTTP request completed", line["msg"])
	assert.Equal(t, "/api/chats/{wa_id}", line["route"])
	assert.Equal(t, float64(2), line["response_size"])
	assert.NotContains(t, buf.String(), "256700")
}

func TestObservability_KeepsCallerRequestID(t *testing.T) {
	logger, _ := bufferedLogger()
	handler := Observability(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "upstream-42", tracing.GetRequestID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(tracing.RequestIDHeader, "upstream-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-42", rec.Header().Get(tracing.RequestIDHeader))
}

func TestObservability_LogLevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusBadRequest, "warning"},
		{http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := bufferedLogger()
			handler := Observability(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhook", nil))

			var line map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, float64(tt.status), line["status_code"])
			assert.Equal(t, unmatchedRoute, line["route"])
		})
	}
}

func TestResponseWrapper_FirstWriteHeaderWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("abc"))

	assert.Equal(t, http.StatusAccepted, rw.statusCode)
	assert.Equal(t, int64(3), rw.responseSize)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDetailedLogging_MasksSensitiveHeaders(t *testing.T) {
	logger, buf := bufferedLogger()
	handler := DetailedLogging(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"secret":"body"}`))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "***MASKED***")
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, `"body"`)
	assert.Contains(t, out, "application/json")
}

func TestDetailedLogging_SkipsPrefixes(t *testing.T) {
	logger, buf := bufferedLogger()
	called := false
	handler := DetailedLogging(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, called)
	assert.Empty(t, buf.String())
}

func TestDetailedLogging_ResponseHeaders(t *testing.T) {
	logger, buf := bufferedLogger()
	cfg := DefaultDetailedLoggingConfig()
	cfg.LogResponseHeaders = true
	handler := DetailedLogging(logger, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "session=abc")
		w.Header().Set("X-Custom", "visible")
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/chats", nil))

	out := buf.String()
	assert.Contains(t, out, "Detailed response logging")
	assert.Contains(t, out, "visible")
	assert.NotContains(t, out, "session=abc")
}
