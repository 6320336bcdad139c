package middleware

import (
	"fmt"
	"net/http"
	"time"

	"whatsrelay/internal/httputil"
	"whatsrelay/internal/metrics"
	"whatsrelay/internal/service"
	"whatsrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const unmatchedRoute = "unmatched"

// Observability assigns a request id, opens the request span, records the
// HTTP metrics and logs request completion. The request id is taken from
// X-Request-ID when the caller supplies one and echoed on the response.
func Observability(logger logrus.FieldLogger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := RouteTemplate(r)
			clientIP := httputil.ClientIP(r, trustProxy)

			requestID := tracing.RequestIDFromHeader(r.Header.Get(tracing.RequestIDHeader))

			ctx, span := tracing.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, route),
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("client.address", clientIP),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String(service.LogFieldRequestID, requestID),
			)
			defer span.End()

			ctx = tracing.WithRequestID(ctx, requestID)
			r = r.WithContext(ctx)

			w.Header().Set(tracing.RequestIDHeader, requestID)
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			span.SetAttributes(
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			metrics.RecordHTTPRequest(r.Method, route, wrapper.statusCode, duration)

			level := logrus.InfoLevel
			switch {
			case wrapper.statusCode >= http.StatusInternalServerError:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= http.StatusBadRequest:
				level = logrus.WarnLevel
			case route == "/health" || route == "/metrics":
				level = logrus.DebugLevel
			}

			fields := logrus.Fields{
				service.LogFieldRequestID:  requestID,
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}
			if traceID := tracing.TraceID(ctx); traceID != "" {
				fields[service.LogFieldTraceID] = traceID
			}
			logger.WithFields(fields).Log(level, "HTTP request completed")
		})
	}
}

// RouteTemplate returns the mux path template of the matched route so that
// metric labels stay bounded; path variables such as {wa_id} are not expanded.
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return unmatchedRoute
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
