package middleware

import (
	"net/http"
	"strings"

	"whatsrelay/internal/httputil"
	"whatsrelay/internal/service"
	"whatsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls the debug request log enabled by -verbose.
// Request and response bodies are never logged: webhook bodies carry message
// text.
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool
	LogResponseHeaders bool
	SensitiveHeaders   []string
	SkipPrefixes       []string
	TrustProxy         bool
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders:  true,
		LogResponseHeaders: false,
		SensitiveHeaders: []string{
			"authorization", "cookie", "set-cookie",
			"x-hub-signature-256", "x-hub-signature",
		},
		SkipPrefixes: []string{"/metrics", "/health", "/media/"},
	}
}

// DetailedLogging writes one debug line per request with headers and, when
// configured, response headers. Sensitive headers are masked.
func DetailedLogging(logger logrus.FieldLogger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	sensitive := make(map[string]bool, len(config.SensitiveHeaders))
	for _, h := range config.SensitiveHeaders {
		sensitive[strings.ToLower(h)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range config.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				service.LogFieldMethod:    r.Method,
				service.LogFieldPath:      r.URL.Path,
				service.LogFieldRemoteIP:  httputil.ClientIP(r, config.TrustProxy),
				service.LogFieldUserAgent: r.Header.Get("User-Agent"),
				"content_length":          r.ContentLength,
				"protocol":                r.Proto,
			}
			if config.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, sensitive)
			}
			logger.WithFields(fields).Debug("Detailed request logging")

			if !config.LogResponseHeaders {
				next.ServeHTTP(w, r)
				return
			}

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)
			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
				service.LogFieldStatusCode: wrapper.statusCode,
				"response_headers":         maskHeaders(w.Header(), sensitive),
			}).Debug("Detailed response logging")
		})
	}
}

func maskHeaders(h http.Header, sensitive map[string]bool) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if sensitive[strings.ToLower(name)] {
			out[name] = "***MASKED***"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}
