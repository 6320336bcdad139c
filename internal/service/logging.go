package service

import (
	"context"

	"whatsrelay/internal/privacy"
	"whatsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerboseLogging marks ctx so that identifiers are logged unmasked
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// logEntry returns an entry carrying the request id and fields, with
// identifiers masked unless ctx asks for verbose logging.
func logEntry(ctx context.Context, logger logrus.FieldLogger, fields logrus.Fields) *logrus.Entry {
	if !IsVerboseLogging(ctx) {
		fields = logrus.Fields(privacy.MaskSensitiveFields(fields))
	}
	entry := logger.WithFields(fields)
	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		entry = entry.WithField(LogFieldRequestID, requestID)
	}
	return entry
}
