package tracing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDHeader carries a caller supplied request id
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// RequestIDFromHeader keeps a caller supplied id when it is printable and
// short enough to log, otherwise a fresh id is generated.
func RequestIDFromHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxRequestIDLength {
		return GenerateRequestID()
	}
	for _, r := range value {
		if r < 0x21 || r > 0x7e {
			return GenerateRequestID()
		}
	}
	return value
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID returns the id stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}
