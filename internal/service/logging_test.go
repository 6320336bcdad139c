package service

import (
	"context"
	"testing"

	"whatsrelay/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVerboseLogging(t *testing.T) {
	assert.False(t, IsVerboseLogging(context.Background()))
	assert.True(t, IsVerboseLogging(WithVerboseLogging(context.Background(), true)))
	assert.False(t, IsVerboseLogging(WithVerboseLogging(context.Background(), false)))
}

func TestLogEntry(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		wantWaID  string
		wantMsgID string
	}{
		{"masked by default", false, "********3456", "wamid.********1234"},
		{"verbose keeps identifiers", true, "256700123456", "wamid.ABCDEFGH1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			ctx := tracing.WithRequestID(WithVerboseLogging(context.Background(), tt.verbose), "req_1")

			logEntry(ctx, logger, logrus.Fields{
				LogFieldWaID:      "256700123456",
				LogFieldMessageID: "wamid.ABCDEFGH1234",
				LogFieldTenant:    "shop",
			}).Info("handled")

			require.Len(t, hook.Entries, 1)
			data := hook.LastEntry().Data
			assert.Equal(t, tt.wantWaID, data[LogFieldWaID])
			assert.Equal(t, tt.wantMsgID, data[LogFieldMessageID])
			assert.Equal(t, "shop", data[LogFieldTenant])
			assert.Equal(t, "req_1", data[LogFieldRequestID])
		})
	}
}
