package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEpochSeconds(t *testing.T) {
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "string seconds", raw: `"1700000000"`},
		{name: "numeric seconds", raw: `1700000000`},
		{name: "padded string", raw: `" 1700000000 "`},
		{name: "empty", raw: ``, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "not a number", raw: `"yesterday"`, wantErr: true},
		{name: "fractional", raw: `1700000000.5`, wantErr: true},
		{name: "negative", raw: `"-5"`, wantErr: true},
		{name: "object", raw: `{"s":1}`, wantErr: true},
		{name: "zero", raw: `0`, wantErr: true},
		{name: "after year 9999", raw: `"999999999999"`, wantErr: true},
		{name: "overflows milliseconds", raw: `9300000000000000`, wantErr: true},
		{name: "beyond int64", raw: `"99999999999999999999"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEpochSeconds(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
		})
	}
}

func TestParseEpochSeconds_LastRepresentableInstant(t *testing.T) {
	got, err := ParseEpochSeconds(json.RawMessage(`253402300799`))
	require.NoError(t, err)
	assert.Equal(t, 9999, got.Year())

	_, err = json.Marshal(got)
	assert.NoError(t, err)

	_, err = ParseEpochSeconds(json.RawMessage(`253402300800`))
	assert.Error(t, err)
}

func TestSendMessageResponse_MessageID(t *testing.T) {
	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.A"}]}`), &resp))
	assert.Equal(t, "wamid.A", resp.MessageID())

	var empty SendMessageResponse
	assert.Equal(t, "", empty.MessageID())

	var nilResp *SendMessageResponse
	assert.Equal(t, "", nilResp.MessageID())
}
