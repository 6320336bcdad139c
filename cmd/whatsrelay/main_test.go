package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"whatsrelay/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)

	tests := []struct {
		name    string
		header  string
		secret  string
		wantErr string
	}{
		{name: "valid", header: sign(body), secret: testAppSecret},
		{name: "uppercase algorithm", header: "SHA256=" + sign(body)[len("sha256="):], secret: testAppSecret},
		{name: "no secret configured", header: "", secret: ""},
		{name: "missing header", header: "", secret: testAppSecret, wantErr: "missing signature header"},
		{name: "wrong algorithm", header: "sha1=abcdef", secret: testAppSecret, wantErr: "invalid signature format"},
		{name: "no separator", header: "deadbeef", secret: testAppSecret, wantErr: "invalid signature format"},
		{name: "not hex", header: "sha256=zz", secret: testAppSecret, wantErr: "invalid signature encoding"},
		{name: "wrong secret", header: sign(body), secret: "another-secret-another-secret-xx", wantErr: "signature mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(body, tt.header, tt.secret)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		want    logrus.Level
	}{
		{"configured warn", "warn", false, logrus.WarnLevel},
		{"invalid falls back to info", "loud", false, logrus.InfoLevel},
		{"verbose wins", "error", true, logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf)
			setLogLevel(logger, tt.level, tt.verbose)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestBreakerGauge(t *testing.T) {
	assert.Equal(t, float64(0), breakerGauge(circuitbreaker.StateClosed))
	assert.Equal(t, float64(1), breakerGauge(circuitbreaker.StateHalfOpen))
	assert.Equal(t, float64(2), breakerGauge(circuitbreaker.StateOpen))
}

func TestRunDiagnostics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "whatsapp:\n  verify_token: verify-me\n  access_token: token\n" +
		"tenants:\n  - name: shop\n    phone_number_id: \"1234567890\"\n" +
		"database:\n  driver: sqlite3\n  path: " + filepath.Join(dir, "relay.db") + "\n" +
		"media:\n  dir: " + filepath.Join(dir, "media") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var out bytes.Buffer
	require.NoError(t, runDiagnostics(context.Background(), path, &out))

	report := out.String()
	assert.Contains(t, report, "config: ok")
	assert.Contains(t, report, "tenants: 1 configured")
	assert.Contains(t, report, "database: ok (sqlite3)")
	assert.Contains(t, report, "tenant shop: table wa_1234567890_messages ok")
	assert.NotContains(t, report, "1234567890)", "phone ids are masked")
	assert.Contains(t, report, "warning: whatsapp.app_secret is empty")
}

func TestRunDiagnostics_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tenants":[]}`), 0o600))

	err := runDiagnostics(context.Background(), path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config:")
}
