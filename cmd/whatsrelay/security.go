package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"whatsrelay/internal/constants"
)

// verifySignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the raw request body. An empty secret disables the check;
// production configs are rejected at load time without one.
func verifySignature(body []byte, header, secret string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return fmt.Errorf("missing signature header: %s", constants.WebhookSignatureHeader)
	}

	algo, signature, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(algo, "sha256") {
		return fmt.Errorf("invalid signature format in header %s", constants.WebhookSignatureHeader)
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

