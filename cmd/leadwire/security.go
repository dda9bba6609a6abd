package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"leadwire/internal/constants"
)

// verifySignature reads the body (bounded by MaxWebhookBodyBytes) and checks
// the "sha256=<hex>" HMAC in headerName. An empty secret disables the check
// outside production.
func verifySignature(r *http.Request, secret, headerName string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxWebhookBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > constants.MaxWebhookBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", constants.MaxWebhookBodyBytes)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secret == "" {
		if os.Getenv("LEADWIRE_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	header := r.Header.Get(headerName)
	if header == "" {
		return nil, fmt.Errorf("missing signature header: %s", headerName)
	}
	algo, expected, ok := strings.Cut(header, "=")
	if !ok || strings.ToLower(algo) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", headerName)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(expected))) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return body, nil
}
