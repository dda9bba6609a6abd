package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadwire/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(body, header string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", bytes.NewBufferString(body))
	if header != "" {
		req.Header.Set(constants.DefaultWebhookSignatureHeader, header)
	}
	return req
}

func TestVerifySignature(t *testing.T) {
	body := `{"event":"messages.upsert"}`
	valid := signed(body)[constants.DefaultWebhookSignatureHeader]

	tests := []struct {
		name    string
		header  string
		wantErr string
	}{
		{name: "valid", header: valid},
		{name: "uppercase hex", header: "sha256=" + strings.ToUpper(strings.TrimPrefix(valid, "sha256="))},
		{name: "missing", wantErr: "missing signature header"},
		{name: "no prefix", header: strings.TrimPrefix(valid, "sha256="), wantErr: "invalid signature format"},
		{name: "other algorithm", header: "sha1=abcd", wantErr: "invalid signature format"},
		{name: "mismatch", header: "sha256=00", wantErr: "signature mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(body, tt.header)
			got, err := verifySignature(req, testWebhookSecret, constants.DefaultWebhookSignatureHeader)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, string(got))

			again, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(again), "body is restored")
		})
	}
}

func TestVerifySignature_NoSecret(t *testing.T) {
	t.Setenv("LEADWIRE_ENV", "")
	got, err := verifySignature(signedRequest("{}", ""), "", constants.DefaultWebhookSignatureHeader)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	t.Setenv("LEADWIRE_ENV", "production")
	_, err = verifySignature(signedRequest("{}", ""), "", constants.DefaultWebhookSignatureHeader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required in production")
}

func TestVerifySignature_TooLarge(t *testing.T) {
	body := strings.Repeat("a", constants.MaxWebhookBodyBytes+1)
	_, err := verifySignature(signedRequest(body, ""), "", constants.DefaultWebhookSignatureHeader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}
