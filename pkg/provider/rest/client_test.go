package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "leadwire/internal/errors"
	"leadwire/pkg/circuitbreaker"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestClient_DoSendsHeadersAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/message/sendText/inst", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["text"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"MSG1"}}`))
	}))
	defer server.Close()

	c := New(Config{Provider: "evolution", BaseURL: server.URL + "/", Timeout: time.Second, Headers: map[string]string{"apikey": "secret"}, Logger: quietLogger()})

	var out struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	err := c.Do(context.Background(), http.MethodPost, "/message/sendText/inst", map[string]string{"text": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "MSG1", out.Key.ID)
}

func TestClient_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      apperrors.ErrorCode
		retryable bool
	}{
		{"server error", http.StatusBadGateway, `{"message":"upstream down"}`, apperrors.ErrCodeProvider, true},
		{"bad request", http.StatusBadRequest, `{"error":"missing field"}`, apperrors.ErrCodeProvider, false},
		{"invalid number text", http.StatusBadRequest, `{"message":"the number is not on WhatsApp"}`, apperrors.ErrCodeInvalidNumber, false},
		{"evolution exists false", http.StatusBadRequest, `{"status":400,"response":{"message":[{"exists": false,"jid":"5511@s.whatsapp.net"}]}}`, apperrors.ErrCodeInvalidNumber, false},
		{"throttled", http.StatusTooManyRequests, `slow down`, apperrors.ErrCodeProvider, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := New(Config{Provider: "uazapi", BaseURL: server.URL, Timeout: time.Second, Logger: quietLogger()})
			err := c.Do(context.Background(), http.MethodPost, "/send/text", map[string]string{}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestClient_TimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := New(Config{Provider: "evolution", BaseURL: server.URL, Timeout: 50 * time.Millisecond, Logger: quietLogger()})
	err := c.Do(context.Background(), http.MethodGet, "/instance/connectionState/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderTimeout, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestClient_BreakerOpensOnRetryableFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	breaker := circuitbreaker.New("inst", 2, time.Minute, Retryable, quietLogger())
	c := New(Config{Provider: "evolution", BaseURL: server.URL, Timeout: time.Second, Breaker: breaker, Logger: quietLogger()})

	for i := 0; i < 3; i++ {
		err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestClient_RawMessageOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"instance":{"state":"open"}}`))
	}))
	defer server.Close()

	c := New(Config{Provider: "evolution", BaseURL: server.URL, Logger: quietLogger()})
	var raw json.RawMessage
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/s", nil, &raw))
	assert.JSONEq(t, `{"instance":{"state":"open"}}`, string(raw))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", ErrorMessage([]byte(`{"message":"boom"}`)))
	assert.Equal(t, "bad", ErrorMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "plain text", ErrorMessage([]byte(`plain text`)))
	assert.Equal(t, `["a"]`, ErrorMessage([]byte(`{"response":{"message":["a"]}}`)))
}
