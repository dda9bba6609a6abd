// Package rest is the JSON-over-HTTP plumbing shared by provider variants:
// auth headers, bounded timeouts, error classification and per-instance
// circuit breaking.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "leadwire/internal/errors"
	"leadwire/pkg/circuitbreaker"
)

const maxResponseBytes = 64 << 20

var tracer = otel.Tracer("leadwire/provider")

// Config configures a Client.
type Config struct {
	Provider   string
	BaseURL    string
	Timeout    time.Duration
	Headers    map[string]string
	Breaker    *circuitbreaker.CircuitBreaker
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client performs JSON calls against one vendor REST surface.
type Client struct {
	provider string
	baseURL  string
	timeout  time.Duration
	headers  map[string]string
	breaker  *circuitbreaker.CircuitBreaker
	http     *http.Client
	logger   *logrus.Logger
}

// New creates a Client. A nil HTTPClient gets one with cfg.Timeout.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:  cfg.Timeout,
		headers:  cfg.Headers,
		breaker:  cfg.Breaker,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

// WithHeader returns a copy of the client that sends key: value on every call.
func (c *Client) WithHeader(key, value string) *Client {
	clone := *c
	clone.headers = make(map[string]string, len(c.headers)+1)
	for k, v := range c.headers {
		clone.headers[k] = v
	}
	clone.headers[key] = value
	return &clone
}

// Do sends body as JSON and decodes a 2xx response into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.DoWithTimeout(ctx, c.timeout, method, path, body, out)
}

// DoWithTimeout is Do with a per-call timeout, used for long media downloads.
func (c *Client) DoWithTimeout(ctx context.Context, timeout time.Duration, method, path string, body, out interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, c.provider+" "+method+" "+path)
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.name", c.provider),
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	call := func(ctx context.Context) error {
		return c.do(ctx, method, path, body, out)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
		if circuitbreaker.IsOpen(err) {
			err = apperrors.WrapRetryable(err, apperrors.ErrCodeProvider, c.provider+" circuit open").
				WithContext("provider", c.provider).
				WithContext("endpoint", path)
		}
	} else {
		err = call(ctx)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewTransportError(c.provider, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.NewTransportError(c.provider, path, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.WithFields(logrus.Fields{
		"provider":    c.provider,
		"method":      method,
		"endpoint":    path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Provider call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classify(path, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = append((*rawOut)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeProvider, "failed to decode provider response").
			WithContext("provider", c.provider).
			WithContext("endpoint", path)
	}
	return nil
}

func (c *Client) classify(path string, status int, raw []byte) error {
	msg := ErrorMessage(raw)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if IsInvalidNumberMessage(msg) || IsInvalidNumberMessage(string(raw)) {
		return apperrors.New(apperrors.ErrCodeInvalidNumber, "number is not registered on WhatsApp").
			WithContext("provider", c.provider).
			WithContext("endpoint", path)
	}
	return apperrors.NewProviderError(c.provider, path, status, fmt.Errorf("status %d: %s", status, msg))
}

// ErrorMessage extracts the human readable part of a vendor error body.
func ErrorMessage(raw []byte) string {
	var body struct {
		Message  json.RawMessage `json:"message"`
		Error    json.RawMessage `json:"error"`
		Response struct {
			Message json.RawMessage `json:"message"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, candidate := range []json.RawMessage{body.Response.Message, body.Message, body.Error} {
		if len(candidate) == 0 {
			continue
		}
		var s string
		if json.Unmarshal(candidate, &s) == nil {
			if s != "" {
				return s
			}
			continue
		}
		return string(candidate)
	}
	return ""
}

// IsInvalidNumberMessage reports whether an error text means the
// destination is not a WhatsApp account.
func IsInvalidNumberMessage(msg string) bool {
	m := strings.ToLower(msg)
	compact := strings.ReplaceAll(m, " ", "")
	return strings.Contains(m, "not on whatsapp") ||
		strings.Contains(m, "invalid number") ||
		strings.Contains(m, "not exists") ||
		strings.Contains(compact, `"exists":false`)
}

// Retryable is the circuit breaker failure predicate: only errors worth
// retrying say anything about the health of the remote instance.
func Retryable(err error) bool {
	return apperrors.IsRetryable(err)
}
