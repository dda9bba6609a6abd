package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"leadwire/internal/httputil"
	"leadwire/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls the debug dump of incoming requests.
type DetailedLoggingConfig struct {
	LogRequestBody   bool
	MaxBodySize      int
	SensitiveHeaders []string
	SkipPrefixes     []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		MaxBodySize: 2048,
		SensitiveHeaders: []string{
			"authorization", "x-api-key", "apikey", "token", "admintoken",
			"x-webhook-signature", "cookie",
		},
		SkipPrefixes: []string{"/metrics", "/health", "/media/", "/ws/"},
	}
}

// DetailedLogging logs headers, and optionally the body, of each request
// at debug level. It does nothing unless the logger is at debug level.
// Provider webhooks are the main use: their shapes drift between versions.
func DetailedLogging(logger *logrus.Logger, config DetailedLoggingConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipped(r.URL.Path, config.SkipPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			fields := tracing.Fields(r.Context())
			fields["method"] = r.Method
			fields["url"] = r.URL.Path
			fields["remote_ip"] = httputil.ClientIP(r)
			fields["content_length"] = r.ContentLength
			fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)

			if config.LogRequestBody && isTextBody(r) && r.Body != nil {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					if len(body) > config.MaxBodySize {
						fields["request_body"] = string(body[:config.MaxBodySize]) + "...(truncated)"
					} else {
						fields["request_body"] = string(body)
					}
				}
			}

			logger.WithFields(fields).Debug("Request details")
			next.ServeHTTP(w, r)
		})
	}
}

func skipped(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func maskHeaders(h http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			out[name] = "***MASKED***"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func isTextBody(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.Contains(ct, "json") || strings.HasPrefix(ct, "text/")
}
