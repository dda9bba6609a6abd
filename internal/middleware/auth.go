package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/tracing"

	"github.com/gorilla/mux"
)

// APIKeyHeader carries the operator key; "Authorization: Bearer <key>"
// is accepted too, and websocket upgrades may pass ?api_key=.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests without the configured key. An empty key
// disables the check, which config validation forbids in production.
func APIKey(key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presentedKey(r)), []byte(key)) != 1 {
				writeError(w, apperrors.New(apperrors.ErrCodeUnauthorized, "missing or invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return k
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// browsers cannot set headers on websocket upgrades
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatusCode(err))
	_ = json.NewEncoder(w).Encode(apperrors.ToHTTPResponse(err, w.Header().Get(tracing.RequestIDHeader)))
}
