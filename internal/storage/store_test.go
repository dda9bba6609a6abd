package storage

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "leadwire/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxBytes int64) *LocalStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s, err := NewLocalStore(Config{
		Dir:      t.TempDir(),
		BaseURL:  "https://crm.example.com/",
		Secret:   "test-secret",
		MaxBytes: maxBytes,
		URLTTL:   time.Hour,
	}, logger)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return s
}

func relFromURL(t *testing.T, signed string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	return strings.TrimPrefix(u.Path, "/media/"), u.Query()
}

func TestUpload_DataURIWritesLayout(t *testing.T) {
	s := newTestStore(t, 1024)
	payload := base64.StdEncoding.EncodeToString([]byte("fake-jpeg"))

	signed, err := s.Upload(context.Background(), "data:image/jpeg;base64,"+payload, "", "tenant/1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "https://crm.example.com/media/2026/03/tenant_1/"))

	rel, q := relFromURL(t, signed)
	assert.True(t, strings.HasSuffix(rel, ".jpg"))
	assert.NoError(t, s.Verify(rel, q.Get("expires"), q.Get("sig")))

	full, err := s.Path(rel)
	require.NoError(t, err)
	content, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "fake-jpeg", string(content))
}

func TestUpload_RawBase64AndUnknownMime(t *testing.T) {
	s := newTestStore(t, 1024)
	signed, err := s.Upload(context.Background(), base64.RawStdEncoding.EncodeToString([]byte("abcd1")), "", "")
	require.NoError(t, err)
	rel, _ := relFromURL(t, signed)
	assert.Contains(t, rel, "/misc/")
	assert.True(t, strings.HasSuffix(rel, ".bin"))
}

func TestUpload_TooLarge(t *testing.T) {
	s := newTestStore(t, 8)
	data := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64)))
	_, err := s.Upload(context.Background(), data, "image/png", "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorage))
}

func TestUpload_InvalidBase64(t *testing.T) {
	s := newTestStore(t, 1024)
	_, err := s.Upload(context.Background(), "***not base64***", "image/png", "k")
	assert.Error(t, err)
}

func TestVerify_RejectsTamperingAndExpiry(t *testing.T) {
	s := newTestStore(t, 1024)
	signed := s.SignURL("2026/03/k/1_a.png")
	rel, q := relFromURL(t, signed)

	assert.ErrorIs(t, s.Verify(rel, q.Get("expires"), "deadbeef"), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify("2026/03/k/2_a.png", q.Get("expires"), q.Get("sig")), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify(rel, "nope", q.Get("sig")), ErrInvalidSignature)

	s.now = func() time.Time { return time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC) }
	assert.ErrorIs(t, s.Verify(rel, q.Get("expires"), q.Get("sig")), ErrInvalidSignature)
}

func TestHandler_ServesSignedMedia(t *testing.T) {
	s := newTestStore(t, 1024)
	signed, err := s.Upload(context.Background(), base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), "application/pdf", "docs")
	require.NoError(t, err)
	u, _ := url.Parse(signed)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.Path, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCleanup_RemovesOldFiles(t *testing.T) {
	s := newTestStore(t, 1024)
	signed, err := s.Upload(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")), "image/png", "k")
	require.NoError(t, err)
	rel, _ := relFromURL(t, signed)
	full, _ := s.Path(rel)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(full, old, old))

	n, err := s.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(full)
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "misc", sanitizeKey(""))
	assert.Equal(t, "misc", sanitizeKey("../"))
	assert.Equal(t, "a_b-c", sanitizeKey("a/b-c"))
	assert.Len(t, sanitizeKey(strings.Repeat("k", 100)), 64)
	assert.Equal(t, filepath.Base(sanitizeKey("x")), "x")
}
