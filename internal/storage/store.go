// Package storage persists decoded media and hands out signed URLs for it.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"leadwire/internal/constants"
	apperrors "leadwire/internal/errors"
	"leadwire/internal/security"
	"leadwire/pkg/provider/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTooLarge is returned when a decoded payload exceeds the size limit.
	ErrTooLarge = stderrors.New("media exceeds maximum upload size")
	// ErrInvalidSignature is returned for missing, tampered or expired URLs.
	ErrInvalidSignature = stderrors.New("invalid or expired media signature")
	// ErrUnavailable is returned when no blob store is configured.
	ErrUnavailable = stderrors.New("blob storage unavailable")
)

// BlobStore uploads a base64 payload (raw or data URI) and returns a
// signed URL for it.
type BlobStore interface {
	Upload(ctx context.Context, data, mimeType, keyHint string) (string, error)
}

type Config struct {
	Dir      string
	BaseURL  string
	Secret   string
	MaxBytes int64
	URLTTL   time.Duration
}

// LocalStore keeps media on the local filesystem under Dir.
type LocalStore struct {
	dir      string
	baseURL  string
	secret   []byte
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

func NewLocalStore(cfg Config, logger *logrus.Logger) (*LocalStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = constants.DefaultStorageDir
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = constants.DefaultMaxUploadMB * constants.BytesPerMegabyte
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = constants.DefaultSignedURLTTLSec * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if cfg.Secret == "" {
		logger.Warn("Storage signing secret not set; using a per-process random secret")
		cfg.Secret = uuid.NewString() + uuid.NewString()
	}

	return &LocalStore{
		dir:      cfg.Dir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		secret:   []byte(cfg.Secret),
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.URLTTL,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Upload decodes data and writes it to YYYY/MM/<key>/<unixms>_<rand>.<ext>.
func (s *LocalStore) Upload(ctx context.Context, data, mimeType, keyHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload := data
	if uriMime, body, ok := types.DataURIPrefix(data); ok {
		payload = body
		if mimeType == "" {
			mimeType = uriMime
		}
	}
	if mimeType == "" {
		mimeType = constants.DefaultMimeType
	}

	// Cheap pre-check on the encoded length before decoding.
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > s.maxBytes+2 {
		return "", apperrors.NewStorageError("upload", ErrTooLarge)
	}

	raw, err := decodeBase64(payload)
	if err != nil {
		return "", apperrors.NewStorageError("decode", err)
	}
	if int64(len(raw)) > s.maxBytes {
		return "", apperrors.NewStorageError("upload", ErrTooLarge)
	}

	now := s.now().UTC()
	rel := fmt.Sprintf("%04d/%02d/%s/%d_%s.%s", now.Year(), int(now.Month()), sanitizeKey(keyHint),
		now.UnixMilli(), uuid.NewString()[:8], constants.ExtensionForMime(mimeType))

	full, err := security.ResolveWithin(s.dir, rel)
	if err != nil {
		return "", apperrors.NewStorageError("path", err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", apperrors.NewStorageError("mkdir", err)
	}
	if err := os.WriteFile(full, raw, 0o600); err != nil {
		return "", apperrors.NewStorageError("write", err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":      rel,
		"bytes":     len(raw),
		"mime_type": mimeType,
	}).Debug("Stored media")

	return s.SignURL(rel), nil
}

// SignURL returns base_url/media/<rel>?expires=<unix>&sig=<hmac>.
func (s *LocalStore) SignURL(rel string) string {
	expires := s.now().Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(rel, expires))
	return s.baseURL + "/media/" + rel + "?" + q.Encode()
}

// Verify checks the signature and expiry of a media path.
func (s *LocalStore) Verify(rel, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || sig == "" {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrInvalidSignature
	}
	expected := s.sign(rel, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Path resolves a relative media path to its location on disk.
func (s *LocalStore) Path(rel string) (string, error) {
	return security.ResolveWithin(s.dir, rel)
}

func (s *LocalStore) sign(rel string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(rel))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Cleanup removes files older than maxAge and returns how many were deleted.
func (s *LocalStore) Cleanup(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove old file: %w", err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func sanitizeKey(hint string) string {
	var b strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	key := b.String()
	if strings.Trim(key, "_") == "" {
		return "misc"
	}
	if len(key) > 64 {
		key = key[:64]
	}
	return key
}
