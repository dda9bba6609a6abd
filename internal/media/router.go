// Package media classifies outbound attachments into the kinds the
// providers accept and knows the per-kind WhatsApp size limits.
package media

import (
	"net/url"
	"path"
	"strings"

	"leadwire/internal/constants"
	"leadwire/pkg/provider/types"
)

// Router provides centralized media kind detection and size limits.
type Router interface {
	// Kind infers the media kind from a MIME type, falling back to the
	// extension of name (a file name or URL). Unknown files are documents.
	Kind(mimeType, name string) types.MediaKind
	// MaxSize returns the maximum decoded payload size for kind.
	MaxSize(kind types.MediaKind) int64
}

// Limits holds per-kind size limits in megabytes.
type Limits struct {
	Image    int
	Video    int
	Audio    int
	Document int
}

// DefaultLimits are the WhatsApp attachment limits.
func DefaultLimits() Limits {
	return Limits{Image: 5, Video: 16, Audio: 16, Document: 100}
}

type router struct {
	limits     Limits
	extensions map[string]types.MediaKind
}

func NewRouter(limits Limits) Router {
	def := DefaultLimits()
	if limits.Image <= 0 {
		limits.Image = def.Image
	}
	if limits.Video <= 0 {
		limits.Video = def.Video
	}
	if limits.Audio <= 0 {
		limits.Audio = def.Audio
	}
	if limits.Document <= 0 {
		limits.Document = def.Document
	}

	ext := make(map[string]types.MediaKind, len(constants.MimeTypeToExtension))
	for mimeType, e := range constants.MimeTypeToExtension {
		ext[e] = kindOfMime(mimeType)
	}
	// extensions without a primary MIME entry
	for _, e := range []string{"jpeg", "heic"} {
		ext[e] = types.MediaImage
	}
	for _, e := range []string{"opus", "oga"} {
		ext[e] = types.MediaAudio
	}
	ext["mkv"] = types.MediaVideo
	return &router{limits: limits, extensions: ext}
}

func (r *router) Kind(mimeType, name string) types.MediaKind {
	if k := kindOfMime(mimeType); k != types.MediaDocument {
		return k
	}
	if mimeType != "" && !strings.HasPrefix(strings.ToLower(mimeType), "application/octet-stream") {
		return types.MediaDocument
	}
	if k, ok := r.extensions[extension(name)]; ok {
		return k
	}
	return types.MediaDocument
}

func (r *router) MaxSize(kind types.MediaKind) int64 {
	mb := r.limits.Document
	switch kind {
	case types.MediaImage:
		mb = r.limits.Image
	case types.MediaVideo:
		mb = r.limits.Video
	case types.MediaAudio:
		mb = r.limits.Audio
	}
	return int64(mb) * constants.BytesPerMegabyte
}

func kindOfMime(mimeType string) types.MediaKind {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(m, "image/"):
		return types.MediaImage
	case strings.HasPrefix(m, "video/"):
		return types.MediaVideo
	case strings.HasPrefix(m, "audio/"):
		return types.MediaAudio
	default:
		return types.MediaDocument
	}
}

// extension returns the lowercased extension of a file name or URL path,
// without the dot.
func extension(name string) string {
	if u, err := url.Parse(name); err == nil && u.Scheme != "" {
		name = u.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// DecodedSize estimates the byte size of a base64 payload or data URI.
func DecodedSize(data string) int64 {
	if _, payload, ok := types.DataURIPrefix(data); ok {
		data = payload
	}
	n := int64(len(data)) * 3 / 4
	switch {
	case strings.HasSuffix(data, "=="):
		n -= 2
	case strings.HasSuffix(data, "="):
		n--
	}
	return n
}
