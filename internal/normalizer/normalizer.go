// Package normalizer turns parsed webhook entries into the UnifiedMessage
// handed to the conversation resolver, resolving attachments to a URL the
// CRM can render.
package normalizer

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/metrics"
	"leadwire/internal/models"
	"leadwire/internal/privacy"
	"leadwire/internal/storage"
	"leadwire/internal/webhook"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

// Media resolution branches, in chain order.
const (
	BranchInline        = "inline"
	BranchURL           = "url"
	BranchProviderFetch = "provider_fetch"
	BranchThumbnail     = "thumbnail"
	BranchUpload        = "upload"
	BranchDataURI       = "data_uri"
	BranchOriginalURL   = "original_url"
	BranchNone          = "none"
)

const thumbnailMime = "image/jpeg"

// MediaFetcher downloads the decrypted bytes of a received attachment.
// types.Provider satisfies it.
type MediaFetcher interface {
	FetchRawMedia(ctx context.Context, ref types.MediaRef) (*types.RawMedia, error)
}

type Normalizer struct {
	store        storage.BlobStore
	fetchTimeout time.Duration
	logger       *logrus.Logger
}

// New returns a Normalizer uploading through store. A nil store makes
// every upload fail, so decoded payloads degrade to data URIs.
func New(store storage.BlobStore, fetchTimeout time.Duration, logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.New()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = time.Duration(constants.DefaultMediaFetchTimeoutSec) * time.Second
	}
	return &Normalizer{store: store, fetchTimeout: fetchTimeout, logger: logger}
}

// Normalize returns the entry's message with MediaURL resolved. It never
// fails: the worst case is the original, possibly unreadable, URL.
// fetcher may be nil when no provider client could be built.
func (n *Normalizer) Normalize(ctx context.Context, provider types.Variant, entry webhook.Entry, fetcher MediaFetcher) models.UnifiedMessage {
	msg := entry.Message
	if entry.Media == nil {
		return msg
	}

	res := n.resolve(ctx, msg, entry.Media, fetcher)
	msg.MediaURL = res.url
	if res.mimeType != "" {
		msg.MimeType = res.mimeType
	}

	metrics.RecordMediaResolution(string(provider), res.branch)
	n.logger.WithFields(privacy.Fields(logrus.Fields{
		"provider":     provider,
		"instance":     msg.InstanceName,
		"message_id":   msg.ProviderMessageID,
		"content_type": msg.ContentType,
		"branch":       res.branch,
		"source":       res.source,
	})).Debug("Resolved message media")
	return msg
}

type resolution struct {
	url      string
	mimeType string
	// branch is how the final URL was produced; source is where the
	// payload came from when one was decoded.
	branch string
	source string
}

func (n *Normalizer) resolve(ctx context.Context, msg models.UnifiedMessage, src *webhook.MediaSource, fetcher MediaFetcher) resolution {
	payload, mimeType, source := "", src.MimeType, ""

	switch {
	case src.Inline != "":
		payload, source = src.Inline, BranchInline
	case src.URL != "" && !src.Encrypted:
		return resolution{url: src.URL, mimeType: mimeType, branch: BranchURL}
	case fetcher != nil:
		if raw := n.fetch(ctx, msg, src, fetcher); raw != nil {
			payload, source = raw.Base64, BranchProviderFetch
			if raw.MimeType != "" {
				mimeType = raw.MimeType
			}
		}
	}

	if payload == "" && src.Thumbnail != "" {
		payload, mimeType, source = src.Thumbnail, thumbnailMime, BranchThumbnail
	}
	if payload == "" {
		if src.URL != "" {
			return resolution{url: src.URL, mimeType: mimeType, branch: BranchOriginalURL}
		}
		return resolution{branch: BranchNone}
	}

	if dataMime, _, ok := types.DataURIPrefix(payload); ok && dataMime != "" {
		mimeType = dataMime
	}

	url, err := n.upload(ctx, msg, payload, mimeType)
	if err == nil {
		return resolution{url: url, mimeType: mimeType, branch: BranchUpload, source: source}
	}
	tooLarge := stderrors.Is(err, storage.ErrTooLarge)

	// A failed full-size upload retries with the thumbnail.
	if source != BranchThumbnail && src.Thumbnail != "" {
		if url, terr := n.upload(ctx, msg, src.Thumbnail, thumbnailMime); terr == nil {
			return resolution{url: url, mimeType: thumbnailMime, branch: BranchUpload, source: BranchThumbnail}
		}
		payload, mimeType, source, tooLarge = src.Thumbnail, thumbnailMime, BranchThumbnail, false
	}

	// Oversized payloads are never inlined into the message row.
	if tooLarge {
		if src.URL != "" {
			return resolution{url: src.URL, mimeType: mimeType, branch: BranchOriginalURL, source: source}
		}
		return resolution{branch: BranchNone, source: source}
	}
	return resolution{url: dataURI(payload, mimeType), mimeType: mimeType, branch: BranchDataURI, source: source}
}

func (n *Normalizer) fetch(ctx context.Context, msg models.UnifiedMessage, src *webhook.MediaSource, fetcher MediaFetcher) *types.RawMedia {
	fctx, cancel := context.WithTimeout(ctx, n.fetchTimeout)
	defer cancel()

	raw, err := fetcher.FetchRawMedia(fctx, src.Ref)
	if err != nil {
		n.logger.WithError(err).WithFields(privacy.Fields(logrus.Fields{
			"instance":   msg.InstanceName,
			"message_id": src.Ref.MessageID,
		})).Warn("Raw media fetch failed")
		return nil
	}
	if raw == nil || raw.Base64 == "" {
		n.logger.WithFields(privacy.Fields(logrus.Fields{
			"instance":   msg.InstanceName,
			"message_id": src.Ref.MessageID,
		})).Debug("Raw media fetch returned no payload")
		return nil
	}
	return raw
}

func (n *Normalizer) upload(ctx context.Context, msg models.UnifiedMessage, payload, mimeType string) (string, error) {
	if n.store == nil {
		return "", storage.ErrUnavailable
	}
	url, err := n.store.Upload(ctx, payload, mimeType, msg.InstanceName)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"instance":  msg.InstanceName,
			"mime_type": mimeType,
		}).Warn("Media upload failed")
		return "", err
	}
	return url, nil
}

func dataURI(payload, mimeType string) string {
	if strings.HasPrefix(payload, "data:") {
		return payload
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + payload
}
