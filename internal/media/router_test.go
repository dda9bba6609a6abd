package media

import (
	"testing"

	"leadwire/internal/constants"
	"leadwire/pkg/provider/types"

	"github.com/stretchr/testify/assert"
)

func TestRouter_Kind(t *testing.T) {
	router := NewRouter(DefaultLimits())

	tests := []struct {
		name     string
		mimeType string
		file     string
		want     types.MediaKind
	}{
		{"image mime", "image/png", "", types.MediaImage},
		{"mime with params", "audio/ogg; codecs=opus", "", types.MediaAudio},
		{"uppercase mime", "VIDEO/MP4", "", types.MediaVideo},
		{"mime wins over extension", "application/pdf", "scan.jpg", types.MediaDocument},
		{"extension when mime empty", "", "Photo.JPG", types.MediaImage},
		{"extension when octet-stream", "application/octet-stream", "clip.mp4", types.MediaVideo},
		{"url path", "", "https://cdn.example.com/a/clip.mov?sig=abc", types.MediaVideo},
		{"voice note extension", "", "note.opus", types.MediaAudio},
		{"unknown extension", "", "archive.zip", types.MediaDocument},
		{"nothing known", "", "", types.MediaDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.Kind(tt.mimeType, tt.file))
		})
	}
}

func TestRouter_MaxSize(t *testing.T) {
	router := NewRouter(DefaultLimits())

	assert.Equal(t, int64(5*constants.BytesPerMegabyte), router.MaxSize(types.MediaImage))
	assert.Equal(t, int64(16*constants.BytesPerMegabyte), router.MaxSize(types.MediaVideo))
	assert.Equal(t, int64(16*constants.BytesPerMegabyte), router.MaxSize(types.MediaAudio))
	assert.Equal(t, int64(100*constants.BytesPerMegabyte), router.MaxSize(types.MediaDocument))
}

func TestRouter_PartialLimitsUseDefaults(t *testing.T) {
	router := NewRouter(Limits{Image: 1})

	assert.Equal(t, int64(constants.BytesPerMegabyte), router.MaxSize(types.MediaImage))
	assert.Equal(t, int64(16*constants.BytesPerMegabyte), router.MaxSize(types.MediaVideo))
}

func TestDecodedSize(t *testing.T) {
	assert.Equal(t, int64(3), DecodedSize("aW1n"))
	assert.Equal(t, int64(2), DecodedSize("aW0="))
	assert.Equal(t, int64(1), DecodedSize("aQ=="))
	assert.Equal(t, int64(3), DecodedSize("data:image/png;base64,aW1n"))
	assert.Equal(t, int64(0), DecodedSize(""))
}
