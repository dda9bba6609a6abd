package constants

import "strings"

// DefaultMimeType is the fallback MIME type for unknown payloads
const DefaultMimeType = "application/octet-stream"

// MimeTypeToExtension maps MIME types to their primary file extensions
var MimeTypeToExtension = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",

	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/3gpp":      "3gp",

	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       "xlsx",
	"text/plain": "txt",

	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/wav":  "wav",
	"audio/aac":  "aac",
	"audio/mp4":  "m4a",
}

// ExtensionForMime returns the file extension for a MIME type, ignoring
// parameters such as "; codecs=opus". Unknown types map to "bin".
func ExtensionForMime(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if ext, ok := MimeTypeToExtension[base]; ok {
		return ext
	}
	return "bin"
}
