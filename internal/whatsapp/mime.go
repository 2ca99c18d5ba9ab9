package whatsapp

import (
	"path/filepath"
	"strings"
)

const genericMimeType = "application/octet-stream"

// mimeTypes maps lowercase filename extensions to MIME types. Unknown
// extensions fall back to a generic binary type.
var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"mp4":  "video/mp4",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"txt":  "text/plain",
}

// mimeTypeForFilename derives a MIME type from the filename extension.
func mimeTypeForFilename(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return genericMimeType
}
