package attachment

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"mingling-chat/internal/chat"
)

// documentTypes mirrors what the composer's file picker accepts.
var documentTypes = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".csv":  true,
	".md":   true,
	".json": true,
}

var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// DetectContentType guesses a MIME type, first by extension and then by
// sniffing the leading bytes.
func DetectContentType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct := mime.TypeByExtension(ext); ct != "" {
		if idx := strings.Index(ct, ";"); idx > 0 {
			ct = ct[:idx]
		}
		return ct
	}
	switch ext {
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	}
	if len(data) > 0 {
		ct := http.DetectContentType(data)
		if idx := strings.Index(ct, ";"); idx > 0 {
			ct = ct[:idx]
		}
		return ct
	}
	return "application/octet-stream"
}

// DetectKind picks image for renderable image types and file otherwise.
func DetectKind(name, contentType string) chat.Kind {
	if isImage(name, contentType) {
		return chat.KindImage
	}
	return chat.KindFile
}

func isImage(name, contentType string) bool {
	if imageTypes[strings.ToLower(contentType)] {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}

func isDocument(name, contentType string) bool {
	if documentTypes[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return strings.HasPrefix(contentType, "text/")
}
