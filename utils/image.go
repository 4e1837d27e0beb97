package utils

import (
	"path/filepath"
	"strings"
)

// DefaultImageTypes is the content-type allowlist used when configuration
// does not provide one.
var DefaultImageTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/webp",
	"image/bmp",
	"image/gif",
}

// IsValidImageType checks if the content type is in the allowed set. An
// empty allowed slice falls back to DefaultImageTypes.
func IsValidImageType(contentType string, allowed []string) bool {
	// Strip parameters like "; charset=binary"
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)

	if len(allowed) == 0 {
		allowed = DefaultImageTypes
	}
	for _, validType := range allowed {
		if strings.EqualFold(contentType, strings.TrimSpace(validType)) {
			return true
		}
	}

	return false
}

// IsValidImageExtension checks the file extension against the accepted set
func IsValidImageExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif":
		return true
	}
	return false
}
