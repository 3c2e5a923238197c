package constants

import "strings"

// MaxUploadBytes caps a single ingested file.
const MaxUploadBytes = 10 << 20

// MaxFetchBytes caps the body read from a product URL.
const MaxFetchBytes = 4 << 20

// AllowedExtensions holds the file extensions accepted for file ingestion.
var AllowedExtensions = map[string]struct{}{
	"txt":  {},
	"csv":  {},
	"json": {},
	"md":   {},
	"html": {},
	"htm":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// IsHTMLExt reports whether ext carries markup that needs text extraction.
func IsHTMLExt(ext string) bool {
	switch NormalizeExt(ext) {
	case "html", "htm":
		return true
	}
	return false
}
