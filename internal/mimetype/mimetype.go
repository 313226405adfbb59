// Package mimetype is the static-file mime-type table collaborator named,
// but not specified, by the serving engine's scope (spec.md §1): "the
// static-file mime-type table" is explicitly out of scope for the core.
package mimetype

import (
	"path/filepath"
	"strings"
)

// defaultType is returned for unknown or missing extensions.
const defaultType = "text/plain"

var table = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".xml":  "application/xml",
	".woff": "font/woff",
	".woff2": "font/woff2",
}

// ForPath derives the content type from path's final extension, defaulting
// to text/plain when the extension is unknown or absent.
func ForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := table[ext]; ok {
		return t
	}
	return defaultType
}
