// Package classify decides how a file is treated when building a prompt.
// The result is advisory; no file type is rejected.
package classify

import (
	"path/filepath"
	"strings"
)

// Class is the prompt handling category of a file.
type Class string

const (
	Image  Class = "image"
	Text   Class = "text"
	Binary Class = "binary"
	Other  Class = "other"
)

var textMimeTypes = map[string]struct{}{
	"application/json":       {},
	"application/xml":        {},
	"application/javascript": {},
	"application/typescript": {},
	"application/x-yaml":     {},
	"application/yaml":       {},
	"application/sql":        {},
	"application/x-sh":       {},
	"application/toml":       {},
	"application/csv":        {},
}

var textExtensions = map[string]struct{}{
	"txt": {}, "md": {}, "markdown": {}, "csv": {}, "tsv": {}, "log": {},
	"json": {}, "xml": {}, "yaml": {}, "yml": {}, "toml": {}, "ini": {}, "cfg": {}, "conf": {}, "env": {},
	"html": {}, "htm": {}, "css": {}, "scss": {}, "sass": {}, "less": {},
	"js": {}, "jsx": {}, "ts": {}, "tsx": {}, "mjs": {}, "cjs": {}, "vue": {}, "svelte": {},
	"py": {}, "rb": {}, "php": {}, "java": {}, "kt": {}, "scala": {}, "go": {}, "rs": {}, "swift": {},
	"c": {}, "h": {}, "cpp": {}, "hpp": {}, "cc": {}, "cs": {}, "m": {}, "r": {}, "lua": {}, "pl": {}, "dart": {},
	"sh": {}, "bash": {}, "zsh": {}, "ps1": {}, "bat": {}, "sql": {}, "graphql": {}, "proto": {}, "tex": {}, "rst": {},
}

var binaryMimeTypes = map[string]struct{}{
	"application/pdf":               {},
	"application/msword":            {},
	"application/vnd.ms-excel":      {},
	"application/vnd.ms-powerpoint": {},
	"application/zip":               {},
	"application/x-zip-compressed":  {},
	"application/x-rar-compressed":  {},
	"application/vnd.rar":           {},
	"application/x-7z-compressed":   {},
	"application/x-tar":             {},
	"application/gzip":              {},
	"application/x-msdownload":      {},
	"application/x-executable":      {},
	"application/octet-stream":      {},
	"application/rtf":               {},
}

var binaryExtensions = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {}, "odt": {}, "ods": {}, "odp": {}, "rtf": {},
	"zip": {}, "rar": {}, "7z": {}, "tar": {}, "gz": {}, "bz2": {}, "xz": {},
	"exe": {}, "dll": {}, "so": {}, "dylib": {}, "bin": {}, "msi": {}, "dmg": {}, "apk": {}, "jar": {},
}

// Classify applies the rules in order: image MIME, text list, binary list.
func Classify(name, mimeType string) Class {
	mimeType = normalizeMime(mimeType)
	ext := extension(name)

	if strings.HasPrefix(mimeType, "image/") {
		return Image
	}
	if isText(mimeType, ext) {
		return Text
	}
	if isBinary(mimeType, ext) {
		return Binary
	}
	return Other
}

func isText(mimeType, ext string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	if _, ok := textMimeTypes[mimeType]; ok {
		return true
	}
	if strings.HasSuffix(mimeType, "+json") || strings.HasSuffix(mimeType, "+xml") {
		return true
	}
	_, ok := textExtensions[ext]
	return ok
}

func isBinary(mimeType, ext string) bool {
	if _, ok := binaryMimeTypes[mimeType]; ok {
		return true
	}
	if strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument.") ||
		strings.HasPrefix(mimeType, "application/vnd.oasis.opendocument.") {
		return true
	}
	_, ok := binaryExtensions[ext]
	return ok
}

// Category is the best guess used for files without dedicated handling.
func Category(mimeType string) string {
	top, _, _ := strings.Cut(normalizeMime(mimeType), "/")
	switch top {
	case "audio", "video", "application":
		return top
	default:
		return "other"
	}
}

// IsPDF reports whether the file is a PDF document.
func IsPDF(mimeType string) bool {
	return normalizeMime(mimeType) == "application/pdf"
}

func normalizeMime(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
