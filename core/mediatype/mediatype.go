// Package mediatype holds the extension whitelist shared by ingestion and
// streaming.
package mediatype

import (
	"path/filepath"
	"strings"

	"MediaGuard/model"
)

// canonical maps a lower-case extension (with dot) to its canonical MIME type.
var canonical = map[string]string{
	// video
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".m4v":  "video/x-m4v",
	".flv":  "video/x-flv",
	// audio
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".weba": "audio/webm",
	".ogg":  "audio/ogg",
}

// Lookup returns the canonical MIME type for the extension of name.
func Lookup(name string) (string, bool) {
	mime, ok := canonical[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}

// Ext returns the lower-cased extension of name.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// KindOf derives the media kind from a MIME type's primary part.
func KindOf(mime string) (model.MediaKind, bool) {
	primary, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mime)), "/")
	switch primary {
	case "audio":
		return model.KindAudio, true
	case "video":
		return model.KindVideo, true
	}
	return "", false
}

// Validate accepts a declared MIME type and a file name only when the MIME
// primary part is audio or video and the extension is whitelisted. It returns
// the canonical MIME type of the extension and the kind of the declared type.
func Validate(declaredMIME, filename string) (string, model.MediaKind, bool) {
	kind, ok := KindOf(declaredMIME)
	if !ok {
		return "", "", false
	}
	mime, ok := Lookup(filename)
	if !ok {
		return "", "", false
	}
	return mime, kind, true
}

// Extensions lists the whitelisted extensions.
func Extensions() []string {
	out := make([]string, 0, len(canonical))
	for ext := range canonical {
		out = append(out, ext)
	}
	return out
}
