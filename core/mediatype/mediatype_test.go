package mediatype

import (
	"testing"

	"MediaGuard/model"
)

func TestValidateWhitelist(t *testing.T) {
	cases := []struct {
		name     string
		mime     string
		filename string
		wantOK   bool
		wantKind model.MediaKind
		wantMIME string
	}{
		{"mp3 audio", "audio/mpeg", "clip.mp3", true, model.KindAudio, "audio/mpeg"},
		{"upper-case ext", "audio/mpeg", "CLIP.MP3", true, model.KindAudio, "audio/mpeg"},
		{"mp4 video", "video/mp4", "movie.mp4", true, model.KindVideo, "video/mp4"},
		{"mkv video", "video/x-matroska", "a.b.mkv", true, model.KindVideo, "video/x-matroska"},
		{"opus audio", "audio/opus", "voice.opus", true, model.KindAudio, "audio/opus"},
		{"image mime", "image/png", "clip.mp3", false, "", ""},
		{"octet stream", "application/octet-stream", "clip.mp3", false, "", ""},
		{"empty mime", "", "clip.mp3", false, "", ""},
		{"unknown ext", "audio/mpeg", "clip.exe", false, "", ""},
		{"no ext", "audio/mpeg", "clip", false, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mime, kind, ok := Validate(tc.mime, tc.filename)
			if ok != tc.wantOK {
				t.Fatalf("Validate(%q, %q) ok=%v, want %v", tc.mime, tc.filename, ok, tc.wantOK)
			}
			if kind != tc.wantKind || mime != tc.wantMIME {
				t.Fatalf("got (%q, %q), want (%q, %q)", mime, kind, tc.wantMIME, tc.wantKind)
			}
		})
	}
}

func TestEveryWhitelistedExtensionAccepted(t *testing.T) {
	for _, ext := range Extensions() {
		mime, ok := Lookup("file" + ext)
		if !ok {
			t.Fatalf("extension %s not found", ext)
		}
		if _, _, ok := Validate(mime, "file"+ext); !ok {
			t.Fatalf("extension %s rejected with its canonical mime %s", ext, mime)
		}
		if _, _, ok := Validate("text/plain", "file"+ext); ok {
			t.Fatalf("extension %s accepted with text/plain", ext)
		}
	}
	if len(Extensions()) != 17 {
		t.Fatalf("expected 17 whitelisted extensions, got %d", len(Extensions()))
	}
}
