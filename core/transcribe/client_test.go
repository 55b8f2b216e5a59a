package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMedia(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

func TestClientTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcription/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("language"); got != "fr" {
			t.Errorf("language = %q", got)
		}
		if got := r.URL.Query().Get("word_timestamps"); got != "true" {
			t.Errorf("word_timestamps = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if string(body) != "audio-bytes" || header.Filename != "clip.mp3" {
			t.Errorf("unexpected upload %q %q", header.Filename, body)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/mpeg" {
			t.Errorf("part content type = %q", ct)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"language":             "fr",
			"language_probability": 0.98,
			"duration":             4.0,
			"segments": []any{
				map[string]any{"start": 0, "end": 2, "text": " bonjour ", "words": []any{
					map[string]any{"start": 0, "end": 1, "word": "bonjour"},
				}},
				map[string]any{"start": 2, "end": 4, "text": "monde"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/"})
	tr, err := client.Transcribe(context.Background(), Request{
		Path:     writeMedia(t, "audio-bytes"),
		Filename: "clip.mp3",
		MimeType: "audio/mpeg",
		Language: "fr",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Language != "fr" || tr.Duration != 4 || tr.LanguageProbability != 0.98 {
		t.Fatalf("unexpected transcript header %+v", tr)
	}
	if len(tr.Segments) != 2 || tr.Segments[0].Text != "bonjour" || tr.Segments[1].End != 4 {
		t.Fatalf("unexpected segments %+v", tr.Segments)
	}
	if len(tr.Segments[0].Words) != 1 || tr.Segments[0].Words[0].Word != "bonjour" {
		t.Fatalf("words not mapped: %+v", tr.Segments[0].Words)
	}
}

func TestClientTranscribeFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
		{
			name: "trailing garbage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"language":"en","segments":[{"start":0,"end":1,"text":"hi"}]}<html>502</html>`))
			},
		},
		{
			name: "empty segments",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"language":"en","segments":[]}`))
			},
			wantErr: ErrEmptyTranscript,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL})
			_, err := client.Transcribe(context.Background(), Request{Path: writeMedia(t, "x")})
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestClientTranscribeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	if _, err := client.Transcribe(context.Background(), Request{Path: writeMedia(t, "x")}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestClientTranscribeMissingFile(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := client.Transcribe(context.Background(), Request{Path: filepath.Join(t.TempDir(), "gone.mp3")}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
