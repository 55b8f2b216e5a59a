package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"MediaGuard/model"
)

func chatServer(t *testing.T, content string, check func(r *http.Request, req chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func TestLLMClassifierAnalyze(t *testing.T) {
	server := chatServer(t, `{"isExtremist": true, "confidence": 0.9, "reasoning": "calls for violence"}`,
		func(r *http.Request, req chatRequest) {
			if got := r.Header.Get("Authorization"); got != "Bearer secret" {
				t.Errorf("authorization = %q", got)
			}
			if req.Model != "demo" || req.Temperature != 0.3 || req.MaxTokens != 200 {
				t.Errorf("unexpected request %+v", req)
			}
			if len(req.Messages) != 1 || !strings.HasSuffix(req.Messages[0].Content, "burn it down") {
				t.Errorf("unexpected messages %+v", req.Messages)
			}
		})
	defer server.Close()

	c := NewLLMClassifier(NewChatClient(ChatConfig{BaseURL: server.URL, APIKey: "secret", Model: "demo"}))
	v, err := c.Analyze(context.Background(), "burn it down")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !v.IsExtremist || v.Confidence != 0.9 || v.Reasoning != "calls for violence" {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestChatClientOmitsAuthWithoutKey(t *testing.T) {
	server := chatServer(t, `{"isExtremist": false}`, func(r *http.Request, req chatRequest) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("expected no authorization header, got %q", got)
		}
		if req.Model != "llama2" {
			t.Errorf("expected default model, got %q", req.Model)
		}
	})
	defer server.Close()

	c := NewLLMClassifier(NewChatClient(ChatConfig{BaseURL: server.URL}))
	v, err := c.Analyze(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if v.IsExtremist || v.Reasoning != ReasoningMissing {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestLLMClassifierHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewLLMClassifier(NewChatClient(ChatConfig{BaseURL: server.URL}))
	if _, err := c.Analyze(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		content string
		want    Verdict
	}{
		{`{"isExtremist":false,"confidence":0.1,"reasoning":"benign"}`, Verdict{false, 0.1, "benign"}},
		{"```json\n{\"isExtremist\":true,\"confidence\":0.7,\"reasoning\":\"r\"}\n```", Verdict{true, 0.7, "r"}},
		{`{}`, Verdict{false, 0, ReasoningMissing}},
		{"This is TRUE", Verdict{true, 0.5, ReasoningFallback}},
		{"looks extremist to me", Verdict{true, 0.5, ReasoningFallback}},
		{"nothing here", Verdict{false, 0.5, ReasoningFallback}},
	}
	for _, tc := range cases {
		if got := ParseVerdict(tc.content); got != tc.want {
			t.Fatalf("ParseVerdict(%q) = %+v, want %+v", tc.content, got, tc.want)
		}
	}
}

func segments(texts ...string) []model.Segment {
	out := make([]model.Segment, len(texts))
	for i, text := range texts {
		out[i] = model.Segment{Start: float64(i), End: float64(i + 1), Text: text}
	}
	return out
}

func TestBatchClientClassify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Segments) != 2 || req.Segments[1].Text != "b" || req.Segments[1].Start != 1 {
			t.Errorf("unexpected segments %+v", req.Segments)
		}
		_, _ = w.Write([]byte(`[
			{"isExtremist": false, "class_type": "neutral", "confidence": 0.8, "text": "a"},
			{"isExtremist": true, "class_type": "hate", "confidence": 0.95, "text": "b"}
		]`))
	}))
	defer server.Close()

	labels, err := NewBatchClient(BatchConfig{BaseURL: server.URL}).Classify(context.Background(), segments("a", "b"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := []Label{{false, "neutral", 0.8}, {true, "hate", 0.95}}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("label %d = %+v, want %+v", i, labels[i], want[i])
		}
	}
}

func TestBatchClientFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "malformed", status: http.StatusOK, body: `{"not":"an array"}`},
		{name: "short", status: http.StatusOK, body: `[{"isExtremist":true}]`, wantErr: ErrLengthMismatch},
		{name: "long", status: http.StatusOK, body: `[{},{},{}]`, wantErr: ErrLengthMismatch},
		{name: "trailing garbage", status: http.StatusOK, body: `[{"isExtremist":true,"class_type":"x","confidence":0.9},{}] <html>garbage`},
		{name: "two values", status: http.StatusOK, body: `[{},{}][{},{}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			labels, err := NewBatchClient(BatchConfig{BaseURL: server.URL}).Classify(context.Background(), segments("a", "b"))
			if err == nil || labels != nil {
				t.Fatalf("expected error and no labels, got %v %v", labels, err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	got := ParseFlags(" 0:EXTREMIST_SPEECH;2:bad_language; 7:BAD_LANGUAGE;x:BAD_LANGUAGE;1:SPAM;-1:BAD_LANGUAGE;;", 3)
	want := []Flag{{0, model.CategoryExtremistSpeech}, {2, model.CategoryBadLanguage}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flag %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if flags := ParseFlags(`""`, 3); len(flags) != 0 {
		t.Fatalf("expected no flags, got %+v", flags)
	}
}

func TestLLMTaggerTag(t *testing.T) {
	server := chatServer(t, "1:BAD_LANGUAGE;", func(r *http.Request, req chatRequest) {
		if !strings.Contains(req.Messages[0].Content, "<0> hello </0><1> you idiot </1>") {
			t.Errorf("segments not indexed in prompt")
		}
		if req.MaxTokens != 0 {
			t.Errorf("expected no max_tokens, got %d", req.MaxTokens)
		}
	})
	defer server.Close()

	flags, err := NewLLMTagger(NewChatClient(ChatConfig{BaseURL: server.URL})).Tag(context.Background(), segments("hello", "you idiot"))
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(flags) != 1 || flags[0] != (Flag{1, model.CategoryBadLanguage}) {
		t.Fatalf("unexpected flags %+v", flags)
	}
}
