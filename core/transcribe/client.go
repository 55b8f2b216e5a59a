// Package transcribe talks to the speech-to-text provider. The media file is
// streamed to the provider as a multipart upload; it is never buffered whole.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"MediaGuard/model"
)

const defaultTimeout = 30 * time.Minute

// ErrEmptyTranscript is returned when the provider answers without segments.
var ErrEmptyTranscript = errors.New("transcribe: provider returned no segments")

// Request describes one file to transcribe.
type Request struct {
	Path     string
	Filename string
	MimeType string
	Language string
}

// Transcriber turns a stored media file into a timestamped transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*model.Transcript, error)
}

// Config captures the provider settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP implementation of Transcriber.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wordPayload struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type segmentPayload struct {
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Text  string        `json:"text"`
	Words []wordPayload `json:"words"`
}

type responsePayload struct {
	Language            string           `json:"language"`
	LanguageProbability float64          `json:"language_probability"`
	Duration            float64          `json:"duration"`
	Segments            []segmentPayload `json:"segments"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("transcribe: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Transcribe uploads the file and decodes the provider's segments.
func (c *Client) Transcribe(ctx context.Context, req Request) (*model.Transcript, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: open media: %w", err)
	}
	defer f.Close()

	endpoint, err := c.endpoint(req.Language)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFilePart(mw, f, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("transcribe: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("transcribe: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload responsePayload
	if err := decodeJSON(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("transcribe: decode response: %w", err)
	}
	if len(payload.Segments) == 0 {
		return nil, ErrEmptyTranscript
	}
	return toTranscript(payload), nil
}

func (c *Client) endpoint(language string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/transcription/upload")
	if err != nil {
		return "", fmt.Errorf("transcribe: invalid base url: %w", err)
	}
	q := u.Query()
	if language = strings.TrimSpace(language); language != "" {
		q.Set("language", language)
	}
	q.Set("word_timestamps", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func writeFilePart(mw *multipart.Writer, src io.Reader, req Request) error {
	name := req.Filename
	if name == "" {
		name = filepath.Base(req.Path)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

func toTranscript(p responsePayload) *model.Transcript {
	t := &model.Transcript{
		Language:            p.Language,
		LanguageProbability: p.LanguageProbability,
		Duration:            p.Duration,
		Segments:            make([]model.Segment, len(p.Segments)),
	}
	for i, s := range p.Segments {
		seg := model.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		}
		if len(s.Words) > 0 {
			seg.Words = make([]model.Word, len(s.Words))
			for j, w := range s.Words {
				seg.Words[j] = model.Word{Start: w.Start, End: w.End, Word: w.Word}
			}
		}
		t.Segments[i] = seg
	}
	return t
}

// decodeJSON decodes exactly one JSON value; anything but whitespace after it
// is an error.
func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
