package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"MediaGuard/model"
)

const defaultBatchTimeout = 5 * time.Minute

// ErrLengthMismatch is returned when the provider answers with a different
// number of labels than segments sent.
var ErrLengthMismatch = errors.New("classify: label count does not match segment count")

// Label is the batch classifier's verdict for one segment.
type Label struct {
	IsExtremist bool    `json:"isExtremist"`
	ClassType   string  `json:"class_type"`
	Confidence  float64 `json:"confidence"`
}

// BatchClassifier labels a whole transcript in one call. The result is
// positionally aligned with the input.
type BatchClassifier interface {
	Classify(ctx context.Context, segments []model.Segment) ([]Label, error)
}

// BatchConfig captures the analysis service settings.
type BatchConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BatchClient is the HTTP implementation of BatchClassifier.
type BatchClient struct {
	cfg        BatchConfig
	httpClient *http.Client
}

// BatchOption customizes the batch client.
type BatchOption func(*BatchClient)

// WithBatchHTTPClient overrides the default HTTP client.
func WithBatchHTTPClient(client *http.Client) BatchOption {
	return func(c *BatchClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewBatchClient constructs a batch classification client.
func NewBatchClient(cfg BatchConfig, opts ...BatchOption) *BatchClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBatchTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	c := &BatchClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type batchSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type batchRequest struct {
	Segments []batchSegment `json:"segments"`
}

// Classify posts the segments to /analyze. Any failure, including a response
// of the wrong length, yields an error and no labels.
func (c *BatchClient) Classify(ctx context.Context, segments []model.Segment) ([]Label, error) {
	payload := batchRequest{Segments: make([]batchSegment, len(segments))}
	for i, seg := range segments {
		payload.Segments[i] = batchSegment{Text: seg.Text, Start: seg.Start, End: seg.End}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("classify: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/analyze", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("classify: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &httpStatusError{Op: "classify", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var labels []Label
	if err := decodeJSON(resp.Body, &labels); err != nil {
		return nil, fmt.Errorf("classify: decode response: %w", err)
	}
	if len(labels) != len(segments) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(segments), len(labels))
	}
	return labels, nil
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
