package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const extremismPrompt = `Analyze the following text for extremist, offensive, or harmful content. Respond with JSON format:
{
  "isExtremist": true/false,
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation"
}

Text to analyze: `

// Reasoning strings written by the classifier when the model's answer is not
// usable as-is.
const (
	ReasoningMissing  = "No reasoning provided"
	ReasoningFallback = "Analysis completed with fallback parsing"
)

// Verdict is the single-text classification result.
type Verdict struct {
	IsExtremist bool
	Confidence  float64
	Reasoning   string
}

// ExtremismClassifier labels one text at a time.
type ExtremismClassifier interface {
	Analyze(ctx context.Context, text string) (Verdict, error)
}

// LLMClassifier asks an LLM whether a text is extremist.
type LLMClassifier struct {
	chat *ChatClient
}

// NewLLMClassifier wraps chat.
func NewLLMClassifier(chat *ChatClient) *LLMClassifier {
	return &LLMClassifier{chat: chat}
}

// Analyze classifies text. Transport failures are returned as errors; an
// unparsable answer degrades to ParseVerdict's keyword fallback.
func (c *LLMClassifier) Analyze(ctx context.Context, text string) (Verdict, error) {
	content, err := c.chat.Complete(ctx, extremismPrompt+text, chatMaxTokens)
	if err != nil {
		return Verdict{}, fmt.Errorf("extremist analysis failed: %w", err)
	}
	return ParseVerdict(content), nil
}

type verdictPayload struct {
	IsExtremist bool    `json:"isExtremist"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// ParseVerdict decodes the model's JSON answer. When the answer is not JSON,
// any mention of "true" or "extremist" counts as a positive at 0.5 confidence.
func ParseVerdict(content string) Verdict {
	var p verdictPayload
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &p); err == nil {
		v := Verdict{IsExtremist: p.IsExtremist, Confidence: p.Confidence, Reasoning: strings.TrimSpace(p.Reasoning)}
		if v.Reasoning == "" {
			v.Reasoning = ReasoningMissing
		}
		return v
	}

	lower := strings.ToLower(content)
	return Verdict{
		IsExtremist: strings.Contains(lower, "true") || strings.Contains(lower, "extremist"),
		Confidence:  0.5,
		Reasoning:   ReasoningFallback,
	}
}
