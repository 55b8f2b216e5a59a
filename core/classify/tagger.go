package classify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"MediaGuard/model"
)

const taggerPrompt = `You are a linguistic and social safety classifier trained to detect **extremist** and **hateful** speech.
Your task is to review text segments and flag any that contain one or more of the following:

1. **EXTREMIST_SPEECH** - advocacy or justification of violence, terrorism, or exclusionary ideologies.
   Includes calls for violence, dehumanizing language, or rhetoric promoting supremacy of a group.
2. **BAD_LANGUAGE** - profanity, slurs, or explicit insults targeting individuals or groups.

You must return results in this strict format:
"INDEX:CATEGORY;INDEX:CATEGORY;..."
(no quotes, no explanations)

Each INDEX corresponds to the 0-based position of the segment in the input array or block.

Be **precise** - do not flag neutral or factual statements, even if they mention sensitive topics.
Be **comprehensive** - flag all explicit and implicit extremist or hateful content.

Few-shot examples:
------------------
Example 1:
Input: ["<0>We must wipe them out completely.</0>", "<1>The sky is blue today.</1>"]
Output: 0:EXTREMIST_SPEECH;

Example 2:
Input: ["<0>These people are scum.</0>", "<1>Let's all live peacefully together.</1>"]
Output: 0:BAD_LANGUAGE;

Example 3:
Input: ["<0>We must take our country back from the corrupt politicians.</0>",
        "<1>Let's burn down their offices.</1>"]
Output: 1:EXTREMIST_SPEECH;

If nothing qualifies, output an empty string ("").
------------------

Evaluate the following text segments and flag them accordingly:
`

// Flag assigns a category to the segment at Index.
type Flag struct {
	Index    int
	Category string
}

// Tagger flags segments with a content category.
type Tagger interface {
	Tag(ctx context.Context, segments []model.Segment) ([]Flag, error)
}

// LLMTagger implements Tagger over a chat endpoint.
type LLMTagger struct {
	chat *ChatClient
}

// NewLLMTagger wraps chat.
func NewLLMTagger(chat *ChatClient) *LLMTagger {
	return &LLMTagger{chat: chat}
}

// Tag sends the indexed transcript and parses the returned flags. Only flags
// that point at an existing segment are returned.
func (t *LLMTagger) Tag(ctx context.Context, segments []model.Segment) ([]Flag, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	content, err := t.chat.Complete(ctx, taggerPrompt+IndexSegments(segments), 0)
	if err != nil {
		return nil, fmt.Errorf("category tagging failed: %w", err)
	}
	return ParseFlags(content, len(segments)), nil
}

// IndexSegments renders segments as "<i> text </i>" blocks.
func IndexSegments(segments []model.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "<%d> %s </%d>", i, seg.Text, i)
	}
	return b.String()
}

// ParseFlags parses "INDEX:CATEGORY;..." output. Entries with a bad index or
// an unknown category are skipped; a later flag for the same index wins.
func ParseFlags(output string, count int) []Flag {
	output = strings.Trim(strings.TrimSpace(output), `"`)
	var flags []Flag
	for _, entry := range strings.Split(output, ";") {
		idxStr, category, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 0 || idx >= count {
			continue
		}
		category = strings.ToUpper(strings.TrimSpace(category))
		switch category {
		case model.CategoryExtremistSpeech, model.CategoryBadLanguage:
			flags = append(flags, Flag{Index: idx, Category: category})
		}
	}
	return flags
}
