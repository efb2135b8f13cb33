// Package sentiment classifies a reply into the coarse emotion that picks
// the voice style and the opening gesture.
//
// The [Classifier] interface is the seam; [LLMClassifier] implements it on
// top of any [llm.Provider] by asking for a one-word label.
package sentiment

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
)

// Emotion is a coarse sentiment label.
type Emotion string

const (
	Positive Emotion = "positive"
	Neutral  Emotion = "neutral"
	Negative Emotion = "negative"
)

// Classifier labels text with an Emotion.
type Classifier interface {
	Classify(ctx context.Context, text string) (Emotion, error)
}

// labels maps accepted answers to emotions, including the katakana forms
// models produce when prompted in Japanese.
var labels = map[string]Emotion{
	"positive": Positive,
	"neutral":  Neutral,
	"negative": Negative,
	"ポジティブ":    Positive,
	"ニュートラル":   Neutral,
	"ネガティブ":    Negative,
}

// ParseEmotion maps a free-form label to an Emotion. Matching ignores case,
// surrounding whitespace and punctuation. Anything unrecognised is Neutral.
func ParseEmotion(s string) Emotion {
	s = strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
	if e, ok := labels[s]; ok {
		return e
	}
	// Tolerate answers like "positive (grateful tone)".
	if f := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }); len(f) > 0 {
		if e, ok := labels[f[0]]; ok {
			return e
		}
	}
	return Neutral
}

const classifyPrompt = "You label the sentiment of a single message. " +
	"Answer with exactly one lowercase word: positive, neutral or negative."

// LLMClassifier asks a chat model for the label.
type LLMClassifier struct {
	provider llm.Provider
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier returns a Classifier backed by p.
func NewLLMClassifier(p llm.Provider) *LLMClassifier {
	return &LLMClassifier{provider: p}
}

// Classify implements Classifier. Blank text is Neutral without a request.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Emotion, error) {
	if strings.TrimSpace(text) == "" {
		return Neutral, nil
	}
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifyPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens:    5,
	})
	if err != nil {
		return Neutral, fmt.Errorf("sentiment: classify: %w", err)
	}
	return ParseEmotion(resp.Content), nil
}
