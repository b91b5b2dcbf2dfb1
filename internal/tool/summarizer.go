package tool

import (
	"context"
	"fmt"
	"strings"
)

type summarizerArgs struct {
	Text      string `json:"text" jsonschema:"description=Text to summarize"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"description=Maximum summary length in words (default 100)"`
	Focus     string `json:"focus,omitempty" jsonschema:"description=What to focus on, e.g. 'key points' or 'instructions'"`
}

// Summarizer condenses long text via the reasoning backend.
type Summarizer struct {
	model TextModel
}

func NewSummarizer(model TextModel) *Summarizer {
	return &Summarizer{model: model}
}

func (s *Summarizer) Describe() Descriptor {
	return Descriptor{
		Name:           "summarizer",
		Description:    "Summarizes long texts or instructions into a concise summary.",
		ArgumentSchema: reflectSchema(summarizerArgs{}),
	}
}

func (s *Summarizer) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a summarizerArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Text) == "" {
		return nil, fmt.Errorf("invalid input: text is required")
	}

	maxLen := a.MaxLength
	if maxLen <= 0 {
		maxLen = 100
	}
	focus := a.Focus
	if focus == "" {
		focus = "key points"
	}

	prompt := fmt.Sprintf(
		"Summarize the following text in at most %d words, focusing on %s.\n\n%s",
		maxLen, focus, a.Text,
	)

	summary, err := s.model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	return map[string]any{
		"summary":         strings.TrimSpace(summary),
		"focus":           focus,
		"original_length": len(a.Text),
	}, nil
}
