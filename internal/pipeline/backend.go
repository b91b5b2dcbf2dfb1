package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/glassboxlabs/glassbox/internal/prompts"
	"github.com/glassboxlabs/glassbox/internal/tool"
)

// Request is one stage's inference call.
type Request struct {
	Stage  string
	System string
	Prompt string
}

// Response holds the complete model reply with timing.
type Response struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// Backend produces completions for the pipeline stages.
type Backend interface {
	Infer(ctx context.Context, req Request) (*Response, error)
}

// AgentBackend drives a model provider through the openai-agents-go SDK.
type AgentBackend struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

// NewAgentBackend creates a backend for the given provider and default model.
func NewAgentBackend(provider agents.ModelProvider, model string, maxTokens int) *AgentBackend {
	return &AgentBackend{provider: provider, model: model, maxTokens: maxTokens}
}

// Infer runs one single-turn completion and accumulates the streamed text.
func (b *AgentBackend) Infer(ctx context.Context, req Request) (*Response, error) {
	agent := agents.New(req.Stage).
		WithInstructions(req.System).
		WithModel(b.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(b.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   b.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("stream start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("stream: %w", streamErr)
	}

	return &Response{
		Text:      textBuf.String(),
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

type backendTextModel struct {
	backend Backend
}

// TextModel adapts a Backend to the plain-completion surface tools consume.
func TextModel(b Backend) tool.TextModel {
	return backendTextModel{backend: b}
}

func (m backendTextModel) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := m.backend.Infer(ctx, Request{
		Stage:  "summarize",
		System: prompts.SummarizeSystem,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
