package tagger

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

const systemPrompt = `You summarise articles from Japanese municipal newsletters.
Read the article the user sends and reply with a single JSON object:

{"summary": "<one or two Japanese sentences>", "keywords": ["<keyword>", ...]}

Rules:
- Write the summary in Japanese, at most 120 characters.
- Give 3 to 8 keywords, each a noun or short noun phrase taken from the article.
- Output only the JSON object, with no code fences or commentary.`

// LLMAnalyzer asks an OpenAI-compatible chat endpoint for the summary and
// keywords.
type LLMAnalyzer struct {
	client llms.Model
}

// NewLLMAnalyzer connects to host using model. An empty token is sent as
// "none" so that local servers without auth accept the request.
func NewLLMAnalyzer(host, model, token string) (*LLMAnalyzer, error) {
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken(token),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	return &LLMAnalyzer{client: client}, nil
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}
	resp, err := a.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", apperrors.ErrAnalyzerNoResult, err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("%w: no choices returned", apperrors.ErrAnalyzerNoResult)
	}
	return ParseOutput(resp.Choices[0].Content)
}
