package brain

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemHint = "You are an assistant that helps break down tasks and produce clear, concise answers."

// OpenAIAdapter answers prompts through the OpenAI chat completion API (or any
// compatible endpoint via a custom base URL).
type OpenAIAdapter struct {
	client     *openai.Client
	model      string
	systemHint string
}

func NewOpenAIAdapter(apiKey, model, baseURL, systemHint string) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if u := strings.TrimSpace(baseURL); u != "" {
		clientCfg.BaseURL = u
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	if strings.TrimSpace(systemHint) == "" {
		systemHint = defaultSystemHint
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		systemHint: systemHint,
	}
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.3,
		MaxTokens:   800,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: a.systemHint},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, nil
	}
	return Response{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
}
