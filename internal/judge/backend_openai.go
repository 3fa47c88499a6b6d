package judge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"curator/internal/services"
)

// OpenAIBackend uses the OpenAI chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	hasKey bool
}

// NewOpenAIBackend constructs the backend. baseURL may be empty to use the
// public API, or point at any OpenAI-compatible /v1 root.
func NewOpenAIBackend(apiKey, model, baseURL string, httpClient *http.Client) *OpenAIBackend {
	config := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = withRetryAfterCapture(httpClient)
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
		model:  strings.TrimSpace(model),
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

// Name identifies the backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Complete sends one chat completion request.
func (b *OpenAIBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if !b.hasKey {
		return "", services.Wrap(services.ErrConfiguration, "judge", "openai", "api key required", nil)
	}
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: float32(prompt.Temperature),
		MaxTokens:   prompt.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	ctx, hint := captureRetryAfter(ctx)
	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", attachRetryAfter(mapOpenAIError(err), hint)
	}
	for _, choice := range resp.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	finish := ""
	if len(resp.Choices) > 0 {
		finish = string(resp.Choices[0].FinishReason)
	}
	return "", &emptyContentError{Op: "openai", FinishReason: finish, Snippet: "<empty>"}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
