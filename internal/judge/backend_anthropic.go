package judge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"curator/internal/services"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicBackend uses the Anthropic messages API.
type AnthropicBackend struct {
	client *anthropic.Client
	model  string
	hasKey bool
}

// NewAnthropicBackend constructs the backend.
func NewAnthropicBackend(apiKey, model, baseURL string, httpClient *http.Client) *AnthropicBackend {
	var opts []anthropic.ClientOption
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	opts = append(opts, anthropic.WithHTTPClient(withRetryAfterCapture(httpClient)))
	return &AnthropicBackend{
		client: anthropic.NewClient(strings.TrimSpace(apiKey), opts...),
		model:  strings.TrimSpace(model),
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

// Name identifies the backend.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Complete sends one messages request.
func (b *AnthropicBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if !b.hasKey {
		return "", services.Wrap(services.ErrConfiguration, "judge", "anthropic", "api key required", nil)
	}
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := float32(prompt.Temperature)
	ctx, hint := captureRetryAfter(ctx)
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:  anthropic.Model(b.model),
		System: prompt.System,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(prompt.User),
				},
			},
		},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", attachRetryAfter(mapAnthropicError(err), hint)
	}
	for _, part := range resp.Content {
		if part.Text != nil && strings.TrimSpace(*part.Text) != "" {
			return strings.TrimSpace(*part.Text), nil
		}
	}
	return "", &emptyContentError{Op: "anthropic", FinishReason: string(resp.StopReason), Snippet: "<empty>"}
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimitErr():
			return &StatusError{StatusCode: http.StatusTooManyRequests, Body: apiErr.Message}
		case apiErr.IsOverloadedErr(), apiErr.IsApiErr():
			return &StatusError{StatusCode: http.StatusServiceUnavailable, Body: apiErr.Message}
		case apiErr.IsInvalidRequestErr():
			return &StatusError{StatusCode: http.StatusBadRequest, Body: apiErr.Message}
		case apiErr.IsAuthenticationErr():
			return &StatusError{StatusCode: http.StatusUnauthorized, Body: apiErr.Message}
		case apiErr.IsPermissionErr():
			return &StatusError{StatusCode: http.StatusForbidden, Body: apiErr.Message}
		case apiErr.IsNotFoundErr():
			return &StatusError{StatusCode: http.StatusNotFound, Body: apiErr.Message}
		case apiErr.IsTooLargeErr():
			return &StatusError{StatusCode: http.StatusRequestEntityTooLarge, Body: apiErr.Message}
		}
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode > 0 {
		return &StatusError{StatusCode: reqErr.StatusCode, Body: reqErr.Error()}
	}
	return err
}
