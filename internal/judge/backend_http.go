package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/services"
	"curator/internal/textutil"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
	defaultEndpoint    = "https://openrouter.ai/api/v1/chat/completions"
)

// HTTPConfig configures the OpenAI-compatible chat completions backend.
type HTTPConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Referer string
	Title   string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPBackend talks to a chat completions endpoint such as OpenRouter.
type HTTPBackend struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// NewHTTPBackend constructs the backend. BaseURL is the full completions URL.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPBackend{cfg: cfg, httpClient: client}
}

// Name identifies the backend.
func (b *HTTPBackend) Name() string { return "openai-compatible" }

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema even when stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls"`
	Refusal   string     `json:"refusal"`
}

type toolCall struct {
	Function struct {
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Complete sends one chat completion request.
func (b *HTTPBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if b.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "judge", "openai-compatible", "api key required", nil)
	}
	payload := chatCompletionRequest{
		Model: b.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature:    prompt.Temperature,
		MaxTokens:      prompt.MaxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	completion, body, err := b.send(ctx, payload)
	if err != nil {
		return "", err
	}
	content, finishReason := extractCompletionPayload(completion)
	if content == "" {
		empty := &emptyContentError{
			Op:           "judge request",
			FinishReason: finishReason,
			Snippet:      textutil.Snippet(string(body), snippetLimit),
		}
		for _, choice := range completion.Choices {
			if empty.Refusal = firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); empty.Refusal != "" {
				break
			}
		}
		return "", empty
	}
	return content, nil
}

func (b *HTTPBackend) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, []byte, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, nil, fmt.Errorf("judge request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return completion, nil, fmt.Errorf("judge request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", b.cfg.Referer)
		req.Header.Set("Referer", b.cfg.Referer)
	}
	if b.cfg.Title != "" {
		req.Header.Set("X-Title", b.cfg.Title)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return completion, nil, fmt.Errorf("judge request: http error (timeout=%s): %w", b.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, nil, fmt.Errorf("judge request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, body, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, body, &payloadError{Op: "judge request", Err: err}
	}
	if completion.Error != nil {
		return completion, body, fmt.Errorf("judge request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, body, nil
}

func extractCompletionPayload(completion chatCompletionResponse) (string, string) {
	var finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, finishReason
		}
		for _, call := range append(choice.Message.ToolCalls, choice.Delta.ToolCalls...) {
			if args := strings.TrimSpace(call.Function.Arguments); args != "" {
				return args, finishReason
			}
		}
	}
	return "", finishReason
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
