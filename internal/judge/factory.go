package judge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/retry"
	"curator/internal/services"
)

// NewBackend builds the backend selected by cfg.Provider.
func NewBackend(ctx context.Context, cfg config.Judge) (Backend, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case config.ProviderOpenAICompatible, "":
		return NewHTTPBackend(HTTPConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Referer: cfg.Referer,
			Title:   cfg.Title,
			Timeout: timeout,
			Client:  httpClient,
		}), nil
	case config.ProviderOpenAI:
		return NewOpenAIBackend(cfg.APIKey, cfg.Model, cfg.BaseURL, httpClient), nil
	case config.ProviderAnthropic:
		return NewAnthropicBackend(cfg.APIKey, cfg.Model, cfg.BaseURL, httpClient), nil
	case config.ProviderGemini:
		return NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "judge", "backend", fmt.Sprintf("unsupported provider %q", provider), nil)
	}
}

// PolicyFromConfig returns the client retry policy for cfg.
func PolicyFromConfig(cfg config.Judge) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		Jitter:      cfg.RetryJitter,
	}
}

// NewFromConfig builds the configured backend and wraps it in a Client.
func NewFromConfig(ctx context.Context, cfg config.Judge, logger *slog.Logger, observer Observer) (*Client, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(backend, Options{
		Policy:            PolicyFromConfig(cfg),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Logger:            logger,
		Observer:          observer,
	}), nil
}
