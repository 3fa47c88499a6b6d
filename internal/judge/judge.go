package judge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"curator/internal/logging"
	"curator/internal/retry"
	"curator/internal/services"
)

// Task identifies the kind of judgment requested.
type Task string

const (
	TaskClassifyLanguage  Task = "classify-language"
	TaskTranslate         Task = "translate"
	TaskCompareSimilarity Task = "compare-similarity"
	TaskScoreQuality      Task = "score-quality"
	TaskStripPresentation Task = "strip-presentation"
	TaskInferSymbols      Task = "infer-symbols"
)

// Request is one judgment call. Reference carries the optional second text
// (for example the code a description is compared with).
type Request struct {
	Task      Task
	Payload   string
	Reference string
	// Params carries task options such as the target language.
	Params map[string]string
}

// Response is the decoded judgment.
type Response struct {
	Result    string
	Score     float64
	Reasoning string
	Metrics   map[string]float64
	Raw       string
}

// Evaluator is the judgment contract stages depend on.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Response, error)
}

// Prompt is a single JSON-only completion request.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Backend performs one completion attempt and returns the raw content.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Observer receives per-call outcomes for metrics.
type Observer interface {
	JudgeRequest(task, outcome string, elapsed time.Duration)
	JudgeRetry(task string)
}

// Options configures a Client.
type Options struct {
	Policy            retry.Policy
	RequestsPerSecond float64
	Temperature       float64
	MaxTokens         int
	Logger            *slog.Logger
	Observer          Observer
}

// Client issues judgment requests with a shared retry policy and rate
// limit. It holds no per-record state and is safe for concurrent use.
type Client struct {
	backend  Backend
	policy   retry.Policy
	limiter  *rate.Limiter
	temp     float64
	tokens   int
	logger   *slog.Logger
	observer Observer
}

// New constructs a client around backend.
func New(backend Backend, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{
		backend:  backend,
		policy:   opts.Policy,
		temp:     opts.Temperature,
		tokens:   opts.MaxTokens,
		logger:   logging.NewComponentLogger(logger, "judge"),
		observer: opts.Observer,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Backend returns the name of the configured backend.
func (c *Client) Backend() string {
	if c == nil || c.backend == nil {
		return ""
	}
	return c.backend.Name()
}

// Close releases backend resources.
func (c *Client) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Evaluate issues req and decodes the task-specific response.
func (c *Client) Evaluate(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.backend == nil {
		return Response{}, services.Wrap(services.ErrConfiguration, "judge", string(req.Task), "no backend configured", nil)
	}
	prompt, err := buildPrompt(req)
	if err != nil {
		return Response{}, services.Wrap(services.ErrValidation, "judge", string(req.Task), "build prompt", err)
	}
	prompt.Temperature = c.temp
	prompt.MaxTokens = c.tokens

	requestID := uuid.NewString()
	ctx = services.WithRequestID(ctx, requestID)
	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()

	var resp Response
	attempts, err := c.policy.Do(ctx, func(attempt int) (retry.Decision, error) {
		if attempt > 1 {
			c.observe(func(o Observer) { o.JudgeRetry(string(req.Task)) })
		}
		if err := c.wait(ctx); err != nil {
			return retry.Decision{}, err
		}
		content, err := c.backend.Complete(ctx, prompt)
		if err == nil {
			resp, err = decodeResponse(req.Task, content)
		}
		if err == nil {
			return retry.Decision{}, nil
		}
		decision := classify(err)
		if decision.Retry && attempt < c.policy.Attempts() {
			logger.Debug("judge attempt failed; retrying",
				logging.String(logging.FieldEventType, "judge_retry"),
				logging.String("task", string(req.Task)),
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
		}
		return decision, err
	})
	elapsed := time.Since(started)
	if err != nil {
		wrapped := c.wrapFailure(ctx, req.Task, attempts, err)
		c.observe(func(o Observer) { o.JudgeRequest(string(req.Task), services.Label(wrapped), elapsed) })
		return Response{}, wrapped
	}
	c.observe(func(o Observer) { o.JudgeRequest(string(req.Task), "ok", elapsed) })
	logger.Debug("judge request completed",
		logging.String(logging.FieldEventType, "judge_complete"),
		logging.String("task", string(req.Task)),
		logging.Int("attempts", attempts),
		logging.Duration("elapsed", elapsed),
	)
	return resp, nil
}

// HealthCheck issues a fast ping to verify the backend is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.backend == nil {
		return services.Wrap(services.ErrConfiguration, "judge", "health", "no backend configured", nil)
	}
	_, err := c.policy.Do(ctx, func(int) (retry.Decision, error) {
		content, err := c.backend.Complete(ctx, Prompt{
			System:    "You must respond with JSON only.",
			User:      `Respond with {"ok":true}`,
			MaxTokens: 32,
		})
		if err != nil {
			return classify(err), err
		}
		var parsed struct {
			OK bool `json:"ok"`
		}
		if err := DecodeJSON(content, &parsed); err != nil {
			return retry.Decision{Retry: true}, &payloadError{Op: "health", Err: err}
		}
		if !parsed.OK {
			return retry.Decision{}, errors.New("judge health: unexpected response")
		}
		return retry.Decision{}, nil
	})
	if err != nil {
		return fmt.Errorf("judge health (%s): %w", c.backend.Name(), err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) observe(fn func(Observer)) {
	if c.observer != nil {
		fn(c.observer)
	}
}

func (c *Client) wrapFailure(ctx context.Context, task Task, attempts int, err error) error {
	op := string(task)
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return fmt.Errorf("judge %s: %w", op, err)
	case errors.Is(err, services.ErrConfiguration):
		return err
	}
	if classify(err).Retry {
		return services.Wrap(services.ErrTransient, "judge", op, fmt.Sprintf("failed after %d attempts", attempts), err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return services.Wrap(services.ErrExternalService, "judge", op, fmt.Sprintf("http %d", statusErr.StatusCode), err)
	}
	return services.Wrap(services.ErrExternalService, "judge", op, strings.TrimSpace(c.backend.Name()), err)
}
