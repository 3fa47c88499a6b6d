// Package judge is the client for the external judgment service: a remote
// model that classifies language, translates, compares descriptions with
// code, scores quality, and strips presentation-only code.
//
// # Entry Points
//
// New: construct a client around a Backend.
// NewFromConfig: build the configured backend and client.
// Client.Evaluate: issue one task and decode the structured response.
// Client.HealthCheck: verify credentials and model availability.
//
// # Backends
//
// openai-compatible talks to any chat completions endpoint (OpenRouter by
// default) over plain HTTP. openai, anthropic, and gemini use the vendor
// SDKs. A backend performs exactly one attempt per call; the client owns
// retries.
//
// # Retry Behaviour
//
// The client retries HTTP 408/429/5xx, network timeouts, empty content, and
// undecodable payloads with exponential backoff (base × 2^(attempt-1),
// capped, with jitter). Retry-After is honoured up to the cap. Context
// cancellation aborts retries immediately. Exhausted retries return an error
// marked services.ErrTransient; the client never fabricates a result.
package judge
