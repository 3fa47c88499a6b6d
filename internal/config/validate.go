package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateFilter(); err != nil {
		return err
	}
	if err := c.validateTransform(); err != nil {
		return err
	}
	if err := c.validateJudge(); err != nil {
		return err
	}
	if err := c.validateSimilarity(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validateOutputs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSource() error {
	switch c.Source.Format {
	case "auto", "json", "jsonl":
	default:
		return fmt.Errorf("source.format must be auto, json, or jsonl (got %q)", c.Source.Format)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	if c.Pipeline.BufferFactor < 1 {
		return errors.New("pipeline.buffer_factor must be at least 1")
	}
	if c.Pipeline.GracePeriodSeconds < 0 {
		return errors.New("pipeline.grace_period_seconds must be non-negative")
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, name := range c.Pipeline.Stages {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("pipeline.stages lists %q more than once", name)
		}
		seen[name] = struct{}{}
	}
	for _, name := range c.Pipeline.MandatoryStages {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("pipeline.mandatory_stages names %q which is not in pipeline.stages", name)
		}
	}
	if c.Stages.RetryAttempts < 1 {
		return errors.New("stages.retry_attempts must be at least 1")
	}
	if c.Stages.RetryBaseDelayMS < 0 || c.Stages.RetryMaxDelayMS < 0 {
		return errors.New("stages retry delays must be non-negative")
	}
	return nil
}

func (c *Config) validateFilter() error {
	if c.Filter.MinContentLength < 0 || c.Filter.MinDescriptionLength < 0 {
		return errors.New("filter minimum lengths must be non-negative")
	}
	if c.Filter.MinWordCount < 0 {
		return errors.New("filter.min_word_count must be non-negative")
	}
	if c.Filter.MinLikes < 0 {
		return errors.New("filter.min_likes must be non-negative")
	}
	for _, t := range c.Filter.AllowedTypes {
		switch t {
		case "strategy", "indicator", "unknown":
		default:
			return fmt.Errorf("filter.allowed_types: unknown script type %q (want strategy, indicator or unknown)", t)
		}
	}
	return nil
}

func (c *Config) validateTransform() error {
	if c.Transform.DescriptionMatchThreshold < 0 || c.Transform.DescriptionMatchThreshold > 10 {
		return errors.New("transform.description_match_threshold must be between 0 and 10")
	}
	return nil
}

func (c *Config) validateJudge() error {
	switch c.Judge.Provider {
	case ProviderOpenAICompatible, ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("judge.provider %q is not supported", c.Judge.Provider)
	}
	if c.UsesJudge() {
		if c.Judge.Provider == ProviderNone {
			return errors.New("judge.provider is none but enabled stages call the judgment service")
		}
		if c.Judge.APIKey == "" {
			envs := strings.Join(judgeKeyEnv(c.Judge.Provider), " or ")
			return fmt.Errorf("judge.api_key is required. Set %s or edit the config (create with 'curator config init')", envs)
		}
		if c.Judge.Model == "" {
			return errors.New("judge.model must be set")
		}
	}
	if c.Judge.TimeoutSeconds <= 0 {
		return errors.New("judge.timeout_seconds must be positive")
	}
	if c.Judge.MaxRetryAttempts < 1 {
		return errors.New("judge.max_retry_attempts must be at least 1")
	}
	if c.Judge.RetryBaseDelayMS < 0 || c.Judge.RetryMaxDelayMS < 0 {
		return errors.New("judge retry delays must be non-negative")
	}
	if c.Judge.RetryJitter < 0 || c.Judge.RetryJitter > 1 {
		return errors.New("judge.retry_jitter must be between 0 and 1")
	}
	if c.Judge.RequestsPerSecond < 0 {
		return errors.New("judge.requests_per_second must be non-negative")
	}
	if c.Judge.Temperature < 0 || c.Judge.Temperature > 2 {
		return errors.New("judge.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateSimilarity() error {
	if c.Similarity.Threshold <= 0 || c.Similarity.Threshold > 1 {
		return errors.New("similarity.threshold must be in (0, 1]")
	}
	if c.Similarity.ShingleSize < 1 {
		return errors.New("similarity.shingle_size must be at least 1")
	}
	return nil
}

func (c *Config) validateQuality() error {
	if c.Quality.Threshold < 0 || c.Quality.Threshold > 10 {
		return errors.New("quality.threshold must be between 0 and 10")
	}
	for name, profile := range c.Quality.Profiles {
		if profile.Threshold < 0 || profile.Threshold > 10 {
			return fmt.Errorf("quality profile %q threshold must be between 0 and 10", name)
		}
		var total float64
		for metric, weight := range profile.Weights {
			if weight < 0 {
				return fmt.Errorf("quality profile %q weight for %q must be non-negative", name, metric)
			}
			total += weight
		}
		if total <= 0 {
			return fmt.Errorf("quality profile %q needs at least one positive weight", name)
		}
	}
	if _, _, err := c.ActiveProfile(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateOutputs() error {
	switch c.Checkpoint.Backend {
	case CheckpointBackendFile, CheckpointBackendSQLite:
	default:
		return fmt.Errorf("checkpoint.backend must be file or sqlite (got %q)", c.Checkpoint.Backend)
	}
	if c.Checkpoint.FlushEvery < 1 {
		return errors.New("checkpoint.flush_every must be at least 1")
	}
	if c.Checkpoint.FlushIntervalSeconds < 0 {
		return errors.New("checkpoint.flush_interval_seconds must be non-negative")
	}
	switch c.Sink.Format {
	case SinkFormatJSONL, SinkFormatMsgpack:
	default:
		return fmt.Errorf("sink.format must be jsonl or msgpack (got %q)", c.Sink.Format)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format must be console, json, or auto (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
