package testsupport

import (
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are shortened so failure paths run quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Input = filepath.Join(base, "input.jsonl")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Judge.APIKey = "test"
	cfgVal.Judge.RetryBaseDelayMS = 1
	cfgVal.Judge.RetryMaxDelayMS = 2
	cfgVal.Stages.RetryBaseDelayMS = 1
	cfgVal.Stages.RetryMaxDelayMS = 2
	cfgVal.Pipeline.GracePeriodSeconds = 5
	cfgVal.Checkpoint.FlushEvery = 1
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("create test directories: %v", err)
	}
	return builder.cfg
}

// WithStages replaces the stage order. Mandatory stages not in the new order
// are dropped.
func WithStages(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Stages = append([]string(nil), names...)
		kept := b.cfg.Pipeline.MandatoryStages[:0:0]
		for _, name := range b.cfg.Pipeline.MandatoryStages {
			for _, candidate := range names {
				if candidate == name {
					kept = append(kept, name)
				}
			}
		}
		b.cfg.Pipeline.MandatoryStages = kept
	}
}

// WithMandatory sets the mandatory stage list.
func WithMandatory(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MandatoryStages = append([]string(nil), names...)
	}
}

// WithWorkers sets the worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// WithCheckpointBackend selects the checkpoint backend.
func WithCheckpointBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Checkpoint.Backend = backend
	}
}

// WithSinkFormat selects the output format.
func WithSinkFormat(format string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sink.Format = format
	}
}

// WithMutation applies an arbitrary change to the config.
func WithMutation(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
