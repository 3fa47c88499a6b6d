package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/filter"
	"curator/internal/judge"
	"curator/internal/retry"
	"curator/internal/scoring"
	"curator/internal/services"
	"curator/internal/similarity"
	"curator/internal/stage"
	"curator/internal/transform"
)

// Deps are the shared collaborators stage factories draw on. Judge must be a
// nil interface, not a typed nil, when no judgment client is configured.
type Deps struct {
	Judge    judge.Evaluator
	Index    *similarity.Index
	Logger   *slog.Logger
	Observer StageObserver
}

// Factory builds one stage from configuration.
type Factory func(cfg *config.Config, deps Deps) (stage.Stage, error)

var registry = map[string]Factory{
	filter.NameRequiredFields: func(cfg *config.Config, _ Deps) (stage.Stage, error) {
		return filter.NewRequiredFields(cfg.Filter.RequiredFields), nil
	},
	filter.NameMinLength: func(cfg *config.Config, _ Deps) (stage.Stage, error) {
		return filter.NewMinLength(cfg.Filter.MinContentLength, cfg.Filter.MinDescriptionLength), nil
	},
	filter.NameWordCount: func(cfg *config.Config, _ Deps) (stage.Stage, error) {
		return filter.NewWordCount(cfg.Filter.MinWordCount), nil
	},
	filter.NameMinLikes: func(cfg *config.Config, _ Deps) (stage.Stage, error) {
		return filter.NewMinLikes(cfg.Filter.MinLikes), nil
	},
	filter.NamePlaceholder: func(cfg *config.Config, _ Deps) (stage.Stage, error) {
		return filter.NewPlaceholder(cfg.Filter.PlaceholderPatterns)
	},
	filter.NameClassify: func(cfg *config.Config, _ Deps) (stage.Stage, error) {
		return filter.NewClassify(cfg.Filter.AllowedTypes)
	},
	transform.NameMarkup: func(*config.Config, Deps) (stage.Stage, error) {
		return transform.NewMarkup(), nil
	},
	transform.NameLanguage: func(cfg *config.Config, deps Deps) (stage.Stage, error) {
		return transform.NewLanguage(deps.Judge, cfg.Transform.TargetLanguage, cfg.Transform.AssumeASCIIEnglish)
	},
	transform.NamePresentation: func(cfg *config.Config, deps Deps) (stage.Stage, error) {
		return transform.NewPresentation(deps.Judge, cfg.Transform.RefinePresentation), nil
	},
	transform.NameDescription: func(cfg *config.Config, deps Deps) (stage.Stage, error) {
		return transform.NewDescription(deps.Judge, cfg.Transform.DescriptionMatchThreshold)
	},
	transform.NameSymbols: func(_ *config.Config, deps Deps) (stage.Stage, error) {
		return transform.NewSymbols(deps.Judge)
	},
	scoring.Name: func(cfg *config.Config, deps Deps) (stage.Stage, error) {
		name, raw, err := cfg.ActiveProfile()
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "quality", "resolve profile", err)
		}
		profile, err := scoring.ProfileFromConfig(name, raw)
		if err != nil {
			return nil, err
		}
		return scoring.New(deps.Judge, profile)
	},
}

// StageNames lists every registered stage name in sorted order.
func StageNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StagePolicy returns the engine retry policy for cfg.
func StagePolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Stages.RetryAttempts,
		BaseDelay:   time.Duration(cfg.Stages.RetryBaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Stages.RetryMaxDelayMS) * time.Millisecond,
		Jitter:      0.1,
	}
}

// Build constructs the engine for cfg.Pipeline.Stages in order. Unknown
// stage names are configuration errors.
func Build(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build", "config required", nil)
	}
	index := deps.Index
	if index == nil {
		index = similarity.New(similarity.Options{
			Threshold:   cfg.Similarity.Threshold,
			ShingleSize: cfg.Similarity.ShingleSize,
		})
	}
	stages := make([]stage.Stage, 0, len(cfg.Pipeline.Stages))
	for _, raw := range cfg.Pipeline.Stages {
		name := strings.TrimSpace(raw)
		factory, ok := registry[name]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build",
				fmt.Sprintf("unknown stage %q (known: %s)", name, strings.Join(StageNames(), ", ")), nil)
		}
		st, err := factory(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build stage %s: %w", name, err)
		}
		stages = append(stages, st)
	}
	return New(Options{
		Stages:    stages,
		Mandatory: cfg.Pipeline.MandatoryStages,
		Policy:    StagePolicy(cfg),
		Index:     index,
		Logger:    deps.Logger,
		Observer:  deps.Observer,
	})
}
