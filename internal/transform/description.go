package transform

import (
	"context"
	"strings"

	"curator/internal/judge"
	"curator/internal/record"
	"curator/internal/services"
	"curator/internal/stage"
)

// NameDescription is the description stage name.
const NameDescription = "description"

// Description compares the description with the code and substitutes the
// judge's rewrite when the match score is below threshold.
type Description struct {
	judge     judge.Evaluator
	threshold float64
}

// NewDescription constructs the stage. threshold is on the 0-10 scale.
func NewDescription(evaluator judge.Evaluator, threshold float64) (*Description, error) {
	if evaluator == nil {
		return nil, services.Wrap(services.ErrConfiguration, NameDescription, "init", "judge client required", nil)
	}
	return &Description{judge: evaluator, threshold: threshold}, nil
}

func (s *Description) Name() string     { return NameDescription }
func (s *Description) Kind() stage.Kind { return stage.KindTransform }

// Apply scores description/code agreement and augments weak descriptions.
func (s *Description) Apply(ctx context.Context, rec *record.Record) stage.Result {
	desc := rec.Field(record.FieldDescription)
	code := rec.Field(record.FieldContent)
	if strings.TrimSpace(desc) == "" || strings.TrimSpace(code) == "" {
		return stage.Continue()
	}
	resp, err := s.judge.Evaluate(ctx, judge.Request{
		Task:      judge.TaskCompareSimilarity,
		Payload:   desc,
		Reference: code,
	})
	if err != nil {
		return stage.Retryable(err)
	}
	augmented := false
	if resp.Score < s.threshold {
		if rewrite := strings.TrimSpace(resp.Result); rewrite != "" {
			rec.SetDerived(record.FieldDescription, rewrite)
			augmented = true
		}
	}
	rec.SetMeta(record.MetaDescriptionMatch, resp.Score)
	rec.SetMeta(record.MetaDescriptionAugmented, augmented)
	return stage.Continue()
}

// Fallback keeps the original description.
func (s *Description) Fallback(ctx context.Context, rec *record.Record, _ error) stage.Result {
	rec.SetMeta(record.MetaDescriptionAugmented, false)
	return keepOriginal(ctx, rec, NameDescription)
}

// HealthCheck pings the judgment service.
func (s *Description) HealthCheck(ctx context.Context) stage.Health {
	return stage.CheckDependency(ctx, NameDescription, s.judge)
}
