// Package scoring implements the quality stage: a weighted combination of
// judge sub-metrics and local heuristics compared against a profile threshold.
package scoring

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"curator/internal/config"
	"curator/internal/judge"
	"curator/internal/record"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// Name is the quality stage name.
const Name = "quality"

// ReasonBelowThreshold is the rejection reason for low scores.
const ReasonBelowThreshold = "quality-below-threshold"

// Sub-metric names.
const (
	MetricMatch            = "match"
	MetricDetail           = "detail"
	MetricClarity          = "clarity"
	MetricCodeQuality      = "code_quality"
	MetricEducationalValue = "educational_value"
	MetricStructure        = "structure"
	MetricLexicalMatch     = "lexical_match"
)

// JudgeMetrics are produced by the judgment service.
var JudgeMetrics = []string{MetricMatch, MetricDetail, MetricClarity, MetricCodeQuality, MetricEducationalValue}

// LocalMetrics are computed without the judgment service.
var LocalMetrics = []string{MetricStructure, MetricLexicalMatch}

// Profile is a named weighting of sub-metrics plus its acceptance threshold.
type Profile struct {
	Name      string
	Threshold float64
	Weights   map[string]float64
}

// ProfileFromConfig validates a configured profile.
func ProfileFromConfig(name string, p config.QualityProfile) (Profile, error) {
	if len(p.Weights) == 0 {
		return Profile{}, services.Wrap(services.ErrConfiguration, Name, "profile", fmt.Sprintf("profile %q has no weights", name), nil)
	}
	if p.Threshold < 0 || p.Threshold > 10 {
		return Profile{}, services.Wrap(services.ErrConfiguration, Name, "profile", fmt.Sprintf("profile %q threshold %.2f outside 0-10", name, p.Threshold), nil)
	}
	weights := make(map[string]float64, len(p.Weights))
	var total float64
	for metric, weight := range p.Weights {
		key := strings.ToLower(strings.TrimSpace(metric))
		if !knownMetric(key) {
			return Profile{}, services.Wrap(services.ErrConfiguration, Name, "profile", fmt.Sprintf("profile %q: unknown metric %q", name, metric), nil)
		}
		if weight < 0 {
			return Profile{}, services.Wrap(services.ErrConfiguration, Name, "profile", fmt.Sprintf("profile %q: negative weight for %q", name, metric), nil)
		}
		weights[key] = weight
		total += weight
	}
	if total == 0 {
		return Profile{}, services.Wrap(services.ErrConfiguration, Name, "profile", fmt.Sprintf("profile %q weights sum to zero", name), nil)
	}
	return Profile{Name: name, Threshold: p.Threshold, Weights: weights}, nil
}

func knownMetric(name string) bool {
	for _, m := range JudgeMetrics {
		if m == name {
			return true
		}
	}
	for _, m := range LocalMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// NeedsJudge reports whether any judge metric carries weight.
func (p Profile) NeedsJudge() bool {
	for _, m := range JudgeMetrics {
		if p.Weights[m] > 0 {
			return true
		}
	}
	return false
}

// Score returns Σ wᵢ·mᵢ / Σ wᵢ rounded to two decimals. Metrics absent from
// metrics count as zero.
func (p Profile) Score(metrics map[string]float64) float64 {
	var sum, total float64
	for metric, weight := range p.Weights {
		if weight <= 0 {
			continue
		}
		sum += weight * metrics[metric]
		total += weight
	}
	if total == 0 {
		return 0
	}
	return math.Round(sum/total*100) / 100
}

// Scorer is the quality stage.
type Scorer struct {
	judge   judge.Evaluator
	profile Profile
}

// New constructs the stage. A judge is required when the profile weights any
// judge metric.
func New(evaluator judge.Evaluator, profile Profile) (*Scorer, error) {
	if profile.NeedsJudge() && evaluator == nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "init", fmt.Sprintf("profile %q requires a judge client", profile.Name), nil)
	}
	return &Scorer{judge: evaluator, profile: profile}, nil
}

func (s *Scorer) Name() string     { return Name }
func (s *Scorer) Kind() stage.Kind { return stage.KindScore }

// Profile returns the active profile.
func (s *Scorer) Profile() Profile { return s.profile }

// Apply scores the record. Metrics and score are stored before the threshold
// decision so rejected records keep their breakdown.
func (s *Scorer) Apply(ctx context.Context, rec *record.Record) stage.Result {
	desc := rec.Field(record.FieldDescription)
	code := rec.Field(record.FieldContent)
	if strings.TrimSpace(code) == "" {
		return stage.Reject(record.RejectValidation, record.ReasonContentEmpty)
	}
	if strings.TrimSpace(desc) == "" {
		return stage.Reject(record.RejectValidation, record.ReasonDescriptionEmpty)
	}

	metrics := make(map[string]float64, len(JudgeMetrics)+len(LocalMetrics))
	reasoning := ""
	if s.profile.NeedsJudge() {
		resp, err := s.judge.Evaluate(ctx, judge.Request{
			Task:      judge.TaskScoreQuality,
			Payload:   desc,
			Reference: code,
		})
		if err != nil {
			return stage.Retryable(err)
		}
		for _, m := range JudgeMetrics {
			if v, ok := resp.Metrics[m]; ok {
				metrics[m] = v
			}
		}
		reasoning = resp.Reasoning
	}
	metrics[MetricStructure] = Structure(code)
	metrics[MetricLexicalMatch] = LexicalMatch(desc, code)

	score := s.profile.Score(metrics)
	rec.SetQuality(metrics, score)
	if reasoning != "" {
		rec.SetMeta(record.MetaQualityReasoning, reasoning)
	}
	rec.SetMeta(record.MetaQualityProfile, s.profile.Name)

	if score < s.profile.Threshold {
		return stage.Reject(record.RejectQuality, ReasonBelowThreshold)
	}
	return stage.Continue()
}

var (
	declarationPattern = regexp.MustCompile(`(?m)^\s*(?:strategy|indicator|study)\s*\(`)
	versionPattern     = regexp.MustCompile(`//\s*@version\s*=\s*\d+`)
	inputPattern       = regexp.MustCompile(`\binput(?:\.\w+)?\s*\(`)
	orderPattern       = regexp.MustCompile(`\b(?:strategy\.(?:entry|close|exit|order)|alertcondition|alert)\s*\(`)
)

// Structure scores how complete a script's skeleton is on a 0-10 scale: a
// declaration (4), a version annotation (2), user inputs (2), and order or
// alert calls (2).
func Structure(code string) float64 {
	var score float64
	if declarationPattern.MatchString(code) {
		score += 4
	}
	if versionPattern.MatchString(code) {
		score += 2
	}
	if inputPattern.MatchString(code) {
		score += 2
	}
	if orderPattern.MatchString(code) {
		score += 2
	}
	return score
}

// LexicalMatch is the term-frequency cosine between description and code
// scaled to 0-10.
func LexicalMatch(description, code string) float64 {
	sim := textutil.CosineSimilarity(textutil.NewFingerprint(description), textutil.NewFingerprint(code))
	return math.Round(sim*1000) / 100
}

// HealthCheck pings the judgment service when the profile needs it.
func (s *Scorer) HealthCheck(ctx context.Context) stage.Health {
	if !s.profile.NeedsJudge() {
		return stage.Healthy(Name)
	}
	return stage.CheckDependency(ctx, Name, s.judge)
}
