package transform

import (
	"context"
	"regexp"
	"strings"

	"curator/internal/judge"
	"curator/internal/record"
	"curator/internal/stage"
)

// NamePresentation is the presentation stage name.
const NamePresentation = "presentation"

const declPrefix = `^\s*(?:(?:var|varip)\s+)?(?:\w+\s+)?(?:\w+\s*:?=\s*)?`

var presentationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + declPrefix + `(?:plot|plotshape|plotchar|plotcandle|plotbar|plotarrow|hline|fill|bgcolor|barcolor)\s*\(`),
	regexp.MustCompile(`(?i)` + declPrefix + `(?:label|table|box|line)\.new\s*\(`),
	regexp.MustCompile(`(?i)^\s*label\.set_\w+\s*\(`),
	regexp.MustCompile(`(?i)^\s*table\.cell\s*\(`),
	regexp.MustCompile(`(?i)^\s*//\s*===.*(?:plot|visual|label|draw)`),
}

// StripResult summarises a rule-based presentation pass.
type StripResult struct {
	Code    string
	Removed int
	Samples []string
}

// StripPresentation removes chart-drawing statements from code. A removed
// call whose parentheses are not closed on its first line takes its
// continuation lines with it.
func StripPresentation(code string) StripResult {
	lines := strings.Split(code, "\n")
	kept := make([]string, 0, len(lines))
	var result StripResult
	depth := 0
	for _, line := range lines {
		if depth > 0 {
			depth += parenDelta(line)
			if depth < 0 {
				depth = 0
			}
			result.Removed++
			continue
		}
		if isPresentationLine(line) {
			result.Removed++
			if len(result.Samples) < 10 {
				result.Samples = append(result.Samples, strings.TrimSpace(line))
			}
			if !strings.HasPrefix(strings.TrimSpace(line), "//") {
				if d := parenDelta(line); d > 0 {
					depth = d
				}
			}
			continue
		}
		kept = append(kept, line)
	}
	result.Code = strings.Join(kept, "\n")
	return result
}

func isPresentationLine(line string) bool {
	for _, pattern := range presentationPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// parenDelta counts unbalanced parentheses outside string literals and
// trailing line comments.
func parenDelta(line string) int {
	delta := 0
	var quote rune
	prev := rune(0)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote && prev != '\\' {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '/' && prev == '/':
			return delta
		case r == '(':
			delta++
		case r == ')':
			delta--
		}
		prev = r
	}
	return delta
}

// Presentation removes chart-drawing code, optionally refined by the judge.
type Presentation struct {
	judge  judge.Evaluator
	refine bool
}

// NewPresentation constructs the stage. The judge is consulted only when
// refine is set.
func NewPresentation(evaluator judge.Evaluator, refine bool) *Presentation {
	return &Presentation{judge: evaluator, refine: refine && evaluator != nil}
}

func (s *Presentation) Name() string     { return NamePresentation }
func (s *Presentation) Kind() stage.Kind { return stage.KindTransform }

// Apply strips presentation lines from the content field.
func (s *Presentation) Apply(ctx context.Context, rec *record.Record) stage.Result {
	code := rec.Field(record.FieldContent)
	stripped := StripPresentation(code)
	cleaned := stripped.Code

	if s.refine && stripped.Removed > 0 && strings.TrimSpace(cleaned) != "" {
		resp, err := s.judge.Evaluate(ctx, judge.Request{Task: judge.TaskStripPresentation, Payload: cleaned})
		if err != nil {
			return stage.Retryable(err)
		}
		if refined := strings.TrimSpace(resp.Result); refined != "" {
			cleaned = refined
		}
	}

	if strings.TrimSpace(cleaned) == "" {
		rec.SetMeta(record.MetaRemovedLinesCount, stripped.Removed)
		return stage.Reject(record.RejectValidation, record.ReasonContentEmpty)
	}
	if cleaned != code {
		rec.SetDerived(record.FieldContent, cleaned)
	}
	rec.SetMeta(record.MetaVisualizationRemoved, stripped.Removed > 0)
	rec.SetMeta(record.MetaRemovedLinesCount, stripped.Removed)
	return stage.Continue()
}

// Fallback keeps the original content.
func (s *Presentation) Fallback(ctx context.Context, rec *record.Record, _ error) stage.Result {
	rec.SetMeta(record.MetaVisualizationRemoved, false)
	rec.SetMeta(record.MetaRemovedLinesCount, 0)
	return keepOriginal(ctx, rec, NamePresentation)
}

// HealthCheck pings the judgment service when refinement is enabled.
func (s *Presentation) HealthCheck(ctx context.Context) stage.Health {
	if !s.refine {
		return stage.Healthy(NamePresentation)
	}
	return stage.CheckDependency(ctx, NamePresentation, s.judge)
}
