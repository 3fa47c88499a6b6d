package transform

import (
	"context"
	"strings"
	"unicode"

	"curator/internal/judge"
	"curator/internal/record"
	"curator/internal/services"
	"curator/internal/stage"
)

// NameSymbols is the symbol inference stage name.
const NameSymbols = "symbols"

// maxSymbols caps how many instruments are kept per record.
const maxSymbols = 5

// Symbols asks the judge which instruments a strategy targets and records
// them as a comma-separated list. It never rejects.
type Symbols struct {
	judge judge.Evaluator
}

// NewSymbols constructs the stage.
func NewSymbols(evaluator judge.Evaluator) (*Symbols, error) {
	if evaluator == nil {
		return nil, services.Wrap(services.ErrConfiguration, NameSymbols, "init", "judge client required", nil)
	}
	return &Symbols{judge: evaluator}, nil
}

func (s *Symbols) Name() string     { return NameSymbols }
func (s *Symbols) Kind() stage.Kind { return stage.KindTransform }

// Apply infers symbols from the description.
func (s *Symbols) Apply(ctx context.Context, rec *record.Record) stage.Result {
	desc := rec.Field(record.FieldDescription)
	if strings.TrimSpace(desc) == "" {
		return stage.Continue()
	}
	req := judge.Request{Task: judge.TaskInferSymbols, Payload: desc}
	if name := strings.TrimSpace(rec.Field(record.FieldName)); name != "" {
		req.Params = map[string]string{"name": name}
	}
	resp, err := s.judge.Evaluate(ctx, req)
	if err != nil {
		return stage.Retryable(err)
	}
	rec.SetMeta(record.MetaRelevantSymbols, strings.Join(ParseSymbols(resp.Result), ","))
	rec.SetMeta(record.MetaSymbolsConfidence, resp.Score)
	return stage.Continue()
}

// Fallback leaves the record without symbols.
func (s *Symbols) Fallback(ctx context.Context, rec *record.Record, _ error) stage.Result {
	return keepOriginal(ctx, rec, NameSymbols)
}

// HealthCheck pings the judgment service.
func (s *Symbols) HealthCheck(ctx context.Context) stage.Health {
	return stage.CheckDependency(ctx, NameSymbols, s.judge)
}

// ParseSymbols splits a judge reply into upper-case symbols, dropping
// duplicates and anything past the cap.
func ParseSymbols(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || unicode.IsSpace(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, maxSymbols)
	for _, field := range fields {
		symbol := strings.ToUpper(strings.Trim(field, `"'[]()`))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		out = append(out, symbol)
		if len(out) == maxSymbols {
			break
		}
	}
	return out
}
