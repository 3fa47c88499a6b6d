package transform

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"

	"curator/internal/judge"
	"curator/internal/record"
	"curator/internal/services"
	"curator/internal/stage"
)

type fakeJudge struct {
	mu       sync.Mutex
	requests []judge.Request
	respond  func(judge.Request) (judge.Response, error)
}

func (f *fakeJudge) Evaluate(_ context.Context, req judge.Request) (judge.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeJudge) tasks() []judge.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]judge.Task, 0, len(f.requests))
	for _, req := range f.requests {
		out = append(out, req.Task)
	}
	return out
}

func newRecord(desc, code string) *record.Record {
	return record.New("r1", 0, map[string]string{
		record.FieldID:          "r1",
		record.FieldDescription: desc,
		record.FieldContent:     code,
	})
}

func TestStripMarkup(t *testing.T) {
	in := `<p>Buy when <b>RSI</b> &lt; 30</p><script>alert(1)</script><ul><li>fast MA</li><li>slow&nbsp;MA</li></ul>line one<br>line two`
	want := "Buy when RSI < 30\n\nfast MA\n\nslow MA\n\nline one\nline two"
	if got := StripMarkup(in); got != want {
		t.Fatalf("StripMarkup mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestMarkupStageLeavesPlainText(t *testing.T) {
	rec := newRecord("Enter when close > open and exit when fast < slow.", "code")
	if res := NewMarkup().Apply(context.Background(), rec); res.Outcome != stage.OutcomeContinue {
		t.Fatalf("unexpected result %v", res)
	}
	if _, ok := rec.Derived[record.FieldDescription]; ok {
		t.Fatal("plain description must not be rewritten")
	}
	if rec.Metadata[record.MetaMarkupStripped] != false {
		t.Fatalf("expected markup_stripped=false, got %v", rec.Metadata[record.MetaMarkupStripped])
	}
}

func TestMarkupStageStripsTags(t *testing.T) {
	rec := newRecord("<div>Trend <i>follower</i></div>", "code")
	NewMarkup().Apply(context.Background(), rec)
	if got := rec.Field(record.FieldDescription); got != "Trend follower" {
		t.Fatalf("description = %q", got)
	}
	if rec.Metadata[record.MetaMarkupStripped] != true {
		t.Fatal("expected markup_stripped=true")
	}
}

func TestLanguageSkipsJudgeForASCII(t *testing.T) {
	fake := &fakeJudge{respond: func(judge.Request) (judge.Response, error) {
		t.Fatal("judge must not be called")
		return judge.Response{}, nil
	}}
	s, err := NewLanguage(fake, "en", true)
	if err != nil {
		t.Fatalf("NewLanguage: %v", err)
	}
	rec := newRecord("A simple moving average crossover.", "code")
	if res := s.Apply(context.Background(), rec); res.Outcome != stage.OutcomeContinue {
		t.Fatalf("unexpected result %v", res)
	}
	if rec.Metadata[record.MetaWasTranslated] != false || rec.Metadata[record.MetaOriginalLanguage] != "en" {
		t.Fatalf("unexpected metadata %v", rec.Metadata)
	}
}

func TestLanguageTranslatesForeignText(t *testing.T) {
	fake := &fakeJudge{respond: func(req judge.Request) (judge.Response, error) {
		switch req.Task {
		case judge.TaskClassifyLanguage:
			return judge.Response{Result: "Chinese (Simplified)"}, nil
		case judge.TaskTranslate:
			if req.Params["target_language"] != "English" {
				t.Fatalf("target_language = %q", req.Params["target_language"])
			}
			return judge.Response{Result: " Moving average crossover strategy "}, nil
		}
		return judge.Response{}, errors.New("unexpected task")
	}}
	s, err := NewLanguage(fake, "en", true)
	if err != nil {
		t.Fatalf("NewLanguage: %v", err)
	}
	rec := newRecord("均线交叉策略", "code")
	s.Apply(context.Background(), rec)

	if diff := cmp.Diff([]judge.Task{judge.TaskClassifyLanguage, judge.TaskTranslate}, fake.tasks()); diff != "" {
		t.Fatalf("task sequence mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Field(record.FieldDescription); got != "Moving average crossover strategy" {
		t.Fatalf("description = %q", got)
	}
	if rec.Raw[record.FieldDescription] != "均线交叉策略" {
		t.Fatal("raw description must be preserved")
	}
	if rec.Metadata[record.MetaWasTranslated] != true || rec.Metadata[record.MetaOriginalLanguage] != "zh" {
		t.Fatalf("unexpected metadata %v", rec.Metadata)
	}
}

func TestLanguageKeepsTargetLanguage(t *testing.T) {
	fake := &fakeJudge{respond: func(judge.Request) (judge.Response, error) {
		return judge.Response{Result: "en-US"}, nil
	}}
	s, _ := NewLanguage(fake, "en", false)
	rec := newRecord("Café strategy with résumé", "code")
	s.Apply(context.Background(), rec)
	if len(fake.tasks()) != 1 {
		t.Fatalf("expected only classification, got %v", fake.tasks())
	}
	if _, ok := rec.Derived[record.FieldDescription]; ok {
		t.Fatal("english description must not be rewritten")
	}
}

func TestLanguageRetryableAndFallback(t *testing.T) {
	cause := services.Wrap(services.ErrTransient, "judge", "classify-language", "failed after 3 attempts", errors.New("503"))
	fake := &fakeJudge{respond: func(judge.Request) (judge.Response, error) { return judge.Response{}, cause }}
	s, _ := NewLanguage(fake, "en", true)
	rec := newRecord("Стратегия пересечения", "code")
	res := s.Apply(context.Background(), rec)
	if res.Outcome != stage.OutcomeRetry || !errors.Is(res.Err, services.ErrTransient) {
		t.Fatalf("expected transient retry, got %v", res)
	}
	if res := s.Fallback(context.Background(), rec, res.Err); res.Outcome != stage.OutcomeContinue {
		t.Fatalf("fallback result %v", res)
	}
	if rec.Metadata[FallbackKey(NameLanguage)] != true {
		t.Fatal("expected fallback marker")
	}
	if rec.Field(record.FieldDescription) != "Стратегия пересечения" {
		t.Fatal("fallback must keep the original description")
	}
}

func TestNewLanguageRejectsBadTarget(t *testing.T) {
	if _, err := NewLanguage(&fakeJudge{}, "not a tag!", true); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewLanguage(nil, "en", true); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for nil judge, got %v", err)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		in   string
		want language.Tag
	}{
		{"en", language.English},
		{"zh-CN", language.MustParse("zh-CN")},
		{"Russian", language.Russian},
		{"spanish", language.Spanish},
		{"Chinese (Traditional)", language.Chinese},
	}
	for _, tc := range cases {
		got, _ := NormalizeLanguage(tc.in)
		gb, _ := got.Base()
		wb, _ := tc.want.Base()
		if gb != wb {
			t.Fatalf("NormalizeLanguage(%q) = %v, want base %v", tc.in, got, wb)
		}
	}
	if tag, label := NormalizeLanguage("klingonese"); tag != language.Und || label != "klingonese" {
		t.Fatalf("unknown label = %v %q", tag, label)
	}
}

func TestStripPresentation(t *testing.T) {
	code := strings.Join([]string{
		"//@version=5",
		`strategy("Cross", overlay=true)`,
		"fast = ta.sma(close, 10)",
		"slow = ta.sma(close, 30)",
		"// === Plotting ===",
		"plot(fast, color=color.blue)",
		"p_slow = plot(slow)",
		"fill(p_slow, p_slow)",
		"bgcolor(fast > slow ? color.green : na)",
		`var label lbl = label.new(bar_index, high, "x",`,
		"     style=label.style_label_down)",
		"label.set_text(lbl, str.tostring(fast))",
		"if ta.crossover(fast, slow)",
		`    strategy.entry("L", strategy.long)`,
		"plotshape(ta.crossover(fast, slow), style=shape.triangleup)",
	}, "\n")
	want := strings.Join([]string{
		"//@version=5",
		`strategy("Cross", overlay=true)`,
		"fast = ta.sma(close, 10)",
		"slow = ta.sma(close, 30)",
		"if ta.crossover(fast, slow)",
		`    strategy.entry("L", strategy.long)`,
	}, "\n")
	got := StripPresentation(code)
	if diff := cmp.Diff(want, got.Code); diff != "" {
		t.Fatalf("code mismatch (-want +got):\n%s", diff)
	}
	if got.Removed != 9 {
		t.Fatalf("removed = %d, want 9", got.Removed)
	}
}

func TestPresentationStage(t *testing.T) {
	rec := newRecord("desc", "x = ta.ema(close, 5)\nplot(x)")
	s := NewPresentation(nil, true)
	if res := s.Apply(context.Background(), rec); res.Outcome != stage.OutcomeContinue {
		t.Fatalf("unexpected result %v", res)
	}
	if got := rec.Field(record.FieldContent); got != "x = ta.ema(close, 5)" {
		t.Fatalf("content = %q", got)
	}
	if rec.Metadata[record.MetaVisualizationRemoved] != true || rec.Metadata[record.MetaRemovedLinesCount] != 1 {
		t.Fatalf("unexpected metadata %v", rec.Metadata)
	}
}

func TestPresentationRefinement(t *testing.T) {
	fake := &fakeJudge{respond: func(req judge.Request) (judge.Response, error) {
		if req.Task != judge.TaskStripPresentation {
			t.Fatalf("unexpected task %s", req.Task)
		}
		return judge.Response{Result: "x = ta.ema(close, 5)\n"}, nil
	}}
	rec := newRecord("desc", "x = ta.ema(close, 5)\ncol = color.red\nplot(x, color=col)")
	NewPresentation(fake, true).Apply(context.Background(), rec)
	if got := rec.Field(record.FieldContent); got != "x = ta.ema(close, 5)" {
		t.Fatalf("content = %q", got)
	}

	untouched := newRecord("desc", "x = ta.ema(close, 5)")
	NewPresentation(fake, true).Apply(context.Background(), untouched)
	if len(fake.tasks()) != 1 {
		t.Fatalf("judge must only refine code that had presentation lines, calls=%d", len(fake.tasks()))
	}
}

func TestDescriptionAugmentsWeakMatch(t *testing.T) {
	fake := &fakeJudge{respond: func(req judge.Request) (judge.Response, error) {
		if req.Reference == "" {
			t.Fatal("compare-similarity must carry the code as reference")
		}
		return judge.Response{Score: 4, Result: "Buys on a fast/slow SMA crossover."}, nil
	}}
	s, err := NewDescription(fake, 6)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	rec := newRecord("Great script!!", "fast = ta.sma(close, 10)")
	s.Apply(context.Background(), rec)
	if got := rec.Field(record.FieldDescription); got != "Buys on a fast/slow SMA crossover." {
		t.Fatalf("description = %q", got)
	}
	if rec.Metadata[record.MetaDescriptionAugmented] != true || rec.Metadata[record.MetaDescriptionMatch] != 4.0 {
		t.Fatalf("unexpected metadata %v", rec.Metadata)
	}
}

func TestDescriptionKeepsGoodMatch(t *testing.T) {
	fake := &fakeJudge{respond: func(judge.Request) (judge.Response, error) {
		return judge.Response{Score: 8.5, Result: "ignored rewrite"}, nil
	}}
	s, _ := NewDescription(fake, 6)
	rec := newRecord("Buys on a crossover.", "fast = ta.sma(close, 10)")
	s.Apply(context.Background(), rec)
	if _, ok := rec.Derived[record.FieldDescription]; ok {
		t.Fatal("description above threshold must not change")
	}
	if rec.Metadata[record.MetaDescriptionAugmented] != false {
		t.Fatal("expected description_augmented=false")
	}
}

func TestTransformsImplementFallback(t *testing.T) {
	lang, _ := NewLanguage(&fakeJudge{}, "en", true)
	desc, _ := NewDescription(&fakeJudge{}, 6)
	symbols, _ := NewSymbols(&fakeJudge{})
	for _, s := range []stage.Stage{lang, NewPresentation(nil, false), desc, symbols} {
		if _, ok := s.(stage.Fallbacker); !ok {
			t.Fatalf("%s must implement stage.Fallbacker", s.Name())
		}
	}
}

func TestPresentationRejectsPlotOnlyScript(t *testing.T) {
	fake := &fakeJudge{respond: func(judge.Request) (judge.Response, error) {
		return judge.Response{Result: "unused"}, nil
	}}
	rec := newRecord("desc", "plot(close)\nbgcolor(close > open ? color.green : na)\nplotshape(close > open)")
	res := NewPresentation(fake, true).Apply(context.Background(), rec)
	if res.Outcome != stage.OutcomeReject || res.Reason != record.ReasonContentEmpty || res.Class != record.RejectValidation {
		t.Fatalf("unexpected result %v", res)
	}
	if len(fake.tasks()) != 0 {
		t.Fatalf("judge must not refine empty code, tasks=%v", fake.tasks())
	}
	if _, ok := rec.Derived[record.FieldContent]; ok {
		t.Fatal("rejected record must keep its original content")
	}
}

func TestMarkupRejectsTagOnlyDescription(t *testing.T) {
	rec := newRecord(`<div><img src="chart.png"/><br/></div>`, "x = 1")
	res := NewMarkup().Apply(context.Background(), rec)
	if res.Outcome != stage.OutcomeReject || res.Reason != record.ReasonDescriptionEmpty {
		t.Fatalf("unexpected result %v", res)
	}
}

func TestParseSymbols(t *testing.T) {
	got := ParseSymbols(`btc/usdt, ETH; "sol" | btc/usdt  gold xau eur`)
	want := []string{"BTC/USDT", "ETH", "SOL", "GOLD", "XAU"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("symbols mismatch (-want +got):\n%s", diff)
	}
	if got := ParseSymbols("  "); len(got) != 0 {
		t.Fatalf("expected no symbols, got %v", got)
	}
}

func TestSymbolsRecordsInferredInstruments(t *testing.T) {
	fake := &fakeJudge{respond: func(req judge.Request) (judge.Response, error) {
		if req.Params["name"] != "VWAP Crypto" {
			t.Errorf("expected the record name as context, got %v", req.Params)
		}
		return judge.Response{Result: "btc/usdt, eth/usdt", Score: 0.9}, nil
	}}
	s, err := NewSymbols(fake)
	if err != nil {
		t.Fatalf("NewSymbols: %v", err)
	}
	rec := record.New("r1", 0, map[string]string{
		record.FieldDescription: "VWAP entries for BTC/USDT and ETH/USDT on 15 minute bars.",
		record.FieldContent:     "strategy(\"v\")",
		record.FieldName:        "VWAP Crypto",
	})
	if res := s.Apply(context.Background(), rec); res.Outcome != stage.OutcomeContinue {
		t.Fatalf("unexpected result %v", res)
	}
	if got := rec.Metadata[record.MetaRelevantSymbols]; got != "BTC/USDT,ETH/USDT" {
		t.Fatalf("relevant_symbols = %v", got)
	}
	if got := rec.Metadata[record.MetaSymbolsConfidence]; got != 0.9 {
		t.Fatalf("symbols_confidence = %v", got)
	}
	if len(rec.Derived) != 0 {
		t.Fatalf("symbols must not rewrite fields: %+v", rec.Derived)
	}
}

func TestSymbolsRetryableAndFallback(t *testing.T) {
	cause := services.Wrap(services.ErrTransient, "judge", "infer-symbols", "failed after 3 attempts", errors.New("503"))
	fake := &fakeJudge{respond: func(judge.Request) (judge.Response, error) { return judge.Response{}, cause }}
	s, _ := NewSymbols(fake)
	rec := newRecord("Trades gold breakouts.", "strategy(\"g\")")
	res := s.Apply(context.Background(), rec)
	if res.Outcome != stage.OutcomeRetry || !errors.Is(res.Err, services.ErrTransient) {
		t.Fatalf("expected transient retry, got %v", res)
	}
	if res := s.Fallback(context.Background(), rec, res.Err); res.Outcome != stage.OutcomeContinue {
		t.Fatalf("fallback result %v", res)
	}
	if rec.Metadata[FallbackKey(NameSymbols)] != true {
		t.Fatal("expected fallback marker")
	}
	if _, ok := rec.Metadata[record.MetaRelevantSymbols]; ok {
		t.Fatal("fallback must not invent symbols")
	}
}

func TestNewSymbolsRequiresJudge(t *testing.T) {
	if _, err := NewSymbols(nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
