package filter

import (
	"context"
	"strings"
	"testing"

	"curator/internal/record"
	"curator/internal/stage"
)

func newRecord(description, content string, likes any) *record.Record {
	rec := record.New("r1", 0, map[string]string{
		record.FieldID:          "r1",
		record.FieldDescription: description,
		record.FieldContent:     content,
	})
	if likes != nil {
		rec.SetMeta(record.MetaLikesCount, likes)
	}
	return rec
}

func TestFilters(t *testing.T) {
	longCode := strings.Repeat("x = ta.sma(close, 14)\n", 5)
	longDesc := "A moving average crossover strategy with trailing stops."
	placeholder, err := NewPlaceholder([]string{"lorem ipsum", "coming soon", "your code here"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		stage  stage.Stage
		rec    *record.Record
		reason string
	}{
		{"required ok", NewRequiredFields([]string{"id", "description", "source_code"}), newRecord(longDesc, longCode, nil), ""},
		{"required missing", NewRequiredFields([]string{"id", "description"}), newRecord("   ", longCode, nil), "missing-field:description"},
		{"short content", NewMinLength(50, 30), newRecord(longDesc, "plot(close)", nil), ReasonContentTooShort},
		{"short description", NewMinLength(50, 30), newRecord("EMA", longCode, nil), ReasonDescriptionTooShort},
		{"lengths ok", NewMinLength(50, 30), newRecord(longDesc, longCode, nil), ""},
		{"rune length", NewMinLength(0, 5), newRecord("均线交叉策略", longCode, nil), ""},
		{"few words", NewWordCount(20), newRecord(longDesc, longCode, nil), ReasonTooFewWords},
		{"enough words", NewWordCount(5), newRecord(longDesc, longCode, nil), ""},
		{"likes low", NewMinLikes(100), newRecord(longDesc, longCode, 12), ReasonInsufficientLikes},
		{"likes missing", NewMinLikes(100), newRecord(longDesc, longCode, nil), ReasonInsufficientLikes},
		{"likes ok", NewMinLikes(100), newRecord(longDesc, longCode, 250), ""},
		{"placeholder description", placeholder, newRecord("Coming soon!", longCode, nil), ReasonPlaceholderContent},
		{"punctuation description", placeholder, newRecord("...!!!", longCode, nil), ReasonPlaceholderContent},
		{"placeholder stub code", placeholder, newRecord(longDesc, "// your code here", nil), ReasonPlaceholderContent},
		{"placeholder in long code", placeholder, newRecord(longDesc, longCode+strings.Repeat("// your code here\n", 1)+strings.Repeat("y = 1\n", 40), nil), ""},
		{"clean", placeholder, newRecord(longDesc, longCode, nil), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.stage.Apply(context.Background(), tt.rec)
			if tt.reason == "" {
				if res.Outcome != stage.OutcomeContinue {
					t.Fatalf("expected continue, got %v", res)
				}
				return
			}
			if res.Outcome != stage.OutcomeReject || res.Reason != tt.reason {
				t.Fatalf("expected reject %q, got %v", tt.reason, res)
			}
		})
	}
}

func TestFiltersNeverMutate(t *testing.T) {
	rec := newRecord("EMA", "plot(close)", nil)
	NewMinLength(50, 30).Apply(context.Background(), rec)
	if len(rec.Derived) != 0 || rec.Status != record.StatusPending {
		t.Fatalf("filter mutated record: %+v", rec)
	}
}

func TestClassifyScript(t *testing.T) {
	tests := []struct {
		name string
		code string
		want Classification
	}{
		{"strategy declaration", "//@version=5\nstrategy(\"X\", overlay=true)\nplot(close)", Classification{Type: TypeStrategy, HasPlots: true}},
		{"indicator declaration", "indicator(\"RSI\")\nplot(ta.rsi(close, 14))", Classification{Type: TypeIndicator, HasPlots: true}},
		{"legacy study", "study(title=\"Old\")\nx = close", Classification{Type: TypeIndicator}},
		{"orders without declaration", "if cond\n    strategy.entry(\"L\", strategy.long)", Classification{Type: TypeStrategy, HasOrders: true}},
		{"drawing only", "hline(50)\nplotshape(cond)", Classification{Type: TypeIndicator, HasPlots: true}},
		{"library", "//@version=5\nlibrary(\"utils\")\nexport f(x) => x * 2", Classification{Type: TypeUnknown}},
		{"declaration beats drawing", "strategy(\"S\")\nstrategy.exit(\"x\")\nbgcolor(color.red)", Classification{Type: TypeStrategy, HasOrders: true, HasPlots: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyScript(tt.code); got != tt.want {
				t.Fatalf("ClassifyScript = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifyStage(t *testing.T) {
	longDesc := "A moving average crossover strategy with trailing stops."
	strategies, err := NewClassify(nil)
	if err != nil {
		t.Fatalf("NewClassify: %v", err)
	}
	both, err := NewClassify([]string{"Strategy", " indicator "})
	if err != nil {
		t.Fatalf("NewClassify: %v", err)
	}

	tests := []struct {
		name   string
		stage  *Classify
		code   string
		reason string
		class  string
	}{
		{"strategy kept", strategies, "strategy(\"S\")\nstrategy.entry(\"L\", strategy.long)", "", "strategy"},
		{"indicator rejected", strategies, "indicator(\"I\")\nplot(close)", "disallowed-type:indicator", "indicator"},
		{"unknown rejected", strategies, "x = close * 2", "disallowed-type:unknown", "unknown"},
		{"indicator allowed", both, "indicator(\"I\")\nplot(close)", "", "indicator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord(longDesc, tt.code, nil)
			res := tt.stage.Apply(context.Background(), rec)
			if tt.reason == "" && res.Outcome != stage.OutcomeContinue {
				t.Fatalf("expected continue, got %v", res)
			}
			if tt.reason != "" && (res.Outcome != stage.OutcomeReject || res.Reason != tt.reason || res.Class != record.RejectQuality) {
				t.Fatalf("expected quality reject %q, got %v", tt.reason, res)
			}
			if got := rec.Metadata[record.MetaClassification]; got != tt.class {
				t.Fatalf("classification = %v, want %q", got, tt.class)
			}
			if len(rec.Derived) != 0 {
				t.Fatalf("classify must not touch fields: %+v", rec.Derived)
			}
		})
	}
}

func TestNewClassifyRejectsUnknownType(t *testing.T) {
	if _, err := NewClassify([]string{"strategy", "screener"}); err == nil {
		t.Fatal("expected error for unknown script type")
	}
}
