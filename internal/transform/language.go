package transform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"curator/internal/judge"
	"curator/internal/record"
	"curator/internal/services"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// NameLanguage is the language stage name.
const NameLanguage = "language"

// Language detects the description language and translates it to the target
// language when they differ.
type Language struct {
	judge       judge.Evaluator
	target      language.Tag
	assumeASCII bool
}

// NewLanguage constructs the stage. target is a BCP 47 tag such as "en".
func NewLanguage(evaluator judge.Evaluator, target string, assumeASCII bool) (*Language, error) {
	if evaluator == nil {
		return nil, services.Wrap(services.ErrConfiguration, NameLanguage, "init", "judge client required", nil)
	}
	tag, err := language.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, NameLanguage, "init", fmt.Sprintf("invalid target language %q", target), err)
	}
	return &Language{judge: evaluator, target: tag, assumeASCII: assumeASCII}, nil
}

func (s *Language) Name() string     { return NameLanguage }
func (s *Language) Kind() stage.Kind { return stage.KindTransform }

// Apply classifies the description and translates it when needed.
func (s *Language) Apply(ctx context.Context, rec *record.Record) stage.Result {
	desc := rec.Field(record.FieldDescription)
	if strings.TrimSpace(desc) == "" {
		return stage.Continue()
	}
	if s.assumeASCII && plainASCII(desc) {
		rec.SetMeta(record.MetaWasTranslated, false)
		rec.SetMeta(record.MetaOriginalLanguage, s.target.String())
		return stage.Continue()
	}

	detected, err := s.judge.Evaluate(ctx, judge.Request{Task: judge.TaskClassifyLanguage, Payload: desc})
	if err != nil {
		return stage.Retryable(err)
	}
	tag, label := NormalizeLanguage(detected.Result)
	if tag != language.Und && sameBase(tag, s.target) {
		rec.SetMeta(record.MetaWasTranslated, false)
		rec.SetMeta(record.MetaOriginalLanguage, label)
		return stage.Continue()
	}

	translated, err := s.judge.Evaluate(ctx, judge.Request{
		Task:    judge.TaskTranslate,
		Payload: desc,
		Params:  map[string]string{"target_language": DisplayName(s.target)},
	})
	if err != nil {
		return stage.Retryable(err)
	}
	rec.SetDerived(record.FieldDescription, strings.TrimSpace(translated.Result))
	rec.SetMeta(record.MetaWasTranslated, true)
	rec.SetMeta(record.MetaOriginalLanguage, label)
	return stage.Continue()
}

// Fallback keeps the untranslated description.
func (s *Language) Fallback(ctx context.Context, rec *record.Record, _ error) stage.Result {
	rec.SetMeta(record.MetaWasTranslated, false)
	return keepOriginal(ctx, rec, NameLanguage)
}

// plainASCII reports whether text is written in ASCII letters only.
func plainASCII(text string) bool {
	if textutil.LatinRatio(text) < 1 {
		return false
	}
	for _, r := range text {
		if r > unicode.MaxASCII && !unicode.IsSpace(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

func sameBase(a, b language.Tag) bool {
	ab, _ := a.Base()
	bb, _ := b.Base()
	return ab == bb
}

// NormalizeLanguage maps a judge label such as "zh-CN", "Chinese" or
// "Chinese (Simplified)" onto a BCP 47 tag. The returned label is the tag
// string, or the trimmed input when it could not be recognised.
func NormalizeLanguage(label string) (language.Tag, string) {
	clean := strings.TrimSpace(label)
	if clean == "" {
		return language.Und, ""
	}
	if tag, err := language.Parse(clean); err == nil && tag != language.Und {
		return tag, tag.String()
	}
	names := englishNames()
	key := strings.ToLower(clean)
	if tag, ok := names[key]; ok {
		return tag, tag.String()
	}
	if idx := strings.IndexAny(key, "(,"); idx > 0 {
		if tag, ok := names[strings.TrimSpace(key[:idx])]; ok {
			return tag, tag.String()
		}
	}
	return language.Und, clean
}

// DisplayName returns the English name of tag, e.g. "English".
func DisplayName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

var (
	namesOnce sync.Once
	nameIndex map[string]language.Tag
)

var knownLanguages = []string{
	"en", "zh", "zh-Hans", "zh-Hant", "ja", "ko", "ru", "uk", "es", "pt", "de",
	"fr", "it", "nl", "pl", "tr", "vi", "id", "ms", "th", "ar", "fa", "he",
	"hi", "bn", "sv", "cs", "ro", "el", "hu",
}

func englishNames() map[string]language.Tag {
	namesOnce.Do(func() {
		nameIndex = make(map[string]language.Tag, len(knownLanguages)*2)
		namer := display.English.Tags()
		for _, code := range knownLanguages {
			tag := language.MustParse(code)
			if name := namer.Name(tag); name != "" {
				nameIndex[strings.ToLower(name)] = tag
			}
			base, _ := tag.Base()
			if name := display.English.Languages().Name(base); name != "" {
				if _, exists := nameIndex[strings.ToLower(name)]; !exists {
					nameIndex[strings.ToLower(name)] = tag
				}
			}
		}
	})
	return nameIndex
}

// HealthCheck pings the judgment service.
func (s *Language) HealthCheck(ctx context.Context) stage.Health {
	return stage.CheckDependency(ctx, NameLanguage, s.judge)
}
