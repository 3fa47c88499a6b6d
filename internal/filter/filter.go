// Package filter implements the local, objective pipeline stages. Filters
// never call the judgment service and never modify a record's fields.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"curator/internal/record"
	"curator/internal/stage"
	"curator/internal/textutil"
)

// Stage names.
const (
	NameRequiredFields = "required-fields"
	NameMinLength      = "min-length"
	NameWordCount      = "word-count"
	NameMinLikes       = "min-likes"
	NamePlaceholder    = "placeholder"
)

// Rejection reasons.
const (
	ReasonMissingField        = "missing-field"
	ReasonContentTooShort     = "content-too-short"
	ReasonDescriptionTooShort = "description-too-short"
	ReasonTooFewWords         = "too-few-words"
	ReasonInsufficientLikes   = "insufficient-likes"
	ReasonPlaceholderContent  = "placeholder-content"
)

// placeholderContentMaxRunes bounds the content length considered a stub.
const placeholderContentMaxRunes = 200

// RequiredFields rejects records missing any configured field.
type RequiredFields struct {
	fields []string
}

// NewRequiredFields constructs the stage.
func NewRequiredFields(fields []string) *RequiredFields {
	return &RequiredFields{fields: append([]string(nil), fields...)}
}

func (s *RequiredFields) Name() string     { return NameRequiredFields }
func (s *RequiredFields) Kind() stage.Kind { return stage.KindFilter }

// Apply checks every configured field is present and not blank.
func (s *RequiredFields) Apply(_ context.Context, rec *record.Record) stage.Result {
	for _, field := range s.fields {
		if strings.TrimSpace(rec.Field(field)) == "" {
			return stage.Reject(record.RejectValidation, ReasonMissingField+":"+field)
		}
	}
	return stage.Continue()
}

// MinLength enforces minimum content and description lengths in runes.
type MinLength struct {
	minContent     int
	minDescription int
}

// NewMinLength constructs the stage. Zero disables a check.
func NewMinLength(minContent, minDescription int) *MinLength {
	return &MinLength{minContent: minContent, minDescription: minDescription}
}

func (s *MinLength) Name() string     { return NameMinLength }
func (s *MinLength) Kind() stage.Kind { return stage.KindFilter }

// Apply rejects short content first, then short descriptions.
func (s *MinLength) Apply(_ context.Context, rec *record.Record) stage.Result {
	if runeLen(rec.Field(record.FieldContent)) < s.minContent {
		return stage.Reject(record.RejectValidation, ReasonContentTooShort)
	}
	if runeLen(rec.Field(record.FieldDescription)) < s.minDescription {
		return stage.Reject(record.RejectValidation, ReasonDescriptionTooShort)
	}
	return stage.Continue()
}

func runeLen(text string) int {
	return utf8.RuneCountInString(strings.TrimSpace(text))
}

// WordCount requires a minimum number of words in the description.
type WordCount struct {
	min int
}

// NewWordCount constructs the stage.
func NewWordCount(min int) *WordCount { return &WordCount{min: min} }

func (s *WordCount) Name() string     { return NameWordCount }
func (s *WordCount) Kind() stage.Kind { return stage.KindFilter }

// Apply counts whitespace-separated words in the description.
func (s *WordCount) Apply(_ context.Context, rec *record.Record) stage.Result {
	if textutil.WordCount(rec.Field(record.FieldDescription)) < s.min {
		return stage.Reject(record.RejectQuality, ReasonTooFewWords)
	}
	return stage.Continue()
}

// MinLikes requires a minimum popularity signal. Records without a
// parsable likes count are treated as having none.
type MinLikes struct {
	min int
}

// NewMinLikes constructs the stage.
func NewMinLikes(min int) *MinLikes { return &MinLikes{min: min} }

func (s *MinLikes) Name() string     { return NameMinLikes }
func (s *MinLikes) Kind() stage.Kind { return stage.KindFilter }

// Apply compares the likes count with the minimum.
func (s *MinLikes) Apply(_ context.Context, rec *record.Record) stage.Result {
	if Likes(rec) < s.min {
		return stage.Reject(record.RejectQuality, ReasonInsufficientLikes)
	}
	return stage.Continue()
}

// Likes returns the record's likes count, or 0 when unknown.
func Likes(rec *record.Record) int {
	switch v := rec.Metadata[record.MetaLikesCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Placeholder rejects template or filler text.
type Placeholder struct {
	patterns []*regexp.Regexp
}

// NewPlaceholder compiles the configured phrases as case-insensitive,
// word-bounded patterns.
func NewPlaceholder(phrases []string) (*Placeholder, error) {
	s := &Placeholder{}
	for _, phrase := range phrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("placeholder pattern %q: %w", phrase, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

func (s *Placeholder) Name() string     { return NamePlaceholder }
func (s *Placeholder) Kind() stage.Kind { return stage.KindFilter }

// Apply matches descriptions against the phrases. Content is only matched
// when it is short enough to be a stub.
func (s *Placeholder) Apply(_ context.Context, rec *record.Record) stage.Result {
	description := strings.TrimSpace(rec.Field(record.FieldDescription))
	if description != "" && onlyPunctuation(description) {
		return stage.Reject(record.RejectValidation, ReasonPlaceholderContent)
	}
	if s.matches(description) {
		return stage.Reject(record.RejectValidation, ReasonPlaceholderContent)
	}
	content := strings.TrimSpace(rec.Field(record.FieldContent))
	if utf8.RuneCountInString(content) <= placeholderContentMaxRunes && s.matches(content) {
		return stage.Reject(record.RejectValidation, ReasonPlaceholderContent)
	}
	return stage.Continue()
}

func (s *Placeholder) matches(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range s.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func onlyPunctuation(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
