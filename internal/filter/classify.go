package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"curator/internal/record"
	"curator/internal/stage"
)

// NameClassify is the script classification stage name.
const NameClassify = "classify"

// ReasonDisallowedType prefixes rejections for script types outside the
// allowed list.
const ReasonDisallowedType = "disallowed-type"

// ScriptType is the kind of script a record's content declares.
type ScriptType string

// Script types.
const (
	TypeStrategy  ScriptType = "strategy"
	TypeIndicator ScriptType = "indicator"
	TypeUnknown   ScriptType = "unknown"
)

var (
	strategyDecl  = regexp.MustCompile(`(?i)\bstrategy\s*\(|@strategy\b`)
	indicatorDecl = regexp.MustCompile(`(?i)\b(?:indicator|study)\s*\(|@indicator\b`)
	orderCalls    = regexp.MustCompile(`(?i)\bstrategy\.(?:entry|order|exit|close)\b`)
	drawingCalls  = regexp.MustCompile(`(?i)\b(?:plot|plotshape|plotchar|plotarrow|hline|bgcolor|barcolor|fill|line\.new|box\.new|label\.new)\s*\(`)
)

// Classification describes what a script declares and does.
type Classification struct {
	Type      ScriptType
	HasOrders bool
	HasPlots  bool
}

// ClassifyScript inspects code. An explicit declaration wins; otherwise
// order calls mark a strategy and drawing calls an indicator.
func ClassifyScript(code string) Classification {
	cls := Classification{
		Type:      TypeUnknown,
		HasOrders: orderCalls.MatchString(code),
		HasPlots:  drawingCalls.MatchString(code),
	}
	switch {
	case strategyDecl.MatchString(code):
		cls.Type = TypeStrategy
	case indicatorDecl.MatchString(code):
		cls.Type = TypeIndicator
	case cls.HasOrders:
		cls.Type = TypeStrategy
	case cls.HasPlots:
		cls.Type = TypeIndicator
	}
	return cls
}

// ParseScriptType accepts the configured spelling of a script type.
func ParseScriptType(value string) (ScriptType, error) {
	switch t := ScriptType(strings.ToLower(strings.TrimSpace(value))); t {
	case TypeStrategy, TypeIndicator, TypeUnknown:
		return t, nil
	default:
		return "", fmt.Errorf("unknown script type %q (want strategy, indicator or unknown)", value)
	}
}

// Classify rejects records whose script type is not in the allowed list.
// The detected type is recorded either way.
type Classify struct {
	allowed map[ScriptType]bool
}

// NewClassify constructs the stage. An empty list allows strategies only.
func NewClassify(allowed []string) (*Classify, error) {
	s := &Classify{allowed: make(map[ScriptType]bool)}
	for _, value := range allowed {
		t, err := ParseScriptType(value)
		if err != nil {
			return nil, err
		}
		s.allowed[t] = true
	}
	if len(s.allowed) == 0 {
		s.allowed[TypeStrategy] = true
	}
	return s, nil
}

func (s *Classify) Name() string     { return NameClassify }
func (s *Classify) Kind() stage.Kind { return stage.KindFilter }

// Apply classifies the content and annotates the record.
func (s *Classify) Apply(_ context.Context, rec *record.Record) stage.Result {
	cls := ClassifyScript(rec.Field(record.FieldContent))
	rec.SetMeta(record.MetaClassification, string(cls.Type))
	if !s.allowed[cls.Type] {
		return stage.Reject(record.RejectQuality, ReasonDisallowedType+":"+string(cls.Type))
	}
	return stage.Continue()
}
