// Package record defines the unit of work that flows through the curation
// pipeline and the entry shape written to output artifacts.
package record

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// RejectClass separates structural problems from substantive quality decisions.
type RejectClass string

const (
	RejectValidation RejectClass = "validation"
	RejectQuality    RejectClass = "quality"
)

// Rejection reasons shared by stages that rewrite fields.
const (
	ReasonContentEmpty     = "content-empty"
	ReasonDescriptionEmpty = "description-empty"
)

// Well-known field and metadata keys.
const (
	FieldID          = "id"
	FieldDescription = "description"
	FieldContent     = "source_code"
	FieldName        = "name"

	MetaLikesCount           = "likes_count"
	MetaSyntheticID          = "synthetic_id"
	MetaWasTranslated        = "was_translated"
	MetaOriginalLanguage     = "original_language"
	MetaVisualizationRemoved = "visualization_removed"
	MetaRemovedLinesCount    = "removed_lines_count"
	MetaMarkupStripped       = "markup_stripped"
	MetaDescriptionMatch     = "description_match_score"
	MetaDescriptionAugmented = "description_augmented"
	MetaQualityReasoning     = "quality_reasoning"
	MetaQualityProfile       = "quality_profile"
	MetaClassification       = "classification"
	MetaRelevantSymbols      = "relevant_symbols"
	MetaSymbolsConfidence    = "symbols_confidence"
)

// Record is one description/content pair plus metadata. A record is owned by a
// single worker while it moves through the pipeline.
type Record struct {
	ID             string
	SourceIndex    int
	Raw            map[string]string
	Derived        map[string]string
	Status         Status
	Reason         string
	RejectClass    RejectClass
	QualityMetrics map[string]float64
	QualityScore   *float64
	Metadata       map[string]any
}

// New constructs a pending record.
func New(id string, index int, raw map[string]string) *Record {
	if raw == nil {
		raw = map[string]string{}
	}
	return &Record{
		ID:          id,
		SourceIndex: index,
		Raw:         raw,
		Derived:     map[string]string{},
		Status:      StatusPending,
		Metadata:    map[string]any{},
	}
}

// Field returns the current value of a named field, preferring derived values.
func (r *Record) Field(name string) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Derived[name]; ok {
		return v
	}
	return r.Raw[name]
}

// SetDerived stores a stage output. It is a no-op once the record is final.
func (r *Record) SetDerived(name, value string) {
	if r == nil || r.Final() {
		return
	}
	if r.Derived == nil {
		r.Derived = map[string]string{}
	}
	r.Derived[name] = value
}

// SetMeta stores a metadata value. It is a no-op once the record is final.
func (r *Record) SetMeta(key string, value any) {
	if r == nil || r.Final() {
		return
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
}

// SetQuality stores the quality breakdown and score.
func (r *Record) SetQuality(metrics map[string]float64, score float64) {
	if r == nil || r.Final() {
		return
	}
	r.QualityMetrics = metrics
	r.QualityScore = &score
}

// Reject marks the record rejected. The first rejection wins.
func (r *Record) Reject(class RejectClass, reason string) {
	if r == nil || r.Final() {
		return
	}
	r.Status = StatusRejected
	r.RejectClass = class
	r.Reason = strings.TrimSpace(reason)
	if r.Reason == "" {
		r.Reason = "rejected"
	}
}

// Accept marks a pending record accepted.
func (r *Record) Accept() {
	if r == nil || r.Final() {
		return
	}
	r.Status = StatusAccepted
}

// Final reports whether the record has left the pipeline.
func (r *Record) Final() bool {
	return r != nil && (r.Status == StatusAccepted || r.Status == StatusRejected)
}

// ReasonGroup collapses parameterized rejection reasons into the bucket used
// for reporting, e.g. "duplicate-of:abc" becomes "duplicate-of".
func ReasonGroup(reason string) string {
	reason = strings.TrimSpace(reason)
	if idx := strings.Index(reason, ":"); idx > 0 {
		return reason[:idx]
	}
	return reason
}

// Entry is the persisted form of a finished record.
type Entry struct {
	ID             string             `json:"id" msgpack:"id"`
	SourceIndex    int                `json:"source_index" msgpack:"source_index"`
	Status         Status             `json:"status" msgpack:"status"`
	Reason         string             `json:"reason,omitempty" msgpack:"reason,omitempty"`
	RejectClass    RejectClass        `json:"reject_class,omitempty" msgpack:"reject_class,omitempty"`
	Raw            map[string]string  `json:"raw_fields" msgpack:"raw_fields"`
	Derived        map[string]string  `json:"derived_fields,omitempty" msgpack:"derived_fields,omitempty"`
	QualityScore   *float64           `json:"quality_score,omitempty" msgpack:"quality_score,omitempty"`
	QualityMetrics map[string]float64 `json:"quality_metrics,omitempty" msgpack:"quality_metrics,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CompletedAt    time.Time          `json:"completed_at" msgpack:"completed_at"`
}

// Entry converts a final record into its persisted form.
func (r *Record) Entry() Entry {
	return Entry{
		ID:             r.ID,
		SourceIndex:    r.SourceIndex,
		Status:         r.Status,
		Reason:         r.Reason,
		RejectClass:    r.RejectClass,
		Raw:            r.Raw,
		Derived:        r.Derived,
		QualityScore:   r.QualityScore,
		QualityMetrics: r.QualityMetrics,
		Metadata:       r.Metadata,
		CompletedAt:    time.Now().UTC(),
	}
}

// Field returns the entry's current value of a named field.
func (e Entry) Field(name string) string {
	if v, ok := e.Derived[name]; ok {
		return v
	}
	return e.Raw[name]
}
