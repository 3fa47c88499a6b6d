package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"curator/internal/fileutil"
	"curator/internal/record"
)

// Export artifact names.
const (
	TrainingFileName = "training.jsonl"
	MetadataFileName = "metadata.json"
)

// TrainingExample is one line of the training file.
type TrainingExample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ExportMetadata describes one exported example.
type ExportMetadata struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	LikesCount           int                `json:"likes_count"`
	Author               string             `json:"author"`
	WasTranslated        bool               `json:"was_translated"`
	OriginalLanguage     string             `json:"original_language"`
	VisualizationRemoved bool               `json:"visualization_removed"`
	RemovedLinesCount    int                `json:"removed_lines_count"`
	ScriptURL            string             `json:"script_url"`
	QualityScore         *float64           `json:"quality_score"`
	QualityMetrics       map[string]float64 `json:"quality_metrics"`
	QualityReasoning     string             `json:"quality_reasoning"`
}

// ExportSummary reports what Export wrote.
type ExportSummary struct {
	TrainingPath string
	MetadataPath string
	Exported     int
	Skipped      int
}

// Export writes the training file and its metadata for the accepted entries.
// Entries that are not accepted, or whose description or content is empty,
// are skipped.
func Export(entries []record.Entry, dir string) (ExportSummary, error) {
	summary := ExportSummary{
		TrainingPath: filepath.Join(dir, TrainingFileName),
		MetadataPath: filepath.Join(dir, MetadataFileName),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return summary, fmt.Errorf("create export directory: %w", err)
	}

	var training bytes.Buffer
	enc := json.NewEncoder(&training)
	enc.SetEscapeHTML(false)
	metadata := make([]ExportMetadata, 0, len(entries))
	for _, entry := range entries {
		input := strings.TrimSpace(entry.Field(record.FieldDescription))
		output := strings.TrimSpace(entry.Field(record.FieldContent))
		if entry.Status != record.StatusAccepted || input == "" || output == "" {
			summary.Skipped++
			continue
		}
		if err := enc.Encode(TrainingExample{Input: input, Output: output}); err != nil {
			return summary, fmt.Errorf("encode training example %s: %w", entry.ID, err)
		}
		metadata = append(metadata, exportMetadata(entry))
	}
	summary.Exported = len(metadata)

	meta, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return summary, fmt.Errorf("encode export metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(summary.TrainingPath, training.Bytes(), 0o644); err != nil {
		return summary, fmt.Errorf("write training file: %w", err)
	}
	if err := fileutil.WriteFileAtomic(summary.MetadataPath, append(meta, '\n'), 0o644); err != nil {
		return summary, fmt.Errorf("write export metadata: %w", err)
	}
	return summary, nil
}

func exportMetadata(entry record.Entry) ExportMetadata {
	author := entry.Raw["preview_author"]
	if author == "" {
		author = entry.Raw["author"]
	}
	likes, _ := metaInt(entry.Metadata[record.MetaLikesCount])
	removed, _ := metaInt(entry.Metadata[record.MetaRemovedLinesCount])
	language, _ := entry.Metadata[record.MetaOriginalLanguage].(string)
	reasoning, _ := entry.Metadata[record.MetaQualityReasoning].(string)
	return ExportMetadata{
		ID:                   entry.ID,
		Name:                 entry.Raw["name"],
		LikesCount:           likes,
		Author:               author,
		WasTranslated:        metaBool(entry.Metadata[record.MetaWasTranslated]),
		OriginalLanguage:     language,
		VisualizationRemoved: metaBool(entry.Metadata[record.MetaVisualizationRemoved]),
		RemovedLinesCount:    removed,
		ScriptURL:            entry.Raw["script_url"],
		QualityScore:         entry.QualityScore,
		QualityMetrics:       entry.QualityMetrics,
		QualityReasoning:     reasoning,
	}
}

// metaInt reads an integer that may have been decoded from JSON or msgpack.
func metaInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(math.Round(v)), true
	case float32:
		return int(math.Round(float64(v))), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func metaBool(value any) bool {
	b, _ := value.(bool)
	return b
}
