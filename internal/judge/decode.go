package judge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"curator/internal/textutil"
)

// DecodeJSON decodes JSON from a model response, handling code fences and
// surrounding prose.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, textutil.Snippet(trimmed, snippetLimit))
	}

	sanitizedErr := json.Unmarshal([]byte(sanitized), target)
	if sanitizedErr == nil {
		return nil
	}
	return fmt.Errorf("%w (sanitized payload snippet: %s)", sanitizedErr, textutil.Snippet(sanitized, snippetLimit))
}

const snippetLimit = 160

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// number accepts JSON numbers and numeric strings ("7", "7.5/10").
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if idx := strings.Index(text, "/"); idx > 0 {
			text = strings.TrimSpace(text[:idx])
		}
		if text == "" {
			return nil
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", text, err)
		}
		n.value, n.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.value, n.set = v, true
	return nil
}

// wireResponse is the common response envelope every task prompt asks for.
type wireResponse struct {
	Result    string            `json:"result"`
	Score     number            `json:"score"`
	Reasoning string            `json:"reasoning"`
	Metrics   map[string]number `json:"metrics"`
}

// qualityMetrics are the sub-scores score-quality must return.
var qualityMetrics = []string{"match", "detail", "clarity", "code_quality", "educational_value"}

func decodeResponse(task Task, content string) (Response, error) {
	op := string(task)
	if strings.TrimSpace(content) == "" {
		return Response{}, &emptyContentError{Op: op, Snippet: "<empty>"}
	}
	var wire wireResponse
	if err := DecodeJSON(content, &wire); err != nil {
		return Response{}, &payloadError{Op: op, Err: err}
	}
	resp := Response{
		Result:    strings.TrimSpace(wire.Result),
		Score:     wire.Score.value,
		Reasoning: strings.TrimSpace(wire.Reasoning),
		Raw:       content,
	}
	if len(wire.Metrics) > 0 {
		resp.Metrics = make(map[string]float64, len(wire.Metrics))
		for name, value := range wire.Metrics {
			if value.set {
				resp.Metrics[strings.ToLower(strings.TrimSpace(name))] = clamp(value.value, 0, 10)
			}
		}
	}

	switch task {
	case TaskClassifyLanguage, TaskTranslate, TaskStripPresentation:
		if resp.Result == "" {
			return Response{}, &payloadError{Op: op, Err: errors.New("missing result")}
		}
	case TaskCompareSimilarity:
		if !wire.Score.set {
			return Response{}, &payloadError{Op: op, Err: errors.New("missing score")}
		}
		resp.Score = clamp(resp.Score, 0, 10)
	case TaskInferSymbols:
		resp.Score = clamp(resp.Score, 0, 1)
	case TaskScoreQuality:
		for _, name := range qualityMetrics {
			if _, ok := resp.Metrics[name]; !ok {
				return Response{}, &payloadError{Op: op, Err: fmt.Errorf("missing metric %q", name)}
			}
		}
	}
	return resp, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
