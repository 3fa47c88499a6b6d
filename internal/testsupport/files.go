package testsupport

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteJSONL writes one JSON object per line to path.
func WriteJSONL(t testing.TB, path string, rows []map[string]any) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

// Strategy returns an input row that passes the default filters. Content is
// varied by id so rows are not near-duplicates of each other.
func Strategy(id string) map[string]any {
	h := fnv.New32a()
	h.Write([]byte(id))
	seed := int(h.Sum32() % 997)

	var code strings.Builder
	code.WriteString("//@version=5\n")
	fmt.Fprintf(&code, "strategy(%q, overlay=true)\n", "Strategy "+id)
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&code, "v_%s_%d = ta.sma(close, %d) * %d\n", sanitize(id), i, seed+i, seed*7+i)
	}
	code.WriteString("if ta.crossover(close, v_" + sanitize(id) + "_0)\n    strategy.entry(\"L\", strategy.long)\n")
	return map[string]any{
		"id":          id,
		"name":        "Strategy " + id,
		"description": "Trend following strategy " + id + " that enters long when price crosses above a moving average.",
		"source_code": code.String(),
		"likes_count": 250,
	}
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, id)
}
