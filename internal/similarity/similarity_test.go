package similarity

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
)

func strategyCode(offset int, lines int) string {
	var b strings.Builder
	b.WriteString("//@version=5\nstrategy(\"demo\")\n")
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "value_%d = ta.sma(close, %d)\n", i, i+offset)
	}
	return b.String()
}

func TestNormalizeStripsComments(t *testing.T) {
	a := NewFingerprint("x = ta.ema(close, 9) // fast\n/* block\ncomment */\n# meta line\ny = x", 3)
	b := NewFingerprint("X = TA.EMA(CLOSE, 9)\ny = x", 3)
	if got := Dice(a, b); got != 1 {
		t.Fatalf("expected comment-insensitive fingerprints to match, dice=%v", got)
	}
}

func TestFingerprintShortContent(t *testing.T) {
	fp := NewFingerprint("x", 3)
	if fp.Len() != 1 {
		t.Fatalf("expected single shingle for short content, got %d", fp.Len())
	}
	if NewFingerprint("  // only a comment", 3) != nil {
		t.Fatal("expected empty fingerprint for comment-only content")
	}
}

func TestCheckAndInsertDetectsNearDuplicate(t *testing.T) {
	ix := New(Options{Threshold: 0.85, ShingleSize: 3})
	base := strategyCode(0, 50)
	if _, dup := ix.CheckAndInsert("a", ix.Fingerprint(base)); dup {
		t.Fatal("first record must not be a duplicate")
	}

	lines := strings.Split(base, "\n")
	// lines[0] and lines[1] are the header; value_n sits at lines[n+2].
	for _, n := range []int{10, 20, 30} {
		lines[n+2] = fmt.Sprintf("value_%d = ta.sma(close, %d)", n, 1000+n)
	}
	near := strings.Join(lines, "\n")
	if sim := Dice(ix.Fingerprint(base), ix.Fingerprint(near)); sim < 0.85 || sim >= 1 {
		t.Fatalf("fixture similarity out of range: %v", sim)
	}
	dupOf, dup := ix.CheckAndInsert("b", ix.Fingerprint(near))
	if !dup || dupOf != "a" {
		t.Fatalf("expected duplicate-of a, got %q dup=%v", dupOf, dup)
	}
	if ix.Len() != 1 {
		t.Fatalf("duplicates must not be inserted, len=%d", ix.Len())
	}

	other := strings.ReplaceAll(strategyCode(500, 50), "ta.sma", "ta.rsi")
	other = strings.ReplaceAll(other, "value_", "momentum_")
	if _, dup := ix.CheckAndInsert("c", ix.Fingerprint(other)); dup {
		t.Fatal("distinct content flagged as duplicate")
	}
}

func TestEmptyFingerprintNeverDuplicate(t *testing.T) {
	ix := New(Options{})
	ix.Insert("a", nil)
	if ix.Len() != 0 {
		t.Fatal("empty fingerprint must not be indexed")
	}
	if _, dup := ix.CheckAndInsert("b", nil); dup {
		t.Fatal("empty fingerprint must not be a duplicate")
	}
}

func TestInsertIgnoresKnownID(t *testing.T) {
	ix := New(Options{})
	fp := ix.Fingerprint(strategyCode(0, 5))
	ix.Insert("a", fp)
	ix.Insert("a", fp)
	if ix.Len() != 1 {
		t.Fatalf("expected single entry, got %d", ix.Len())
	}
	if _, dup := ix.CheckAndInsert("a", fp); dup {
		t.Fatal("a record must not duplicate itself")
	}
}

// Prefix filtering must agree with an exhaustive comparison.
func TestIndexMatchesBruteForce(t *testing.T) {
	vocab := []string{"open", "close", "high", "low", "sma", "ema", "(", ")", ","}
	rng := rand.New(rand.NewPCG(7, 11))
	for _, threshold := range []float64{0.5, 0.7, 0.85, 1} {
		ix := New(Options{Threshold: threshold, ShingleSize: 3})
		var accepted []Fingerprint
		for n := 0; n < 300; n++ {
			length := 4 + rng.IntN(20)
			words := make([]string, length)
			for i := range words {
				words[i] = vocab[rng.IntN(len(vocab))]
			}
			fp := ix.Fingerprint(strings.Join(words, " "))
			want := false
			for _, prev := range accepted {
				if Dice(fp, prev) >= threshold {
					want = true
					break
				}
			}
			_, got := ix.CheckAndInsert(fmt.Sprintf("r%d", n), fp)
			if got != want {
				t.Fatalf("threshold %v record %d: index=%v brute=%v", threshold, n, got, want)
			}
			if !got {
				accepted = append(accepted, fp)
			}
		}
	}
}

func TestLowerThresholdRejectsSuperset(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	inputs := make([]string, 200)
	for i := range inputs {
		words := make([]string, 8+rng.IntN(8))
		for j := range words {
			words[j] = fmt.Sprintf("t%d", rng.IntN(12))
		}
		inputs[i] = strings.Join(words, " ")
	}
	// Compare each record against a fixed reference so the result is
	// independent of which records earlier thresholds accepted.
	reference := New(Options{Threshold: 1})
	refFP := reference.Fingerprint(inputs[0])
	dupAt := func(threshold float64) map[int]bool {
		out := map[int]bool{}
		for i, in := range inputs[1:] {
			if Dice(refFP, reference.Fingerprint(in)) >= threshold {
				out[i] = true
			}
		}
		return out
	}
	loose, tight := dupAt(0.3), dupAt(0.6)
	for i := range tight {
		if !loose[i] {
			t.Fatalf("record %d duplicate at 0.6 but not at 0.3", i)
		}
	}
}

func TestCheckAndInsertConcurrent(t *testing.T) {
	ix := New(Options{})
	content := strategyCode(0, 20)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, dup := ix.CheckAndInsert(fmt.Sprintf("r%d", i), ix.Fingerprint(content)); !dup {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one identical record accepted, got %d", accepted)
	}
}
