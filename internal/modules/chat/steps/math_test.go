package steps

import (
	"math"
	"testing"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"empty", nil, []float32{1}, 0},
		{"mismatched length", []float32{1, 2}, []float32{1}, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("cosine(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMMRSelectPrefersDiverseOverNearDuplicate(t *testing.T) {
	t.Parallel()

	docA := &chat.RetrievalDoc{Text: "a"}
	docB := &chat.RetrievalDoc{Text: "b"}
	docC := &chat.RetrievalDoc{Text: "c"}

	items := []scoredDoc{
		{Doc: docA, Score: 100, Emb: []float32{1, 0}},
		{Doc: docB, Score: 95, Emb: []float32{1, 0}}, // near-duplicate of docA
		{Doc: docC, Score: 80, Emb: []float32{0, 1}}, // orthogonal, diverse
	}

	selected := mmrSelect(items, 2, 0.5)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(selected))
	}
	if selected[0].Doc != docA {
		t.Fatalf("expected highest-scored doc first, got %v", selected[0].Doc)
	}
	if selected[1].Doc != docC {
		t.Fatalf("expected diverse doc preferred over near-duplicate, got %v", selected[1].Doc)
	}
}

func TestMMRSelectRespectsK(t *testing.T) {
	t.Parallel()
	items := []scoredDoc{
		{Doc: &chat.RetrievalDoc{}, Score: 1, Emb: []float32{1}},
		{Doc: &chat.RetrievalDoc{}, Score: 2, Emb: []float32{1}},
		{Doc: &chat.RetrievalDoc{}, Score: 3, Emb: []float32{1}},
	}
	if got := mmrSelect(items, 0, 0.5); got != nil {
		t.Fatalf("expected nil for k<=0, got %v", got)
	}
	if got := mmrSelect(nil, 5, 0.5); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := mmrSelect(items, 10, 0.5); len(got) != len(items) {
		t.Fatalf("k larger than input should cap at len(items), got %d", len(got))
	}
}

func TestLexicalOverlap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"full overlap", "paris france capital", "Paris is the capital of France.", 100},
		{"no overlap", "rocket launch orbit", "Paris is the capital of France.", 0},
		{"partial overlap", "paris rocket", "Paris is lovely.", 50},
		{"empty query", "", "anything", 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := lexicalOverlap(tc.query, tc.text)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("lexicalOverlap(%q, %q) = %v, want %v", tc.query, tc.text, got, tc.want)
			}
		})
	}
}

func TestTokenizeDropsShortWords(t *testing.T) {
	t.Parallel()
	toks := tokenize("A cat, and a big dog!")
	if toks["a"] {
		t.Fatalf("expected tokens shorter than 3 runes to be dropped")
	}
	if !toks["cat"] || !toks["big"] || !toks["dog"] {
		t.Fatalf("expected cat/big/dog to survive tokenization, got %v", toks)
	}
}
