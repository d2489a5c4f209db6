package steps

import (
	"math"
	"sort"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scoredDoc struct {
	Doc   *chat.RetrievalDoc
	Score float64
	Emb   []float32
}

// mmrSelect runs maximal-marginal-relevance selection over scored, embedded
// hits: filtered-search and iterative-rewrite-RAG both use it to keep the
// top-k diverse rather than k near-duplicate chunks of the same message.
func mmrSelect(items []scoredDoc, k int, lambda float64) []scoredDoc {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if lambda <= 0 {
		lambda = 0.5
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	selected := make([]scoredDoc, 0, k)
	used := make([]bool, len(items))

	selected = append(selected, items[0])
	used[0] = true

	for len(selected) < k && len(selected) < len(items) {
		bestIdx := -1
		bestVal := -1e12

		for i := range items {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, s := range selected {
				sim := cosine(items[i].Emb, s.Emb)
				if sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*items[i].Score - (1.0-lambda)*maxSim*100.0
			if val > bestVal {
				bestVal = val
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, items[bestIdx])
	}

	return selected
}
