package steps

import (
	"sort"
	"strconv"
	"strings"
	"time"

	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

// ScoredDoc pairs a retrieval hit with the score the C5 strategy assigned it;
// BuildContext consumes these directly rather than re-ranking.
type ScoredDoc struct {
	Doc   *chat.RetrievalDoc
	Score float64
}

// Budget is the chunk/token allocation C2 works against: a global chunk
// count split across docs proportional to relevance, capped per doc type,
// with a hard token ceiling for the rendered context string.
type Budget struct {
	MaxContextTokens int
	TotalChunks      int
	MaxChunksPerType map[string]int
}

func DefaultBudget() Budget {
	return Budget{
		MaxContextTokens: 12000,
		TotalChunks:      120,
		MaxChunksPerType: map[string]int{
			chat.DocTypeThread:       40,
			chat.DocTypeSummary:      30,
			chat.DocTypeMessageChunk: 20,
		},
	}
}

// groupKey collapses chunks that belong to the same source document: a
// message's chunks share SourceMessageID, everything else is its own group.
func groupKey(d *chat.RetrievalDoc) string {
	if d.SourceMessageID != nil {
		return d.DocType + ":" + d.SourceMessageID.String()
	}
	return d.DocType + ":" + d.ID.String()
}

func maxChunksFor(b Budget, docType string) int {
	if n, ok := b.MaxChunksPerType[docType]; ok && n > 0 {
		return n
	}
	return 10
}

// allocateChunkBudget splits b.TotalChunks across groups proportional to
// each group's best score, capped by maxChunksFor(docType), then hands
// leftover budget to the top-ranked groups in descending-score order.
func allocateChunkBudget(groups []groupedDocs, b Budget) map[string]int {
	if len(groups) == 0 || b.TotalChunks <= 0 {
		return nil
	}
	var totalScore float64
	for _, g := range groups {
		totalScore += g.score
	}

	alloc := make(map[string]int, len(groups))
	used := 0
	for _, g := range groups {
		share := b.TotalChunks
		if totalScore > 0 {
			share = int(float64(b.TotalChunks) * (g.score / totalScore))
		}
		cap := maxChunksFor(b, g.docType)
		if share > cap {
			share = cap
		}
		if share <= 0 && len(g.docs) > 0 {
			share = 1
		}
		if share > len(g.docs) {
			share = len(g.docs)
		}
		alloc[g.key] = share
		used += share
	}

	leftover := b.TotalChunks - used
	for i := 0; leftover > 0 && i < len(groups); i++ {
		g := groups[i]
		cap := maxChunksFor(b, g.docType)
		for alloc[g.key] < cap && alloc[g.key] < len(g.docs) && leftover > 0 {
			alloc[g.key]++
			leftover--
		}
	}
	return alloc
}

type groupedDocs struct {
	key     string
	docType string
	score   float64
	docs    []*chat.RetrievalDoc
}

func groupByDoc(docs []ScoredDoc) []groupedDocs {
	byKey := make(map[string]*groupedDocs)
	order := make([]string, 0)
	for _, sd := range docs {
		if sd.Doc == nil {
			continue
		}
		k := groupKey(sd.Doc)
		g, ok := byKey[k]
		if !ok {
			g = &groupedDocs{key: k, docType: sd.Doc.DocType}
			byKey[k] = g
			order = append(order, k)
		}
		g.docs = append(g.docs, sd.Doc)
		if sd.Score > g.score {
			g.score = sd.Score
		}
	}
	out := make([]groupedDocs, 0, len(order))
	for _, k := range order {
		g := *byKey[k]
		sort.SliceStable(g.docs, func(i, j int) bool { return g.docs[i].ChunkIndex < g.docs[j].ChunkIndex })
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// docPriority orders rendering: thread overviews and summaries read like
// headers for a conversation, so they sort ahead of raw message chunks.
func docPriority(docType string) int {
	switch docType {
	case chat.DocTypeThread:
		return 0
	case chat.DocTypeSummary:
		return 1
	case chat.DocTypeMessageChunk:
		return 2
	default:
		return 10
	}
}

// BuildContext renders hits into a single newline-joined context with one
// numbered block per hit, per the C2 contract: each block is
// "Index {startIndex + i}\n{rendering}", chunk-budgeted across docs and
// capped overall by b.MaxContextTokens. It also returns the source message
// IDs referenced, for image-citation discovery by the caller.
func BuildContext(docs []ScoredDoc, b Budget, startIndex int) (string, []string) {
	if len(docs) == 0 {
		return "", nil
	}
	groups := groupByDoc(docs)
	alloc := allocateChunkBudget(groups, b)

	type rendered struct {
		doc  *chat.RetrievalDoc
		prio int
	}
	var picked []rendered
	for _, g := range groups {
		n := alloc[g.key]
		if n <= 0 {
			continue
		}
		for i := 0; i < n && i < len(g.docs); i++ {
			picked = append(picked, rendered{doc: g.docs[i], prio: docPriority(g.docType)})
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].prio != picked[j].prio {
			return picked[i].prio < picked[j].prio
		}
		return picked[i].doc.OccurredAt.After(picked[j].doc.OccurredAt)
	})

	used := 0
	var b2 strings.Builder
	var sourceIDs []string
	idx := startIndex
	for _, r := range picked {
		block := renderHit(r.doc, idx)
		blockTokens := estimateTokens(block)
		if used+blockTokens > b.MaxContextTokens {
			remain := b.MaxContextTokens - used
			if remain <= 0 {
				break
			}
			block = trimToTokens(block, remain)
			if block == "" {
				break
			}
		}
		b2.WriteString(block)
		b2.WriteString("\n\n")
		used += estimateTokens(block)
		if r.doc.SourceMessageID != nil {
			sourceIDs = append(sourceIDs, r.doc.SourceMessageID.String())
		}
		idx++
		if used >= b.MaxContextTokens {
			break
		}
	}

	return strings.TrimSpace(b2.String()), sourceIDs
}

func renderHit(d *chat.RetrievalDoc, index int) string {
	header := "Index " + strconv.Itoa(index)

	body := strings.TrimSpace(d.ContextualText)
	if body == "" {
		body = strings.TrimSpace(d.Text)
	}
	body = trimToChars(body, 2400)

	var meta strings.Builder
	meta.WriteString("[type=" + d.DocType + "]")
	if !d.OccurredAt.IsZero() {
		meta.WriteString(" [occurred_at=" + d.OccurredAt.UTC().Format(time.RFC3339) + "]")
	}
	if d.SourceSeq != nil {
		meta.WriteString(" [seq=" + strconv.FormatInt(*d.SourceSeq, 10) + "]")
	}

	return header + "\n" + meta.String() + "\n" + body
}
