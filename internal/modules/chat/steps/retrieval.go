package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fenwick-ai/ragchat-core/internal/chat/index"
	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/llm"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
	"github.com/fenwick-ai/ragchat-core/internal/platform/redisx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/search"
)

// temporalExpansionLookback places retrieveTemporalExpansion's anchor when
// the router pins neither StartTime nor EndTime: the window is centred four
// months before now. retrieveIterativeRewrite applies no time bound.
const temporalExpansionLookback = 4 * 30 * 24 * time.Hour

const (
	defaultTopK = 24
	defaultMMRK = 12
	mmrLambda   = 0.55

	// filteredSearchMaxIterations bounds filtered-search's pagination loop
	// (§4.5.2: "page until enough hits or maxIterations=5").
	filteredSearchMaxIterations = 5

	// temporalWindowUnit is the per-iteration growth unit of
	// retrieveTemporalExpansion's sliding window: window(i) = (2+i) * unit
	// (§4.5.3).
	temporalWindowUnit = 12 * 24 * time.Hour
	// temporalMaxIterations is the iteration cap when the router gave only
	// one side of the range; temporalBoundedIterations applies when the
	// router pinned both StartTime and EndTime (§4.5.3: "stop at 10
	// iterations, or 2 if both from/to are given").
	temporalMaxIterations     = 10
	temporalBoundedIterations = 2
	// temporalStopHits is the hit count that ends the window growth early.
	temporalStopHits = 10

	// iterativeRewriteMaxPage bounds retrieveIterativeRewrite's round loop;
	// the conversation-grounded rewrite fires at page floor(maxPage/2)
	// (§4.5.4: "page floor(maxPage/2)-timed query rewrite").
	iterativeRewriteMaxPage = 4

	// metadataNoDocumentsFound is the zero-hit sentinel metadata_get
	// surfaces to the answer orchestrator (§4.5.1).
	metadataNoDocumentsFound = "METADATA_NO_DOCUMENTS_FOUND"
)

// RetrievalDeps bundles the collaborators C3's strategies need: the
// retrieval projection repo, message repo (for lexical fallback and
// temporal-expansion over raw messages), the vector index, and the LLM
// client for query rewriting/reranking.
type RetrievalDeps struct {
	Docs        chatrepos.DocRepo
	Messages    chatrepos.MessageRepo
	Personalize chatrepos.UserPersonalizationRepo
	Vectors     search.VectorStore
	AI          llm.Client
	Alpha       *redisx.AlphaCache
	Log         *logger.Logger

	// DefaultAlpha is the hybrid lexical/vector mix weight used when a user
	// has never set their own (§4.3: "alpha personalization"). 1.0 is
	// pure-vector, 0.0 is pure-lexical.
	DefaultAlpha float64
}

// RetrievalResult is C3's return value: the scored hits ready for C2's
// Context Builder, plus the signals C6 needs to pick an answer prompt and
// react to the zero-hit case (§4.5.1 sentinel, §4.5.1 mail prompt).
type RetrievalResult struct {
	Hits []ScoredDoc

	// NoDocuments is metadataNoDocumentsFound's in-process form: the
	// strategy ran cleanly but nothing matched.
	NoDocuments bool

	// UseMailPrompt signals the router scoped this turn to the mail app,
	// so C6 should answer with promptMailAnswer instead of promptAnswer.
	UseMailPrompt bool

	// Iterations is how many pagination/window rounds the strategy ran,
	// surfaced into the turn's retrieval_trace for observability.
	Iterations int
}

// resolveAlpha is C3's alpha lookup: Redis cache first, falling back to the
// user's stored personalization row, falling back to DefaultAlpha. A hit on
// the Postgres fallback is written back to the cache so the next turn for
// this user skips the DB round trip.
func resolveAlpha(ctx context.Context, dbc dbctx.Context, deps RetrievalDeps, userID uuid.UUID) float64 {
	def := deps.DefaultAlpha
	if def <= 0 {
		def = 0.5
	}
	if userID == uuid.Nil {
		return def
	}

	if deps.Alpha != nil {
		if v, ok := deps.Alpha.Get(ctx, userID); ok {
			if v != nil {
				return *v
			}
			return def
		}
	}

	if deps.Personalize == nil {
		return def
	}
	p, err := deps.Personalize.Get(dbc, userID)
	if err != nil || p == nil || p.RetrievalAlpha == nil {
		if deps.Alpha != nil {
			deps.Alpha.Set(ctx, userID, nil)
		}
		return def
	}
	if deps.Alpha != nil {
		deps.Alpha.Set(ctx, userID, p.RetrievalAlpha)
	}
	return *p.RetrievalAlpha
}

// lexicalOverlap is a lightweight stand-in for a full BM25 index: the
// fraction of distinct query tokens that appear in the doc's text, scaled to
// the same 0-100 range vector scores use. Good enough to let alpha actually
// move the blended score without reimplementing a lexical search engine.
func lexicalOverlap(query, text string) float64 {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for tok := range qTokens {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens)) * 100.0
}

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) < 3 {
			continue
		}
		out[f] = true
	}
	return out
}

// isMailScoped reports whether the router's app filter named the mail app,
// which toggles the mail answer prompt (§4.5.1). It does not narrow any
// strategy's doc_type; docTypeForFilters reads only Filters.Entities.
func isMailScoped(f chat.RouterFilters) bool {
	for _, a := range f.Apps {
		if strings.EqualFold(strings.TrimSpace(a), "mail") {
			return true
		}
	}
	return false
}

// isCalendarScoped mirrors isMailScoped for the calendar app; temporal
// expansion uses it only to pick the mail answer prompt when it finds nothing.
func isCalendarScoped(f chat.RouterFilters) bool {
	for _, a := range f.Apps {
		if strings.EqualFold(strings.TrimSpace(a), "calendar") {
			return true
		}
	}
	return false
}

// docTypeForFilters maps the router's loosely-typed app/entity scope onto
// this domain's RetrievalDoc.DocType taxonomy. The simplified domain has no
// native mail/calendar/drive discriminator, so app scoping narrows by
// doc_type only when it names a concept the schema actually models
// (thread/summary); anything else falls through to an unscoped list.
func docTypeForFilters(f chat.RouterFilters) string {
	for _, e := range f.Entities {
		switch strings.ToLower(strings.TrimSpace(e)) {
		case "thread", "conversation":
			return chat.DocTypeThread
		case "summary":
			return chat.DocTypeSummary
		}
	}
	return ""
}

// Retrieve is C3: the facade that dispatches to one of C5's four retrieval
// strategies (or returns nothing for smalltalk/direct routes) and returns
// scored hits ready for C2's Context Builder.
func Retrieve(ctx context.Context, deps RetrievalDeps, dbc dbctx.Context, chatID, userID uuid.UUID, route chat.RouterClassification, query string, recent []*chat.Message) (RetrievalResult, error) {
	switch route.Route {
	case chat.RouteSmalltalk, chat.RouteDirect:
		return RetrievalResult{}, nil
	case chat.RouteMetadataGet:
		return retrieveMetadataGet(dbc, deps, chatID, route)
	case chat.RouteTemporalExpansion:
		return retrieveTemporalExpansion(ctx, dbc, deps, chatID, route)
	case chat.RouteFilteredSearch:
		return retrieveFilteredSearch(ctx, dbc, deps, chatID, userID, route, query)
	case chat.RouteIterativeRewrite:
		return retrieveIterativeRewrite(ctx, dbc, deps, chatID, userID, route, query, recent)
	default:
		return retrieveIterativeRewrite(ctx, dbc, deps, chatID, userID, route, query, recent)
	}
}

// retrieveMetadataGet answers "show me the N most recent X" style requests
// directly from the retrieval projection, no embedding round trip (§4.5.1).
// Count/offset page over the projection in application code since DocRepo's
// ListByChat takes no offset; a zero-hit result surfaces
// metadataNoDocumentsFound so C6 can say so plainly instead of hallucinating.
func retrieveMetadataGet(dbc dbctx.Context, deps RetrievalDeps, chatID uuid.UUID, route chat.RouterClassification) (RetrievalResult, error) {
	f := route.Filters
	count := f.Count
	if count <= 0 {
		count = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	docType := docTypeForFilters(f)
	fetch := offset + count
	if fetch <= 0 || fetch > 2000 {
		fetch = offset + 20
	}
	docs, err := deps.Docs.ListByChat(dbc, chatID, docType, fetch)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("metadata_get: list by chat: %w", err)
	}

	// ListByChat orders oldest-first; desc means most-recent-first.
	if strings.EqualFold(f.SortDirection, "desc") {
		reverseDocs(docs)
	}
	if offset >= len(docs) {
		docs = nil
	} else {
		end := offset + count
		if end > len(docs) {
			end = len(docs)
		}
		docs = docs[offset:end]
	}

	if len(docs) == 0 {
		return RetrievalResult{NoDocuments: true, UseMailPrompt: isMailScoped(f), Iterations: 1}, nil
	}

	out := make([]ScoredDoc, 0, len(docs))
	for i, d := range docs {
		out = append(out, ScoredDoc{Doc: d, Score: float64(len(docs) - i)})
	}
	return RetrievalResult{Hits: out, UseMailPrompt: isMailScoped(f), Iterations: 1}, nil
}

func reverseDocs(docs []*chat.RetrievalDoc) {
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
}

// retrieveTemporalExpansion walks the retrieval projection outward from an
// anchor in growing windows, per §4.5.3: window(i) = (2+i) * 12 days, each
// iteration running two queries in parallel via errgroup, one at each edge
// of the window (ListBefore, or ListAfter for TemporalAfter). Neither query
// is scoped by app: the projection has no mail/calendar discriminator. It
// stops once temporalStopHits is reached or the iteration cap (2 when both
// StartTime and EndTime are pinned, else 10) is hit.
func retrieveTemporalExpansion(ctx context.Context, dbc dbctx.Context, deps RetrievalDeps, chatID uuid.UUID, route chat.RouterClassification) (RetrievalResult, error) {
	f := route.Filters
	anchor := nowUTC().Add(-temporalExpansionLookback)
	if f.StartTime != nil {
		if t, err := time.Parse(time.RFC3339, *f.StartTime); err == nil {
			anchor = t
		}
	} else if f.EndTime != nil {
		if t, err := time.Parse(time.RFC3339, *f.EndTime); err == nil {
			anchor = t
		}
	}

	maxIter := temporalMaxIterations
	if f.StartTime != nil && f.EndTime != nil {
		maxIter = temporalBoundedIterations
	}

	limit := f.Count
	if limit <= 0 {
		limit = 40
	}

	seen := map[uuid.UUID]bool{}
	var merged []*chat.RetrievalDoc
	iterations := 0

	for i := 0; i < maxIter; i++ {
		iterations++
		window := time.Duration(2+i) * temporalWindowUnit
		lo := anchor.Add(-window)
		hi := anchor.Add(window)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(2)
		var calendarDocs, mailDocs []*chat.RetrievalDoc

		g.Go(func() error {
			_ = gctx
			var err error
			switch route.TemporalDirection {
			case chat.TemporalAfter:
				calendarDocs, err = deps.Docs.ListAfter(dbc, chatID, lo, limit)
			default:
				calendarDocs, err = deps.Docs.ListBefore(dbc, chatID, hi, limit)
			}
			return err
		})
		g.Go(func() error {
			var err error
			switch route.TemporalDirection {
			case chat.TemporalAfter:
				mailDocs, err = deps.Docs.ListAfter(dbc, chatID, hi, limit)
			default:
				mailDocs, err = deps.Docs.ListBefore(dbc, chatID, lo, limit)
			}
			return err
		})
		if err := g.Wait(); err != nil {
			return RetrievalResult{}, fmt.Errorf("temporal_expansion: %w", err)
		}

		for _, d := range append(calendarDocs, mailDocs...) {
			if d == nil || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			merged = append(merged, d)
		}

		if len(merged) >= temporalStopHits {
			break
		}
	}

	if len(merged) == 0 {
		return RetrievalResult{NoDocuments: true, UseMailPrompt: isMailScoped(f) || isCalendarScoped(f), Iterations: iterations}, nil
	}

	out := make([]ScoredDoc, 0, len(merged))
	for i, d := range merged {
		out = append(out, ScoredDoc{Doc: d, Score: float64(len(merged) - i)})
	}
	return RetrievalResult{Hits: out, UseMailPrompt: isMailScoped(f), Iterations: iterations}, nil
}

// retrieveFilteredSearch runs up to filteredSearchMaxIterations rounds,
// widening topK each round, until enough hits are collected or the cap is
// hit (§4.5.2 "page until enough hits or maxIterations=5"). When the router
// asked for a chronological ordering (Filters.SortDirection) it switches
// rank profile entirely, listing the retrieval projection by recency instead
// of relevance.
func retrieveFilteredSearch(ctx context.Context, dbc dbctx.Context, deps RetrievalDeps, chatID, userID uuid.UUID, route chat.RouterClassification, query string) (RetrievalResult, error) {
	f := route.Filters
	want := f.Count
	if want <= 0 {
		want = defaultMMRK
	}

	if f.SortDirection != "" {
		return retrieveFilteredSearchChronological(dbc, deps, chatID, route, want)
	}

	q := query
	if route.FilterQuery != "" {
		q = route.FilterQuery
	} else if route.RewrittenQuery != "" {
		q = route.RewrittenQuery
	}

	seen := map[uuid.UUID]bool{}
	var merged []scoredDoc
	topK := defaultTopK
	iterations := 0

	for iterations < filteredSearchMaxIterations {
		iterations++
		round, _, err := vectorSearchRoundRaw(ctx, dbc, deps, chatID, userID, q, topK)
		if err != nil {
			return RetrievalResult{}, fmt.Errorf("filtered_search iteration %d: %w", iterations, err)
		}
		added := 0
		for _, sd := range round {
			if sd.Doc == nil || seen[sd.Doc.ID] {
				continue
			}
			seen[sd.Doc.ID] = true
			merged = append(merged, sd)
			added++
		}
		if len(merged) >= want || added == 0 {
			break
		}
		topK += defaultTopK
	}

	if len(merged) == 0 {
		return RetrievalResult{NoDocuments: true, UseMailPrompt: isMailScoped(f), Iterations: iterations}, nil
	}

	selected := mmrSelect(merged, want, mmrLambda)
	out := make([]ScoredDoc, 0, len(selected))
	for _, sd := range selected {
		out = append(out, ScoredDoc{Doc: sd.Doc, Score: sd.Score})
	}
	return RetrievalResult{Hits: out, UseMailPrompt: isMailScoped(f), Iterations: iterations}, nil
}

// retrieveFilteredSearchChronological is filtered-search's non-relevance
// rank profile: when the router pins an explicit sort direction, the
// projection is listed by occurrence order rather than vector-scored.
func retrieveFilteredSearchChronological(dbc dbctx.Context, deps RetrievalDeps, chatID uuid.UUID, route chat.RouterClassification, want int) (RetrievalResult, error) {
	f := route.Filters
	docType := docTypeForFilters(f)
	docs, err := deps.Docs.ListByChat(dbc, chatID, docType, want*4)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("filtered_search chronological: %w", err)
	}
	if strings.EqualFold(f.SortDirection, "desc") {
		reverseDocs(docs)
	}
	if want > 0 && len(docs) > want {
		docs = docs[:want]
	}
	if len(docs) == 0 {
		return RetrievalResult{NoDocuments: true, UseMailPrompt: isMailScoped(f), Iterations: 1}, nil
	}
	out := make([]ScoredDoc, 0, len(docs))
	for i, d := range docs {
		out = append(out, ScoredDoc{Doc: d, Score: float64(len(docs) - i)})
	}
	return RetrievalResult{Hits: out, UseMailPrompt: isMailScoped(f), Iterations: 1}, nil
}

// retrieveIterativeRewrite is the default strategy (§4.5.4): up to
// iterativeRewriteMaxPage vector search rounds, widening topK each page,
// with a conversation-grounded query rewrite firing at page
// floor(maxPage/2) to diversify the accumulated result set before the final
// MMR selection. Results across all pages are merged and deduplicated by
// doc ID.
func retrieveIterativeRewrite(ctx context.Context, dbc dbctx.Context, deps RetrievalDeps, chatID, userID uuid.UUID, route chat.RouterClassification, query string, recent []*chat.Message) (RetrievalResult, error) {
	q := query
	if route.RewrittenQuery != "" {
		q = route.RewrittenQuery
	}

	rewritePage := iterativeRewriteMaxPage / 2

	seen := map[uuid.UUID]bool{}
	var merged []scoredDoc
	topK := defaultTopK
	iterations := 0

	for page := 0; page < iterativeRewriteMaxPage; page++ {
		iterations++
		round, _, err := vectorSearchRoundRaw(ctx, dbc, deps, chatID, userID, q, topK)
		if err != nil {
			return RetrievalResult{}, fmt.Errorf("iterative_rewrite page %d: %w", page, err)
		}
		added := 0
		for _, sd := range round {
			if sd.Doc == nil || seen[sd.Doc.ID] {
				continue
			}
			seen[sd.Doc.ID] = true
			merged = append(merged, sd)
			added++
		}

		if len(merged) >= defaultMMRK {
			break
		}

		if page == rewritePage && deps.AI != nil {
			summary := formatWindow(recent)
			system, user := promptContextualizeQuery(trimToChars(summary, 2000), formatRecent(recent, 12), query)
			if obj, err := deps.AI.GenerateJSON(ctx, system, user, "contextualize_query_v1", schemaContextualizeQuery()); err == nil {
				rewritten := asString(obj["contextual_query"])
				if rewritten != "" && rewritten != q {
					q = rewritten
				}
			}
		}

		if added == 0 && page > 0 {
			// Widen instead of repeating an exhausted query verbatim.
			topK += defaultTopK
		}
	}

	if len(merged) == 0 {
		return RetrievalResult{NoDocuments: true, Iterations: iterations}, nil
	}

	selected := mmrSelect(merged, defaultMMRK, mmrLambda)
	out := make([]ScoredDoc, 0, len(selected))
	for _, sd := range selected {
		out = append(out, ScoredDoc{Doc: sd.Doc, Score: sd.Score})
	}
	return RetrievalResult{Hits: out, UseMailPrompt: isMailScoped(route.Filters), Iterations: iterations}, nil
}

// vectorSearchRound embeds query, queries the vector index, fetches the
// matching RetrievalDocs, and MMR-selects the top mmrK.
func vectorSearchRound(ctx context.Context, dbc dbctx.Context, deps RetrievalDeps, chatID, userID uuid.UUID, query string, topK, mmrK int) ([]ScoredDoc, error) {
	round, _, err := vectorSearchRoundRaw(ctx, dbc, deps, chatID, userID, query, topK)
	if err != nil {
		return nil, err
	}
	selected := mmrSelect(round, mmrK, mmrLambda)
	out := make([]ScoredDoc, 0, len(selected))
	for _, sd := range selected {
		out = append(out, ScoredDoc{Doc: sd.Doc, Score: sd.Score})
	}
	return out, nil
}

// vectorSearchRoundRaw is the shared embed+query+fetch step both
// filtered-search and iterative-rewrite build on. Score is the vector
// store's similarity score, scaled to 0-100 for homogeneity with the
// rerank/MMR scoring scale used elsewhere.
func vectorSearchRoundRaw(ctx context.Context, dbc dbctx.Context, deps RetrievalDeps, chatID, userID uuid.UUID, query string, topK int) ([]scoredDoc, map[uuid.UUID][]float32, error) {
	if deps.AI == nil || deps.Vectors == nil {
		return nil, nil, nil
	}
	embs, err := deps.AI.Embed(ctx, []string{query})
	if err != nil || len(embs) == 0 {
		return nil, nil, err
	}
	qv := embs[0]

	matches, err := deps.Vectors.QueryMatches(ctx, index.ChatUserNamespace(userID), qv, topK, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) == 0 {
		return nil, nil, nil
	}

	ids := make([]uuid.UUID, 0, len(matches))
	scoreByID := map[uuid.UUID]float64{}
	for _, m := range matches {
		id, perr := uuid.Parse(m.ID)
		if perr != nil {
			continue
		}
		ids = append(ids, id)
		scoreByID[id] = m.Score * 100.0
	}

	docs, err := deps.Docs.GetByIDs(dbc, ids)
	if err != nil {
		return nil, nil, err
	}

	alpha := resolveAlpha(ctx, dbc, deps, userID)

	// The vector namespace is scoped per-user (not per-chat, per
	// internal/chat/index.ChatUserNamespace), so a match may belong to a
	// different chat of the same user; filter those out here.
	embByID := make(map[uuid.UUID][]float32, len(docs))
	out := make([]scoredDoc, 0, len(docs))
	for _, d := range docs {
		if d.ChatID != chatID {
			continue
		}
		emb := decodeEmbedding(d.Embedding)
		embByID[d.ID] = emb
		blended := alpha*scoreByID[d.ID] + (1-alpha)*lexicalOverlap(query, d.Text)
		out = append(out, scoredDoc{Doc: d, Score: blended, Emb: nonNilEmb(emb)})
	}
	return out, embByID, nil
}
