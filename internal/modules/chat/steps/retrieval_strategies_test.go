package steps

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
)

// fakeDocRepo is a minimal in-memory stand-in for chatrepos.DocRepo, just
// enough to exercise the C5 strategies' pagination/windowing logic without a
// real database.
type fakeDocRepo struct {
	byChat map[uuid.UUID][]*chat.RetrievalDoc
}

func (f *fakeDocRepo) Create(dbc dbctx.Context, rows []*chat.RetrievalDoc) ([]*chat.RetrievalDoc, error) {
	return rows, nil
}

func (f *fakeDocRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*chat.RetrievalDoc, error) {
	return nil, nil
}

func (f *fakeDocRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID, docType string, limit int) ([]*chat.RetrievalDoc, error) {
	var out []*chat.RetrievalDoc
	for _, d := range f.byChat[chatID] {
		if docType != "" && d.DocType != docType {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDocRepo) ListBefore(dbc dbctx.Context, chatID uuid.UUID, anchor time.Time, limit int) ([]*chat.RetrievalDoc, error) {
	var out []*chat.RetrievalDoc
	for _, d := range f.byChat[chatID] {
		if d.OccurredAt.Before(anchor) {
			out = append(out, d)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDocRepo) ListAfter(dbc dbctx.Context, chatID uuid.UUID, anchor time.Time, limit int) ([]*chat.RetrievalDoc, error) {
	var out []*chat.RetrievalDoc
	for _, d := range f.byChat[chatID] {
		if d.OccurredAt.After(anchor) {
			out = append(out, d)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDocRepo) DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error {
	delete(f.byChat, chatID)
	return nil
}

var _ chatrepos.DocRepo = (*fakeDocRepo)(nil)

func TestRetrieveMetadataGetPaginatesByCountAndOffset(t *testing.T) {
	chatID := uuid.New()
	now := time.Now().UTC()
	var docs []*chat.RetrievalDoc
	for i := 0; i < 15; i++ {
		docs = append(docs, &chat.RetrievalDoc{
			ID:         uuid.New(),
			ChatID:     chatID,
			DocType:    chat.DocTypeMessageChunk,
			Text:       "doc",
			OccurredAt: now.Add(time.Duration(i) * time.Minute),
		})
	}
	deps := RetrievalDeps{Docs: &fakeDocRepo{byChat: map[uuid.UUID][]*chat.RetrievalDoc{chatID: docs}}}
	dbc := dbctx.Context{Ctx: context.Background()}

	page1, err := retrieveMetadataGet(dbc, deps, chatID, chat.RouterClassification{
		Filters: chat.RouterFilters{Count: 10, Offset: 0},
	})
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1.Hits) != 10 {
		t.Fatalf("expected 10 hits on first page, got %d", len(page1.Hits))
	}

	page2, err := retrieveMetadataGet(dbc, deps, chatID, chat.RouterClassification{
		Filters: chat.RouterFilters{Count: 10, Offset: 10},
	})
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2.Hits) != 5 {
		t.Fatalf("expected 5 remaining hits on second page (15 total, offset 10), got %d", len(page2.Hits))
	}
}

func TestRetrieveMetadataGetReturnsNoDocumentsSentinelOnEmptyChat(t *testing.T) {
	chatID := uuid.New()
	deps := RetrievalDeps{Docs: &fakeDocRepo{byChat: map[uuid.UUID][]*chat.RetrievalDoc{}}}
	dbc := dbctx.Context{Ctx: context.Background()}

	result, err := retrieveMetadataGet(dbc, deps, chatID, chat.RouterClassification{
		Filters: chat.RouterFilters{Count: 10, Offset: 0, Apps: []string{"mail"}},
	})
	if err != nil {
		t.Fatalf("retrieveMetadataGet: %v", err)
	}
	if !result.NoDocuments {
		t.Fatalf("expected NoDocuments sentinel for an empty chat")
	}
	if !result.UseMailPrompt {
		t.Fatalf("expected UseMailPrompt when apps=[mail]")
	}
	if len(result.Hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(result.Hits))
	}
}

func TestRetrieveTemporalExpansionStopsAtBoundedIterationsWhenRangePinned(t *testing.T) {
	chatID := uuid.New()
	now := time.Now().UTC()
	start := now.Add(-48 * time.Hour).Format(time.RFC3339)
	end := now.Format(time.RFC3339)
	deps := RetrievalDeps{Docs: &fakeDocRepo{byChat: map[uuid.UUID][]*chat.RetrievalDoc{chatID: {}}}}
	dbc := dbctx.Context{Ctx: context.Background()}

	result, err := retrieveTemporalExpansion(context.Background(), dbc, deps, chatID, chat.RouterClassification{
		Filters: chat.RouterFilters{StartTime: &start, EndTime: &end},
	})
	if err != nil {
		t.Fatalf("retrieveTemporalExpansion: %v", err)
	}
	if result.Iterations != temporalBoundedIterations {
		t.Fatalf("expected %d iterations when both StartTime and EndTime are pinned, got %d", temporalBoundedIterations, result.Iterations)
	}
	if !result.NoDocuments {
		t.Fatalf("expected NoDocuments sentinel for an empty chat")
	}
}

func TestRetrieveTemporalExpansionDedupesAcrossWindows(t *testing.T) {
	chatID := uuid.New()
	now := time.Now().UTC()
	shared := &chat.RetrievalDoc{ID: uuid.New(), ChatID: chatID, DocType: chat.DocTypeThread, OccurredAt: now.Add(-time.Hour)}
	deps := RetrievalDeps{Docs: &fakeDocRepo{byChat: map[uuid.UUID][]*chat.RetrievalDoc{chatID: {shared}}}}
	dbc := dbctx.Context{Ctx: context.Background()}

	result, err := retrieveTemporalExpansion(context.Background(), dbc, deps, chatID, chat.RouterClassification{})
	if err != nil {
		t.Fatalf("retrieveTemporalExpansion: %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("expected the same doc deduped across calendar/mail fan-out and iterations, got %d hits", len(result.Hits))
	}
}
