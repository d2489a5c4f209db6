package steps

import (
	"context"
	"testing"

	"github.com/google/uuid"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
)

// fakePersonalizeRepo is a minimal in-memory stand-in for
// chatrepos.UserPersonalizationRepo, just enough to exercise resolveAlpha's
// Postgres-fallback path without a real database.
type fakePersonalizeRepo struct {
	byUser map[uuid.UUID]*chat.UserPersonalization
}

func (f *fakePersonalizeRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*chat.UserPersonalization, error) {
	return f.byUser[userID], nil
}

func (f *fakePersonalizeRepo) Upsert(dbc dbctx.Context, userID uuid.UUID, alpha *float64) (*chat.UserPersonalization, error) {
	row := &chat.UserPersonalization{UserID: userID, RetrievalAlpha: alpha}
	if f.byUser == nil {
		f.byUser = map[uuid.UUID]*chat.UserPersonalization{}
	}
	f.byUser[userID] = row
	return row, nil
}

var _ chatrepos.UserPersonalizationRepo = (*fakePersonalizeRepo)(nil)

func TestResolveAlphaFallsBackToDefaultWithNoPersonalizationRow(t *testing.T) {
	t.Parallel()
	deps := RetrievalDeps{Personalize: &fakePersonalizeRepo{}, DefaultAlpha: 0.7}
	dbc := dbctx.Context{Ctx: context.Background()}

	got := resolveAlpha(context.Background(), dbc, deps, uuid.New())
	if got != 0.7 {
		t.Fatalf("expected DefaultAlpha fallback, got %v", got)
	}
}

func TestResolveAlphaUsesStoredPersonalizationOverDefault(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	custom := 0.2
	repo := &fakePersonalizeRepo{byUser: map[uuid.UUID]*chat.UserPersonalization{
		userID: {UserID: userID, RetrievalAlpha: &custom},
	}}
	deps := RetrievalDeps{Personalize: repo, DefaultAlpha: 0.7}
	dbc := dbctx.Context{Ctx: context.Background()}

	got := resolveAlpha(context.Background(), dbc, deps, userID)
	if got != custom {
		t.Fatalf("expected stored alpha %v, got %v", custom, got)
	}
}

func TestResolveAlphaNilUserFallsBackToDefault(t *testing.T) {
	t.Parallel()
	deps := RetrievalDeps{DefaultAlpha: 0.3}
	dbc := dbctx.Context{Ctx: context.Background()}

	got := resolveAlpha(context.Background(), dbc, deps, uuid.Nil)
	if got != 0.3 {
		t.Fatalf("expected default for nil user, got %v", got)
	}
}

func TestResolveAlphaDefaultsToHalfWhenUnset(t *testing.T) {
	t.Parallel()
	deps := RetrievalDeps{Personalize: &fakePersonalizeRepo{}}
	dbc := dbctx.Context{Ctx: context.Background()}

	got := resolveAlpha(context.Background(), dbc, deps, uuid.New())
	if got != 0.5 {
		t.Fatalf("expected 0.5 floor default, got %v", got)
	}
}
