package chat_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	"github.com/fenwick-ai/ragchat-core/internal/data/repos/testutil"
	domain "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
)

func TestTurnRepoCreateGetUpdate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := chatrepos.NewTurnRepo(tx, log)
	dbc := dbctx.Context{Ctx: context.Background()}

	userID := uuid.New()
	turn := &domain.Turn{
		UserID:             userID,
		ChatID:             uuid.New(),
		UserMessageID:      uuid.New(),
		AssistantMessageID: uuid.New(),
	}
	created, err := repo.Create(dbc, turn)
	if err != nil {
		t.Fatalf("create turn: %v", err)
	}
	if created.Status != "queued" {
		t.Fatalf("expected default status 'queued', got %q", created.Status)
	}

	got, err := repo.Get(dbc, userID, created.ID)
	if err != nil {
		t.Fatalf("get turn: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected to fetch the created turn, got %v", got.ID)
	}

	if err := repo.UpdateFields(dbc, userID, created.ID, map[string]interface{}{"status": "streaming"}); err != nil {
		t.Fatalf("update turn: %v", err)
	}
	updated, err := repo.Get(dbc, userID, created.ID)
	if err != nil {
		t.Fatalf("get turn after update: %v", err)
	}
	if updated.Status != "streaming" {
		t.Fatalf("expected status 'streaming' after update, got %q", updated.Status)
	}
}

func TestTurnRepoGetScopedToUser(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := chatrepos.NewTurnRepo(tx, log)
	dbc := dbctx.Context{Ctx: context.Background()}

	owner := uuid.New()
	created, err := repo.Create(dbc, &domain.Turn{
		UserID:             owner,
		ChatID:             uuid.New(),
		UserMessageID:      uuid.New(),
		AssistantMessageID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create turn: %v", err)
	}

	if _, err := repo.Get(dbc, uuid.New(), created.ID); err == nil {
		t.Fatalf("expected a not-found error when scoping to a different user")
	}
}

func TestTurnRepoGetByMessageIDMatchesEitherSide(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	repo := chatrepos.NewTurnRepo(tx, log)
	dbc := dbctx.Context{Ctx: context.Background()}

	userID := uuid.New()
	userMsgID := uuid.New()
	assistantMsgID := uuid.New()
	created, err := repo.Create(dbc, &domain.Turn{
		UserID:             userID,
		ChatID:             uuid.New(),
		UserMessageID:      userMsgID,
		AssistantMessageID: assistantMsgID,
	})
	if err != nil {
		t.Fatalf("create turn: %v", err)
	}

	byUser, err := repo.GetByMessageID(dbc, userID, userMsgID)
	if err != nil {
		t.Fatalf("get by user message id: %v", err)
	}
	if byUser.ID != created.ID {
		t.Fatalf("expected to find the turn via its user message id")
	}

	byAssistant, err := repo.GetByMessageID(dbc, userID, assistantMsgID)
	if err != nil {
		t.Fatalf("get by assistant message id: %v", err)
	}
	if byAssistant.ID != created.ID {
		t.Fatalf("expected to find the turn via its assistant message id")
	}

	if _, err := repo.GetByMessageID(dbc, uuid.New(), userMsgID); err == nil {
		t.Fatalf("expected a not-found error when scoping to a different user")
	}
}
