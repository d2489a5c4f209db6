package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
)

func SeedChat(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID) *domain.Chat {
	tb.Helper()
	c := &domain.Chat{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    "new chat",
		Status:   "active",
		Metadata: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chat: %v", err)
	}
	return c
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID, seq int64, role string) *domain.Message {
	tb.Helper()
	m := &domain.Message{
		ID:       uuid.New(),
		ChatID:   chatID,
		UserID:   userID,
		Seq:      seq,
		Role:     role,
		Status:   domain.MessageStatusDone,
		Content:  "hello",
		Metadata: datatypes.JSON([]byte("{}")),
		Feedback: datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func SeedTurn(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, chatID, userMessageID, assistantMessageID uuid.UUID) *domain.Turn {
	tb.Helper()
	t := &domain.Turn{
		ID:                 uuid.New(),
		UserID:             userID,
		ChatID:             chatID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		Status:             domain.TurnStatusQueued,
		RetrievalTrace:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed turn: %v", err)
	}
	return t
}

func SeedRetrievalDoc(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, chatID uuid.UUID, docType string, occurredAt time.Time) *domain.RetrievalDoc {
	tb.Helper()
	d := &domain.RetrievalDoc{
		ID:         uuid.New(),
		UserID:     userID,
		ChatID:     chatID,
		DocType:    docType,
		Text:       "chunk text",
		Embedding:  datatypes.JSON([]byte("[]")),
		OccurredAt: occurredAt,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed retrieval doc: %v", err)
	}
	return d
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

func PtrFloat64(v float64) *float64 { return &v }
