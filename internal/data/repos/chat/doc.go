package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type DocRepo interface {
	Create(dbc dbctx.Context, rows []*domain.RetrievalDoc) ([]*domain.RetrievalDoc, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.RetrievalDoc, error)
	ListByChat(dbc dbctx.Context, chatID uuid.UUID, docType string, limit int) ([]*domain.RetrievalDoc, error)
	// ListBefore / ListAfter back temporal-expansion retrieval (§4): all
	// docs whose OccurredAt is before/after the anchor, most-recent-first.
	ListBefore(dbc dbctx.Context, chatID uuid.UUID, anchor time.Time, limit int) ([]*domain.RetrievalDoc, error)
	ListAfter(dbc dbctx.Context, chatID uuid.UUID, anchor time.Time, limit int) ([]*domain.RetrievalDoc, error)
	DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error
}

type docRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocRepo(db *gorm.DB, log *logger.Logger) DocRepo {
	return &docRepo{db: db, log: log.With("repo", "DocRepo")}
}

func (r *docRepo) Create(dbc dbctx.Context, rows []*domain.RetrievalDoc) ([]*domain.RetrievalDoc, error) {
	if len(rows) == 0 {
		return []*domain.RetrievalDoc{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *docRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.RetrievalDoc, error) {
	if len(ids) == 0 {
		return []*domain.RetrievalDoc{}, nil
	}
	var out []*domain.RetrievalDoc
	if err := dbc.DB(r.db).Model(&domain.RetrievalDoc{}).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *docRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID, docType string, limit int) ([]*domain.RetrievalDoc, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	q := dbc.DB(r.db).Model(&domain.RetrievalDoc{}).Where("chat_id = ?", chatID)
	if docType != "" {
		q = q.Where("doc_type = ?", docType)
	}
	var out []*domain.RetrievalDoc
	if err := q.Order("occurred_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *docRepo) ListBefore(dbc dbctx.Context, chatID uuid.UUID, anchor time.Time, limit int) ([]*domain.RetrievalDoc, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 60
	}
	var out []*domain.RetrievalDoc
	if err := dbc.DB(r.db).Model(&domain.RetrievalDoc{}).
		Where("chat_id = ? AND occurred_at < ?", chatID, anchor).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *docRepo) ListAfter(dbc dbctx.Context, chatID uuid.UUID, anchor time.Time, limit int) ([]*domain.RetrievalDoc, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 60
	}
	var out []*domain.RetrievalDoc
	if err := dbc.DB(r.db).Model(&domain.RetrievalDoc{}).
		Where("chat_id = ? AND occurred_at > ?", chatID, anchor).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *docRepo) DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	return dbc.DB(r.db).Where("chat_id = ?", chatID).Delete(&domain.RetrievalDoc{}).Error
}
