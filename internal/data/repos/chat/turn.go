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

type TurnRepo interface {
	Create(dbc dbctx.Context, t *domain.Turn) (*domain.Turn, error)
	Get(dbc dbctx.Context, userID, id uuid.UUID) (*domain.Turn, error)
	// GetByMessageID finds the turn a given user or assistant message
	// belongs to; retry (§4.7) only has the targeted message id and needs
	// its turn to reset or branch from.
	GetByMessageID(dbc dbctx.Context, userID, messageID uuid.UUID) (*domain.Turn, error)
	UpdateFields(dbc dbctx.Context, userID, id uuid.UUID, updates map[string]interface{}) error
}

type turnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTurnRepo(db *gorm.DB, log *logger.Logger) TurnRepo {
	return &turnRepo{db: db, log: log.With("repo", "TurnRepo")}
}

func (r *turnRepo) Create(dbc dbctx.Context, t *domain.Turn) (*domain.Turn, error) {
	if t == nil {
		return nil, fmt.Errorf("missing turn")
	}
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *turnRepo) Get(dbc dbctx.Context, userID, id uuid.UUID) (*domain.Turn, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var t domain.Turn
	q := dbc.DB(r.db).Model(&domain.Turn{}).Where("id = ?", id)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *turnRepo) GetByMessageID(dbc dbctx.Context, userID, messageID uuid.UUID) (*domain.Turn, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("missing message id")
	}
	var t domain.Turn
	q := dbc.DB(r.db).Model(&domain.Turn{}).
		Where("user_message_id = ? OR assistant_message_id = ?", messageID, messageID)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Order("created_at DESC").First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *turnRepo) UpdateFields(dbc dbctx.Context, userID, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	q := dbc.DB(r.db).Model(&domain.Turn{}).Where("id = ?", id)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	return q.Updates(updates).Error
}
