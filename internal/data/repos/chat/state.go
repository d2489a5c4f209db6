package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type StateRepo interface {
	GetByChatID(dbc dbctx.Context, chatID uuid.UUID) (*domain.State, error)
	GetOrCreate(dbc dbctx.Context, chatID uuid.UUID) (*domain.State, error)
	UpdateFields(dbc dbctx.Context, chatID uuid.UUID, updates map[string]interface{}) error
}

type stateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStateRepo(db *gorm.DB, log *logger.Logger) StateRepo {
	return &stateRepo{db: db, log: log.With("repo", "StateRepo")}
}

func (r *stateRepo) GetByChatID(dbc dbctx.Context, chatID uuid.UUID) (*domain.State, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	var out domain.State
	err := dbc.DB(r.db).Where("chat_id = ?", chatID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *stateRepo) GetOrCreate(dbc dbctx.Context, chatID uuid.UUID) (*domain.State, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	existing, err := r.GetByChatID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	row := &domain.State{ChatID: chatID}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}}, DoNothing: true}
	if err := dbc.DB(r.db).Clauses(onConflict).Create(row).Error; err != nil {
		return nil, err
	}
	return r.GetByChatID(dbc, chatID)
}

func (r *stateRepo) UpdateFields(dbc dbctx.Context, chatID uuid.UUID, updates map[string]interface{}) error {
	if chatID == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	return dbc.DB(r.db).Model(&domain.State{}).Where("chat_id = ?", chatID).Updates(updates).Error
}

type SummaryNodeRepo interface {
	Create(dbc dbctx.Context, n *domain.SummaryNode) (*domain.SummaryNode, error)
	ListByChat(dbc dbctx.Context, chatID uuid.UUID, level int) ([]*domain.SummaryNode, error)
	DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error
}

type summaryNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryNodeRepo(db *gorm.DB, log *logger.Logger) SummaryNodeRepo {
	return &summaryNodeRepo{db: db, log: log.With("repo", "SummaryNodeRepo")}
}

func (r *summaryNodeRepo) Create(dbc dbctx.Context, n *domain.SummaryNode) (*domain.SummaryNode, error) {
	if n == nil {
		return nil, fmt.Errorf("missing summary node")
	}
	if err := dbc.DB(r.db).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

func (r *summaryNodeRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID, level int) ([]*domain.SummaryNode, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	q := dbc.DB(r.db).Model(&domain.SummaryNode{}).Where("chat_id = ?", chatID)
	if level > 0 {
		q = q.Where("level = ?", level)
	}
	var out []*domain.SummaryNode
	if err := q.Order("from_seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *summaryNodeRepo) DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	return dbc.DB(r.db).Where("chat_id = ?", chatID).Delete(&domain.SummaryNode{}).Error
}
