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

// SharedChatRepo backs the read-only share-link surface: a chat can be
// published behind a random token with an optional expiry.
type SharedChatRepo interface {
	Create(dbc dbctx.Context, s *domain.SharedChat) (*domain.SharedChat, error)
	GetByToken(dbc dbctx.Context, token string) (*domain.SharedChat, error)
	DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error
}

type sharedChatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSharedChatRepo(db *gorm.DB, log *logger.Logger) SharedChatRepo {
	return &sharedChatRepo{db: db, log: log.With("repo", "SharedChatRepo")}
}

func (r *sharedChatRepo) Create(dbc dbctx.Context, s *domain.SharedChat) (*domain.SharedChat, error) {
	if s == nil {
		return nil, fmt.Errorf("missing shared chat")
	}
	if err := dbc.DB(r.db).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sharedChatRepo) GetByToken(dbc dbctx.Context, token string) (*domain.SharedChat, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	var out domain.SharedChat
	err := dbc.DB(r.db).Where("token = ?", token).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out.ExpiresAt != nil && out.ExpiresAt.Before(time.Now().UTC()) {
		return nil, nil
	}
	return &out, nil
}

func (r *sharedChatRepo) DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	return dbc.DB(r.db).Where("chat_id = ?", chatID).Delete(&domain.SharedChat{}).Error
}

// UserPersonalizationRepo holds the retrieval-alpha override that biases
// fusion's lexical/vector blend per user (§4.6); most rows never exist and
// the caller falls back to the default alpha.
type UserPersonalizationRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*domain.UserPersonalization, error)
	Upsert(dbc dbctx.Context, userID uuid.UUID, alpha *float64) (*domain.UserPersonalization, error)
}

type userPersonalizationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserPersonalizationRepo(db *gorm.DB, log *logger.Logger) UserPersonalizationRepo {
	return &userPersonalizationRepo{db: db, log: log.With("repo", "UserPersonalizationRepo")}
}

func (r *userPersonalizationRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*domain.UserPersonalization, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	var out domain.UserPersonalization
	err := dbc.DB(r.db).Where("user_id = ?", userID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userPersonalizationRepo) Upsert(dbc dbctx.Context, userID uuid.UUID, alpha *float64) (*domain.UserPersonalization, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	row := &domain.UserPersonalization{UserID: userID, RetrievalAlpha: alpha, UpdatedAt: time.Now().UTC()}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"retrieval_alpha", "updated_at"}),
	}
	if err := dbc.DB(r.db).Clauses(onConflict).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// AgentRepo lists the named agent presets (model + system prompt) surfaced
// by GET /models.
type AgentRepo interface {
	List(dbc dbctx.Context) ([]*domain.Agent, error)
	GetByName(dbc dbctx.Context, name string) (*domain.Agent, error)
}

type agentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAgentRepo(db *gorm.DB, log *logger.Logger) AgentRepo {
	return &agentRepo{db: db, log: log.With("repo", "AgentRepo")}
}

func (r *agentRepo) List(dbc dbctx.Context) ([]*domain.Agent, error) {
	var out []*domain.Agent
	if err := dbc.DB(r.db).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *agentRepo) GetByName(dbc dbctx.Context, name string) (*domain.Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("missing name")
	}
	var out domain.Agent
	err := dbc.DB(r.db).Where("name = ?", name).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
