package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

// ChatTraceRepo persists the rendered TraceTree for a turn, backing the
// GET /chat/trace admin surface (§6).
type ChatTraceRepo interface {
	Create(dbc dbctx.Context, t *domain.ChatTrace) (*domain.ChatTrace, error)
	GetByTurnID(dbc dbctx.Context, turnID uuid.UUID) (*domain.ChatTrace, error)
}

type chatTraceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatTraceRepo(db *gorm.DB, log *logger.Logger) ChatTraceRepo {
	return &chatTraceRepo{db: db, log: log.With("repo", "ChatTraceRepo")}
}

func (r *chatTraceRepo) Create(dbc dbctx.Context, t *domain.ChatTrace) (*domain.ChatTrace, error) {
	if t == nil {
		return nil, fmt.Errorf("missing trace")
	}
	if err := dbc.DB(r.db).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *chatTraceRepo) GetByTurnID(dbc dbctx.Context, turnID uuid.UUID) (*domain.ChatTrace, error) {
	if turnID == uuid.Nil {
		return nil, fmt.Errorf("missing turn_id")
	}
	var out domain.ChatTrace
	if err := dbc.DB(r.db).Where("turn_id = ?", turnID).Order("created_at DESC").First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
