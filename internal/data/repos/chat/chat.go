// Package chat holds the GORM-backed repositories for the chat aggregate:
// chats, messages, turns, retrieval docs, state, summaries, traces, and the
// thin admin-surface tables (shared chats, personalization, agents).
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

type ChatRepo interface {
	Create(dbc dbctx.Context, c *domain.Chat) (*domain.Chat, error)
	GetByIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*domain.Chat, error)
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int, bookmarkedOnly bool) ([]*domain.Chat, error)
	UpdateFields(dbc dbctx.Context, userID, id uuid.UUID, updates map[string]interface{}) error
	// NextSeq allocates the next message sequence number for a chat under a
	// row lock, so concurrent appends (user message + maintenance writers)
	// never collide (§5).
	NextSeq(dbc dbctx.Context, chatID uuid.UUID, n int64) (int64, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(dbc dbctx.Context, c *domain.Chat) (*domain.Chat, error) {
	if c == nil {
		return nil, fmt.Errorf("missing chat")
	}
	if err := dbc.DB(r.db).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *chatRepo) GetByIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*domain.Chat, error) {
	if len(ids) == 0 {
		return []*domain.Chat{}, nil
	}
	var out []*domain.Chat
	q := dbc.DB(r.db).Model(&domain.Chat{}).Where("id IN ?", ids)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int, bookmarkedOnly bool) ([]*domain.Chat, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := dbc.DB(r.db).Model(&domain.Chat{}).Where("user_id = ?", userID)
	if bookmarkedOnly {
		q = q.Where("bookmarked = ?", true)
	}
	var out []*domain.Chat
	if err := q.Order("last_message_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) UpdateFields(dbc dbctx.Context, userID, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	q := dbc.DB(r.db).Model(&domain.Chat{}).Where("id = ?", id)
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	return q.Updates(updates).Error
}

func (r *chatRepo) NextSeq(dbc dbctx.Context, chatID uuid.UUID, n int64) (int64, error) {
	if chatID == uuid.Nil {
		return 0, fmt.Errorf("missing chat_id")
	}
	if n <= 0 {
		n = 1
	}
	var next int64
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		var cur int64
		if err := tx.Raw(`SELECT next_seq FROM chats WHERE id = ? FOR UPDATE`, chatID).Scan(&cur).Error; err != nil {
			return err
		}
		next = cur
		if err := tx.Exec(`UPDATE chats SET next_seq = ? WHERE id = ?`, cur+n, chatID).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
