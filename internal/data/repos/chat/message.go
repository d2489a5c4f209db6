package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Message) ([]*domain.Message, error)
	GetMaxSeq(dbc dbctx.Context, chatID uuid.UUID) (int64, error)
	ListRecent(dbc dbctx.Context, chatID uuid.UUID, limit int) ([]*domain.Message, error)
	ListByChat(dbc dbctx.Context, chatID uuid.UUID, limit int) ([]*domain.Message, error)
	ListSinceSeq(dbc dbctx.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]*domain.Message, error)
	// ListBeforeSeq / ListAfterSeq back the temporal-expansion strategy's
	// directional pagination (§4).
	ListBeforeSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64, limit int) ([]*domain.Message, error)
	ListAfterSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64, limit int) ([]*domain.Message, error)
	// LexicalSearchHits is a SQL-only fallback when the vector index is
	// degraded or unavailable.
	LexicalSearchHits(dbc dbctx.Context, q LexicalQuery) ([]LexicalHit, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Get(dbc dbctx.Context, chatID, id uuid.UUID) (*domain.Message, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*domain.Message) ([]*domain.Message, error) {
	if len(rows) == 0 {
		return []*domain.Message{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *messageRepo) GetMaxSeq(dbc dbctx.Context, chatID uuid.UUID) (int64, error) {
	if chatID == uuid.Nil {
		return 0, fmt.Errorf("missing chat_id")
	}
	var maxSeq int64
	if err := dbc.DB(r.db).Model(&domain.Message{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("chat_id = ?", chatID).
		Scan(&maxSeq).Error; err != nil {
		return 0, err
	}
	return maxSeq, nil
}

func (r *messageRepo) ListRecent(dbc dbctx.Context, chatID uuid.UUID, limit int) ([]*domain.Message, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.Message
	if err := dbc.DB(r.db).Model(&domain.Message{}).
		Where("chat_id = ?", chatID).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID, limit int) ([]*domain.Message, error) {
	out, err := r.ListRecent(dbc, chatID, limit)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (r *messageRepo) ListSinceSeq(dbc dbctx.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]*domain.Message, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 1000 {
		limit = 300
	}
	var out []*domain.Message
	if err := dbc.DB(r.db).Model(&domain.Message{}).
		Where("chat_id = ? AND seq > ?", chatID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListBeforeSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64, limit int) ([]*domain.Message, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 30
	}
	var out []*domain.Message
	if err := dbc.DB(r.db).Model(&domain.Message{}).
		Where("chat_id = ? AND seq < ?", chatID, seq).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (r *messageRepo) ListAfterSeq(dbc dbctx.Context, chatID uuid.UUID, seq int64, limit int) ([]*domain.Message, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 30
	}
	var out []*domain.Message
	if err := dbc.DB(r.db).Model(&domain.Message{}).
		Where("chat_id = ? AND seq > ?", chatID, seq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) Get(dbc dbctx.Context, chatID, id uuid.UUID) (*domain.Message, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var m domain.Message
	q := dbc.DB(r.db).Model(&domain.Message{}).Where("id = ?", id)
	if chatID != uuid.Nil {
		q = q.Where("chat_id = ?", chatID)
	}
	if err := q.First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

type LexicalQuery struct {
	UserID uuid.UUID
	ChatID uuid.UUID
	Query  string
	Limit  int
}

type LexicalHit struct {
	Msg  *domain.Message
	Rank float64
}

func (r *messageRepo) LexicalSearchHits(dbc dbctx.Context, q LexicalQuery) ([]LexicalHit, error) {
	if q.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if q.ChatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat_id")
	}
	if strings.TrimSpace(q.Query) == "" {
		return []LexicalHit{}, nil
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 30
	}

	sql := fmt.Sprintf(`
		SELECT messages.*,
		       ts_rank(to_tsvector('english', messages.content), plainto_tsquery('english', ?)) AS rank
		FROM messages
		WHERE messages.user_id = ?
		  AND messages.chat_id = ?
		  AND messages.deleted_at IS NULL
		  AND to_tsvector('english', messages.content) @@ plainto_tsquery('english', ?)
		ORDER BY rank DESC, messages.seq DESC
		LIMIT %d;
	`, q.Limit)

	type row struct {
		domain.Message
		Rank float64 `gorm:"column:rank"`
	}
	var rows []row
	if err := dbc.DB(r.db).Raw(sql, q.Query, q.UserID, q.ChatID, q.Query).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]LexicalHit, 0, len(rows))
	for i := range rows {
		m := rows[i].Message
		out = append(out, LexicalHit{Msg: &m, Rank: rows[i].Rank})
	}
	return out, nil
}

func (r *messageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	return dbc.DB(r.db).Model(&domain.Message{}).Where("id = ?", id).Updates(updates).Error
}

func reverse(msgs []*domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
