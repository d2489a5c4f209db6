package chat

import (
	"time"

	"github.com/google/uuid"
)

// State stores incremental maintenance cursors for a chat: how far
// retrieval indexing, summarization, and the stop-signal machinery have
// progressed against the message stream.
type State struct {
	ChatID uuid.UUID `gorm:"type:uuid;primaryKey" json:"chat_id"`

	LastIndexedSeq    int64 `gorm:"column:last_indexed_seq;not null;default:0" json:"last_indexed_seq"`
	LastSummarizedSeq int64 `gorm:"column:last_summarized_seq;not null;default:0" json:"last_summarized_seq"`

	ConversationID *string `gorm:"column:conversation_id;type:text" json:"conversation_id,omitempty"`

	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (State) TableName() string { return "chat_state" }

// SummaryNode is a hierarchical rollup of a chat's older history, consulted
// by the context builder once a chat outgrows its raw-window budget.
type SummaryNode struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID    uuid.UUID `gorm:"type:uuid;not null;index" json:"chat_id"`
	Level     int       `gorm:"not null;default:0;index" json:"level"`
	FromSeq   int64     `gorm:"column:from_seq;not null" json:"from_seq"`
	ToSeq     int64     `gorm:"column:to_seq;not null" json:"to_seq"`
	SummaryMD string    `gorm:"column:summary_md;type:text;not null;default:''" json:"summary_md"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SummaryNode) TableName() string { return "chat_summary_nodes" }
