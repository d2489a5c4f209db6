package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DocTypeMessageChunk = "message_chunk"
	DocTypeSummary      = "summary"
	DocTypeThread       = "thread_overview"
)

// RetrievalDoc is a retrieval projection derived from canonical chat data
// (messages + summaries). It is rebuildable from SQL truth and is what C5's
// metadata-get / filtered-search / temporal-expansion strategies query
// against; iterative-rewrite-RAG re-queries it with a rewritten query.
type RetrievalDoc struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index" json:"chat_id"`

	DocType string `gorm:"type:text;not null;index" json:"doc_type"`

	SourceMessageID *uuid.UUID `gorm:"type:uuid;index" json:"source_message_id,omitempty"`
	SourceSeq       *int64     `gorm:"index" json:"source_seq,omitempty"`
	ChunkIndex      int        `gorm:"not null;default:0" json:"chunk_index"`

	Text           string `gorm:"type:text;not null" json:"text"`
	ContextualText string `gorm:"type:text;not null;default:''" json:"contextual_text,omitempty"`

	Embedding datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"embedding"`
	VectorID  string         `gorm:"type:text;not null;index" json:"vector_id"`

	// OccurredAt anchors temporal-expansion queries (§4, "before"/"after"
	// directional retrieval) independent of indexing order.
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index" json:"occurred_at"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (RetrievalDoc) TableName() string { return "retrieval_docs" }
