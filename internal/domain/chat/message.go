package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	MessageStatusSent      = "sent"
	MessageStatusStreaming = "streaming"
	MessageStatusDone      = "done"
	MessageStatusError     = "error"
)

// Message is one turn's worth of content. Seq is a strictly-increasing,
// per-chat sequence number: clients and retrieval both rely on it for
// ordering invariants (§3, §8).
type Message struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_chat_seq,unique,priority:1" json:"chat_id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_message_chat_seq,unique,priority:2" json:"seq"`

	Role   string `gorm:"column:role;not null;index" json:"role"`
	Status string `gorm:"column:status;not null;default:'sent';index" json:"status"`

	Content  string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Model    string         `gorm:"column:model" json:"model,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	// ErrorMessage holds the translated, user-facing phrase when a stream
	// fails mid-turn (§7 Error Handling); set on the user message that
	// triggered the failed turn, cleared on a successful retry.
	ErrorMessage string `gorm:"column:error_message;type:text;not null;default:''" json:"error_message,omitempty"`

	Feedback datatypes.JSON `gorm:"type:jsonb;column:feedback;not null;default:'{}'" json:"feedback,omitempty"`

	// IdempotencyKey dedupes retried user-message submissions; enforced with
	// a partial unique index (role='user' AND idempotency_key <> '').
	IdempotencyKey string `gorm:"type:text;column:idempotency_key;not null;default:'';index" json:"idempotency_key,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Message) TableName() string { return "messages" }

// MessageAttachment records a file/image attached to a user message.
type MessageAttachment struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MessageID uuid.UUID      `gorm:"type:uuid;not null;index" json:"message_id"`
	Kind      string         `gorm:"type:text;not null" json:"kind"`
	URL       string         `gorm:"type:text;not null" json:"url"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (MessageAttachment) TableName() string { return "message_attachments" }

// Citation is an attribution attached to an assistant message, produced by
// the streaming citation parser (§4.1, C1) rewriting inline markers into a
// stable display index.
type Citation struct {
	DisplayIndex int    `json:"display_index"`
	SourceID     string `json:"source_id"`
	SourceType   string `json:"source_type"`
	Title        string `json:"title,omitempty"`
	Locator      string `json:"locator,omitempty"`
	Quote        string `json:"quote,omitempty"`
}

// ImageCitation is the image-evidence counterpart of Citation.
type ImageCitation struct {
	DisplayIndex int    `json:"display_index"`
	SourceID     string `json:"source_id"`
	URL          string `json:"url"`
	Caption      string `json:"caption,omitempty"`
}
