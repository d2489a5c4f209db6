// Package chat holds the persisted and in-flight types for the RAG chat
// orchestrator: the chat/message aggregate, retrieval projections, router
// output, citations, and the trace tree recorded per turn.
package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chat is a conversation between one user and the assistant. Title,
// bookmarking, and sharing are the only mutable fields outside of the
// message stream itself.
type Chat struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title      string         `gorm:"column:title;not null;default:'New Chat'" json:"title"`
	Status     string         `gorm:"column:status;not null;default:'active';index" json:"status"`
	Bookmarked bool           `gorm:"column:bookmarked;not null;default:false;index" json:"bookmarked"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	// NextSeq is the next message sequence number to allocate; incremented
	// under a row lock so concurrent appends never collide (§5).
	NextSeq int64 `gorm:"column:next_seq;not null;default:0" json:"next_seq"`

	LastMessageAt time.Time `gorm:"column:last_message_at;not null;default:now();index" json:"last_message_at"`
	LastViewedAt  time.Time `gorm:"column:last_viewed_at;not null;default:now();index" json:"last_viewed_at"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Chat) TableName() string { return "chats" }

// SharedChat is a read-only share link for a chat (§6 "essentials").
type SharedChat struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"chat_id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string     `gorm:"type:text;not null;uniqueIndex" json:"token"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (SharedChat) TableName() string { return "shared_chats" }

// UserPersonalization carries per-user overrides to retrieval scoring, most
// notably the hybrid-search alpha weight (§4.3).
type UserPersonalization struct {
	UserID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	RetrievalAlpha *float64 `gorm:"column:retrieval_alpha" json:"retrieval_alpha,omitempty"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserPersonalization) TableName() string { return "user_personalization" }

// Agent is a static named system-prompt/model pairing surfaced by GET
// /models — a catalog entry, not a tool-calling agent (those are a
// Non-goal).
type Agent struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name         string    `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Model        string    `gorm:"type:text;not null" json:"model"`
	SystemPrompt string    `gorm:"type:text;not null;default:''" json:"system_prompt,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }
