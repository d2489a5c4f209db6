package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Turn ties a user message to its assistant reply and is the canonical
// anchor for the per-turn trace: routing -> retrieval -> streaming ->
// maintenance (§3, §7).
type Turn struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index" json:"chat_id"`

	UserMessageID      uuid.UUID `gorm:"type:uuid;not null;index" json:"user_message_id"`
	AssistantMessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"assistant_message_id"`

	Status  string `gorm:"type:text;not null;default:'queued';index" json:"status"`
	Attempt int    `gorm:"not null;default:0" json:"attempt"`

	// Route is the C4 router's decision for this turn: one of the
	// RouteXxx constants.
	Route          string         `gorm:"type:text;not null;default:''" json:"route,omitempty"`
	RetrievalTrace datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"retrieval_trace"`

	StartedAt   *time.Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Turn) TableName() string { return "chat_turns" }

const (
	TurnStatusQueued  = "queued"
	TurnStatusRunning = "running"
	TurnStatusDone    = "done"
	TurnStatusError   = "error"
	TurnStatusStopped = "stopped"
)
