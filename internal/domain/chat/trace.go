package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChatTrace is the persisted rendering of a turn's TraceTree: the span tree
// recorded by internal/platform/tracetree, serialized once the turn
// completes (§6 GET /chat/trace).
type ChatTrace struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"chat_id"`
	TurnID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"turn_id"`
	Tree      datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"tree"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (ChatTrace) TableName() string { return "chat_traces" }
