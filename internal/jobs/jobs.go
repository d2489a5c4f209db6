// Package jobs holds the two Temporal workflows this module runs outside
// the request path: chat_title (short title generation for a new chat) and
// chat_maintain (retrieval-doc indexing + hierarchical summarization).
// Both are registered on the worker in internal/temporalx/temporalworker;
// no code in this module starts either workflow.
package jobs

import (
	"github.com/google/uuid"
)

const (
	WorkflowNameChatTitle    = "chat_title"
	WorkflowNameChatMaintain = "chat_maintain"

	ActivityNameTitleChat    = "TitleChatActivity"
	ActivityNameMaintainChat = "MaintainChatActivity"
)

// ChatJobInput is the payload both workflows take: the chat and its owner.
// Kept as plain fields (no pointers/interfaces) so it round-trips through
// Temporal's payload codec.
type ChatJobInput struct {
	ChatID uuid.UUID
	UserID uuid.UUID
}
