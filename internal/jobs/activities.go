package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	"github.com/fenwick-ai/ragchat-core/internal/modules/chat/steps"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

// Activities bundles the collaborators chat_title/chat_maintain need;
// registered against a worker.Worker in internal/temporalx/temporalworker.
type Activities struct {
	Log *logger.Logger

	Chats        chatrepos.ChatRepo
	Messages     chatrepos.MessageRepo
	Docs         chatrepos.DocRepo
	States       chatrepos.StateRepo
	SummaryNodes chatrepos.SummaryNodeRepo

	Retrieval steps.RetrievalDeps
	Emitter   steps.Emitter
}

func (a *Activities) maintainDeps() steps.MaintainDeps {
	return steps.MaintainDeps{
		Chats:        a.Chats,
		Messages:     a.Messages,
		Docs:         a.Docs,
		States:       a.States,
		SummaryNodes: a.SummaryNodes,
		Retrieval:    a.Retrieval,
		Log:          a.Log,
	}
}

// MaintainChatActivity runs the chat_maintain workflow's single activity:
// index new messages and roll up a summary node if the chat has grown
// enough since the last pass.
func (a *Activities) MaintainChatActivity(ctx context.Context, in ChatJobInput) error {
	if in.ChatID == uuid.Nil {
		return fmt.Errorf("missing chat_id")
	}
	return steps.MaintainChat(ctx, a.maintainDeps(), in.ChatID, in.UserID)
}

// TitleChatActivity runs the chat_title workflow's single activity:
// generate and persist a short title from the chat's first exchange.
func (a *Activities) TitleChatActivity(ctx context.Context, in ChatJobInput) (string, error) {
	return steps.TitleChat(ctx, a.maintainDeps(), a.Emitter, in.ChatID, in.UserID)
}
