package steps

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
)

// StartTurnDeps bundles the repos StartTurn needs to transactionally seed a
// turn: allocate seqs, write the user message and assistant placeholder, and
// open (or reuse) the Chat row (§4.7 new-chat/existing-chat patterns).
type StartTurnDeps struct {
	DB       *gorm.DB
	Chats    chatrepos.ChatRepo
	Messages chatrepos.MessageRepo
	Turns    chatrepos.TurnRepo
}

// StartTurnInput is what a handler gathers from the incoming request.
type StartTurnInput struct {
	UserID uuid.UUID
	// ChatID is nil for a new chat; set to continue an existing one.
	ChatID         uuid.UUID
	Text           string
	IdempotencyKey string
}

// StartTurnOutput carries the IDs the caller needs to open the SSE stream
// and call Respond.
type StartTurnOutput struct {
	ChatID             uuid.UUID
	TurnID             uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	IsNewChat          bool
}

// StartTurn persists the user's message, a streaming assistant placeholder,
// and the Turn row in one transaction (§4.7). The Chat row is created first
// if ChatID is nil. Respond is called afterward, outside this transaction,
// since it streams over a long-lived connection.
func StartTurn(dbc dbctx.Context, deps StartTurnDeps, in StartTurnInput) (StartTurnOutput, error) {
	if in.UserID == uuid.Nil {
		return StartTurnOutput{}, fmt.Errorf("missing user_id")
	}

	var out StartTurnOutput
	err := deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		chatID := in.ChatID
		if chatID == uuid.Nil {
			c, err := deps.Chats.Create(txc, &chat.Chat{
				UserID:        in.UserID,
				LastMessageAt: time.Now().UTC(),
				LastViewedAt:  time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			chatID = c.ID
			out.IsNewChat = true
		}

		baseSeq, err := deps.Chats.NextSeq(txc, chatID, 2)
		if err != nil {
			return err
		}
		userSeq, assistantSeq := baseSeq, baseSeq+1

		rows := []*chat.Message{
			{
				ChatID:         chatID,
				UserID:         in.UserID,
				Seq:            userSeq,
				Role:           chat.RoleUser,
				Status:         chat.MessageStatusDone,
				Content:        in.Text,
				IdempotencyKey: in.IdempotencyKey,
			},
			{
				ChatID:  chatID,
				UserID:  in.UserID,
				Seq:     assistantSeq,
				Role:    chat.RoleAssistant,
				Status:  chat.MessageStatusStreaming,
				Content: "",
			},
		}
		created, err := deps.Messages.Create(txc, rows)
		if err != nil {
			return err
		}

		turn, err := deps.Turns.Create(txc, &chat.Turn{
			UserID:             in.UserID,
			ChatID:             chatID,
			UserMessageID:      created[0].ID,
			AssistantMessageID: created[1].ID,
			Status:             chat.TurnStatusQueued,
		})
		if err != nil {
			return err
		}

		if err := deps.Chats.UpdateFields(txc, in.UserID, chatID, map[string]interface{}{
			"last_message_at": time.Now().UTC(),
		}); err != nil {
			return err
		}

		out.ChatID = chatID
		out.TurnID = turn.ID
		out.UserMessageID = created[0].ID
		out.AssistantMessageID = created[1].ID
		return nil
	})
	if err != nil {
		return StartTurnOutput{}, err
	}
	return out, nil
}

// RetryTurnDeps bundles the repos RetryTurn needs.
type RetryTurnDeps struct {
	DB       *gorm.DB
	Chats    chatrepos.ChatRepo
	Messages chatrepos.MessageRepo
	Turns    chatrepos.TurnRepo
}

// RetryTurnInput is what a handler gathers from the incoming retry request:
// the single message the client wants re-answered, targeting either side of
// a turn (§4.7 "Retry").
type RetryTurnInput struct {
	UserID    uuid.UUID
	MessageID uuid.UUID
}

// RetryTurnOutput carries the IDs the caller needs to open the SSE stream
// and call Respond, exactly like StartTurnOutput.
type RetryTurnOutput struct {
	ChatID             uuid.UUID
	TurnID             uuid.UUID
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
}

// RetryTurn implements §4.7's two retry branches:
//
//   - Targeting the assistant message: reset it in place (content cleared,
//     status back to streaming) and bump the turn's Attempt, leaving
//     CreatedAt untouched. Grounded on the teacher's steps/respond.go
//     `in.Attempt > 0` reset branch, which resets the same placeholder
//     on every retry of a turn rather than inserting a new row.
//   - Targeting the user message: insert a brand-new assistant message
//     with CreatedAt one second after the user message's, and a new Turn
//     row with Attempt carried forward, so the old assistant turn is left
//     untouched in history and the new one sorts immediately after it
//     (§8 "retry produces new assistant row with createdAt == user.createdAt+1").
//
// Either way the user message's stale error_message is cleared so a
// successful retry doesn't keep showing the prior failure.
func RetryTurn(dbc dbctx.Context, deps RetryTurnDeps, in RetryTurnInput) (RetryTurnOutput, error) {
	if in.UserID == uuid.Nil || in.MessageID == uuid.Nil {
		return RetryTurnOutput{}, fmt.Errorf("missing user_id or message_id")
	}

	var out RetryTurnOutput
	err := deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		target, err := deps.Messages.Get(txc, uuid.Nil, in.MessageID)
		if err != nil {
			return fmt.Errorf("load target message: %w", err)
		}
		turn, err := deps.Turns.GetByMessageID(txc, in.UserID, in.MessageID)
		if err != nil {
			return fmt.Errorf("load turn: %w", err)
		}

		switch target.Role {
		case chat.RoleAssistant:
			if err := deps.Messages.UpdateFields(txc, target.ID, map[string]interface{}{
				"content": "",
				"status":  chat.MessageStatusStreaming,
			}); err != nil {
				return err
			}
			if err := deps.Messages.UpdateFields(txc, turn.UserMessageID, map[string]interface{}{"error_message": ""}); err != nil {
				return err
			}
			if err := deps.Turns.UpdateFields(txc, in.UserID, turn.ID, map[string]interface{}{
				"status":  chat.TurnStatusQueued,
				"attempt": turn.Attempt + 1,
			}); err != nil {
				return err
			}
			out.ChatID = turn.ChatID
			out.TurnID = turn.ID
			out.UserMessageID = turn.UserMessageID
			out.AssistantMessageID = turn.AssistantMessageID
			return nil

		case chat.RoleUser:
			if err := deps.Messages.UpdateFields(txc, target.ID, map[string]interface{}{"error_message": ""}); err != nil {
				return err
			}
			seq, err := deps.Chats.NextSeq(txc, target.ChatID, 1)
			if err != nil {
				return err
			}
			created, err := deps.Messages.Create(txc, []*chat.Message{{
				ChatID:    target.ChatID,
				UserID:    in.UserID,
				Seq:       seq,
				Role:      chat.RoleAssistant,
				Status:    chat.MessageStatusStreaming,
				Content:   "",
				CreatedAt: target.CreatedAt.Add(time.Second),
			}})
			if err != nil {
				return err
			}
			newTurn, err := deps.Turns.Create(txc, &chat.Turn{
				UserID:             in.UserID,
				ChatID:             target.ChatID,
				UserMessageID:      target.ID,
				AssistantMessageID: created[0].ID,
				Status:             chat.TurnStatusQueued,
				Attempt:            turn.Attempt + 1,
			})
			if err != nil {
				return err
			}
			if err := deps.Chats.UpdateFields(txc, in.UserID, target.ChatID, map[string]interface{}{
				"last_message_at": time.Now().UTC(),
			}); err != nil {
				return err
			}
			out.ChatID = target.ChatID
			out.TurnID = newTurn.ID
			out.UserMessageID = target.ID
			out.AssistantMessageID = created[0].ID
			return nil

		default:
			return fmt.Errorf("retry: unsupported message role %q", target.Role)
		}
	})
	if err != nil {
		return RetryTurnOutput{}, err
	}
	return out, nil
}

// DeleteChatDeps bundles the repos DeleteChat needs.
type DeleteChatDeps struct {
	DB      *gorm.DB
	Chats   chatrepos.ChatRepo
	Shared  chatrepos.SharedChatRepo
	States  chatrepos.StateRepo
	Summary chatrepos.SummaryNodeRepo
	Docs    chatrepos.DocRepo
}

// DeleteChat soft-deletes a chat and hard-deletes its derived projections
// (share links, retrieval docs, summary nodes) in one transaction, since
// those have no business surviving the chat itself. The chat's maintenance
// State row is left in place.
func DeleteChat(dbc dbctx.Context, deps DeleteChatDeps, userID, chatID uuid.UUID) error {
	if userID == uuid.Nil || chatID == uuid.Nil {
		return fmt.Errorf("missing user_id or chat_id")
	}
	return deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if err := deps.Shared.DeleteByChat(txc, chatID); err != nil {
			return err
		}
		if err := deps.Summary.DeleteByChat(txc, chatID); err != nil {
			return err
		}
		if err := deps.Docs.DeleteByChat(txc, chatID); err != nil {
			return err
		}
		return deps.Chats.UpdateFields(txc, userID, chatID, map[string]interface{}{
			"status":     "deleted",
			"deleted_at": time.Now().UTC(),
		})
	})
}
