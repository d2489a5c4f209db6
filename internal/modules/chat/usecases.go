// Package chat is the thin use-case layer HTTP handlers call into: it wires
// steps/ collaborators together behind a single Usecases value and never
// contains retrieval/streaming logic itself.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/modules/chat/steps"
	"github.com/fenwick-ai/ragchat-core/internal/platform/apierr"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Chats        chatrepos.ChatRepo
	Messages     chatrepos.MessageRepo
	Turns        chatrepos.TurnRepo
	Docs         chatrepos.DocRepo
	States       chatrepos.StateRepo
	SummaryNodes chatrepos.SummaryNodeRepo
	Traces       chatrepos.ChatTraceRepo
	Shared       chatrepos.SharedChatRepo
	Personalize  chatrepos.UserPersonalizationRepo
	Agents       chatrepos.AgentRepo

	Retrieval steps.RetrievalDeps
	Emitter   steps.Emitter
	Registry  steps.StopRegistry
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	StartTurnInput  = steps.StartTurnInput
	StartTurnOutput = steps.StartTurnOutput
	RetryTurnOutput = steps.RetryTurnOutput
)

func (u Usecases) respondDeps() steps.RespondDeps {
	return steps.RespondDeps{
		DB:        u.deps.DB,
		Chats:     u.deps.Chats,
		Messages:  u.deps.Messages,
		Turns:     u.deps.Turns,
		Docs:      u.deps.Docs,
		States:    u.deps.States,
		Traces:    u.deps.Traces,
		Retrieval: u.deps.Retrieval,
		Emitter:   u.deps.Emitter,
		Registry:  u.deps.Registry,
		Log:       u.deps.Log,
	}
}

func (u Usecases) maintainDeps() steps.MaintainDeps {
	return steps.MaintainDeps{
		Chats:        u.deps.Chats,
		Messages:     u.deps.Messages,
		Docs:         u.deps.Docs,
		States:       u.deps.States,
		SummaryNodes: u.deps.SummaryNodes,
		Retrieval:    u.deps.Retrieval,
		Log:          u.deps.Log,
	}
}

// StartTurn persists the user message, the streaming assistant placeholder,
// and the Turn row (§4.7), creating the Chat first when ChatID is nil.
func (u Usecases) StartTurn(ctx context.Context, in StartTurnInput) (StartTurnOutput, error) {
	return steps.StartTurn(dbctx.Context{Ctx: ctx}, steps.StartTurnDeps{
		DB:       u.deps.DB,
		Chats:    u.deps.Chats,
		Messages: u.deps.Messages,
		Turns:    u.deps.Turns,
	}, in)
}

// RetryTurn backs POST /chat/retry (§4.7): resets or branches a turn so the
// caller can open an SSE stream and call Respond against it exactly like a
// fresh StartTurn result.
func (u Usecases) RetryTurn(ctx context.Context, userID, messageID uuid.UUID) (RetryTurnOutput, error) {
	return steps.RetryTurn(dbctx.Context{Ctx: ctx}, steps.RetryTurnDeps{
		DB:       u.deps.DB,
		Chats:    u.deps.Chats,
		Messages: u.deps.Messages,
		Turns:    u.deps.Turns,
	}, steps.RetryTurnInput{UserID: userID, MessageID: messageID})
}

// GetChat backs GET /chat: a single chat plus its full message history, for
// clients resuming a conversation they already know the id of.
func (u Usecases) GetChat(ctx context.Context, userID, chatID uuid.UUID) (*chat.Chat, []*chat.Message, error) {
	dbc := dbctx.Context{Ctx: ctx}
	chats, err := u.deps.Chats.GetByIDs(dbc, userID, []uuid.UUID{chatID})
	if err != nil {
		return nil, nil, err
	}
	if len(chats) == 0 {
		return nil, nil, apierr.New(404, "chat_not_found", fmt.Errorf("chat %s not found", chatID))
	}
	msgs, err := u.deps.Messages.ListByChat(dbc, chatID, 500)
	if err != nil {
		return nil, nil, err
	}
	return chats[0], msgs, nil
}

// FollowupQuestions backs POST /chat/followup-questions (§6): three
// suggested next questions grounded in the chat's most recent exchange.
func (u Usecases) FollowupQuestions(ctx context.Context, chatID uuid.UUID) ([]string, error) {
	dbc := dbctx.Context{Ctx: ctx}
	recent, err := u.deps.Messages.ListRecent(dbc, chatID, 12)
	if err != nil {
		return nil, err
	}
	return steps.SuggestFollowupQuestions(ctx, u.deps.Retrieval.AI, recent)
}

// Respond runs the C6 answer orchestrator for a turn already created by
// StartTurn. The caller is expected to have the SSE connection open and to
// be forwarding Emitter.Emit calls to it.
func (u Usecases) Respond(ctx context.Context, chatID, userID, turnID, userMessageID, assistantMessageID uuid.UUID) error {
	return steps.Respond(ctx, u.respondDeps(), chatID, userID, turnID, userMessageID, assistantMessageID)
}

// MaintainChat runs the chat_maintain background pass: index new messages
// into the retrieval store and roll up a summary node if enough history
// has accumulated. Nothing in this module calls it;
// internal/jobs.Activities calls steps.MaintainChat directly.
func (u Usecases) MaintainChat(ctx context.Context, chatID, userID uuid.UUID) error {
	return steps.MaintainChat(ctx, u.maintainDeps(), chatID, userID)
}

// TitleChat generates and persists a short title from a chat's first
// exchange and emits ChatTitleUpdate on a channel keyed by the chat ID;
// handlers subscribe SSE clients only to turn IDs, so no client receives it.
func (u Usecases) TitleChat(ctx context.Context, chatID, userID uuid.UUID) (string, error) {
	return steps.TitleChat(ctx, u.maintainDeps(), u.deps.Emitter, chatID, userID)
}

// RenameChat backs POST /chat/rename.
func (u Usecases) RenameChat(ctx context.Context, userID, chatID uuid.UUID, title string) error {
	if title == "" {
		return fmt.Errorf("missing title")
	}
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Chats.UpdateFields(dbc, userID, chatID, map[string]interface{}{"title": title})
}

// SetBookmark backs POST /chat/bookmark.
func (u Usecases) SetBookmark(ctx context.Context, userID, chatID uuid.UUID, bookmarked bool) error {
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Chats.UpdateFields(dbc, userID, chatID, map[string]interface{}{"bookmarked": bookmarked})
}

// Favorites backs GET /chat/favorites.
func (u Usecases) Favorites(ctx context.Context, userID uuid.UUID, limit int) ([]*chat.Chat, error) {
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Chats.ListForUser(dbc, userID, limit, true)
}

// History backs GET /chat/history.
func (u Usecases) History(ctx context.Context, userID uuid.UUID, limit int) ([]*chat.Chat, error) {
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Chats.ListForUser(dbc, userID, limit, false)
}

// DeleteChat backs DELETE /chat/{id}.
func (u Usecases) DeleteChat(ctx context.Context, userID, chatID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	return steps.DeleteChat(dbc, steps.DeleteChatDeps{
		DB:      u.deps.DB,
		Chats:   u.deps.Chats,
		Shared:  u.deps.Shared,
		States:  u.deps.States,
		Summary: u.deps.SummaryNodes,
		Docs:    u.deps.Docs,
	}, userID, chatID)
}

// SetFeedback backs POST /chat/feedback: a thumbs up/down plus optional note
// on one assistant message, stored as JSON on the message row itself.
func (u Usecases) SetFeedback(ctx context.Context, messageID uuid.UUID, rating string, note string) error {
	if rating != "up" && rating != "down" {
		return fmt.Errorf("invalid rating %q", rating)
	}
	payload := map[string]interface{}{
		"rating":   rating,
		"note":     note,
		"rated_at": time.Now().UTC(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Messages.UpdateFields(dbc, messageID, map[string]interface{}{"feedback": datatypes.JSON(b)})
}

// Trace backs GET /chat/trace: the recorded TraceTree for one turn (§6).
func (u Usecases) Trace(ctx context.Context, turnID uuid.UUID) (*chat.ChatTrace, error) {
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Traces.GetByTurnID(dbc, turnID)
}

// Models backs GET /models: the static catalog of named model/prompt
// presets a client can pick between.
func (u Usecases) Models(ctx context.Context) ([]*chat.Agent, error) {
	dbc := dbctx.Context{Ctx: ctx}
	return u.deps.Agents.List(dbc)
}

// SetRetrievalAlpha backs the personalization override on retrieval's
// lexical/vector blend (§4.3).
func (u Usecases) SetRetrievalAlpha(ctx context.Context, userID uuid.UUID, alpha *float64) error {
	dbc := dbctx.Context{Ctx: ctx}
	_, err := u.deps.Personalize.Upsert(dbc, userID, alpha)
	return err
}
