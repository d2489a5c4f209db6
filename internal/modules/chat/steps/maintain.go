package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fenwick-ai/ragchat-core/internal/chat/index"
	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/llm"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
	"github.com/fenwick-ai/ragchat-core/internal/platform/search"
)

const (
	maintainChunkChars   = 1800
	summaryFanIn         = 8
	summaryLevelMaxNodes = 200
)

// MaintainDeps bundles the post-turn background-maintenance collaborators:
// indexing new messages into RetrievalDocs + the vector store, and rolling
// up SummaryNodes once a chat's history grows past a single context window
// (chat_maintain workflow, §6 DOMAIN STACK temporal wiring).
type MaintainDeps struct {
	Chats        chatrepos.ChatRepo
	Messages     chatrepos.MessageRepo
	Docs         chatrepos.DocRepo
	States       chatrepos.StateRepo
	SummaryNodes chatrepos.SummaryNodeRepo

	Retrieval RetrievalDeps
	Log       *logger.Logger
}

// MaintainChat runs the chat_maintain workflow body for one chat: index any
// messages appended since State.LastIndexedSeq into RetrievalDocs (chunked,
// embedded, upserted into the vector store; ContextualText is left empty),
// then roll up a
// new SummaryNode if enough fresh history has accumulated since
// State.LastSummarizedSeq.
func MaintainChat(ctx context.Context, deps MaintainDeps, chatID, userID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}

	state, err := deps.States.GetOrCreate(dbc, chatID)
	if err != nil {
		return fmt.Errorf("load chat state: %w", err)
	}

	if err := indexNewMessages(ctx, deps, dbc, chatID, userID, state); err != nil {
		return fmt.Errorf("index messages: %w", err)
	}
	if err := rollUpSummary(ctx, deps, dbc, chatID, state); err != nil {
		return fmt.Errorf("roll up summary: %w", err)
	}
	return nil
}

func indexNewMessages(ctx context.Context, deps MaintainDeps, dbc dbctx.Context, chatID, userID uuid.UUID, state *chat.State) error {
	msgs, err := deps.Messages.ListSinceSeq(dbc, chatID, state.LastIndexedSeq, 500)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var rows []*chat.RetrievalDoc
	var texts []string
	maxSeq := state.LastIndexedSeq

	for _, m := range msgs {
		if m == nil || m.Status != chat.MessageStatusDone || m.Content == "" {
			continue
		}
		if m.Seq > maxSeq {
			maxSeq = m.Seq
		}
		for i, chunk := range chunkByChars(m.Content, maintainChunkChars) {
			seq := m.Seq
			doc := &chat.RetrievalDoc{
				UserID:          userID,
				ChatID:          chatID,
				DocType:         chat.DocTypeMessageChunk,
				SourceMessageID: &m.ID,
				SourceSeq:       &seq,
				ChunkIndex:      i,
				Text:            chunk,
				OccurredAt:      m.CreatedAt,
			}
			rows = append(rows, doc)
			texts = append(texts, chunk)
		}
	}
	if len(rows) == 0 {
		return deps.States.UpdateFields(dbc, chatID, map[string]interface{}{"last_indexed_seq": maxSeq})
	}

	if deps.Retrieval.AI != nil {
		embeddings, err := deps.Retrieval.AI.Embed(ctx, texts)
		if err == nil && len(embeddings) == len(rows) {
			for i, emb := range embeddings {
				rows[i].Embedding = encodeEmbedding(emb)
			}
		} else if deps.Log != nil {
			deps.Log.Warn("embedding failed during index; storing without vectors", "chat_id", chatID, "error", err)
		}
	}

	for _, row := range rows {
		row.VectorID = deterministicUUID(row.ChatID.String() + ":" + row.ID.String()).String()
	}

	if _, err := deps.Docs.Create(dbc, rows); err != nil {
		return err
	}

	if deps.Retrieval.Vectors != nil {
		namespace := index.ChatUserNamespace(userID)
		vectors := make([]search.Vector, 0, len(rows))
		for _, row := range rows {
			var vals []float32
			if row.Embedding != nil {
				vals = decodeEmbedding(row.Embedding)
			}
			if len(vals) == 0 {
				continue
			}
			vectors = append(vectors, search.Vector{
				ID:     row.ID.String(),
				Values: vals,
				Metadata: map[string]any{
					"chat_id":  chatID.String(),
					"doc_type": row.DocType,
				},
			})
		}
		if len(vectors) > 0 {
			if err := deps.Retrieval.Vectors.Upsert(ctx, namespace, vectors); err != nil && deps.Log != nil {
				deps.Log.Warn("vector upsert failed during index", "chat_id", chatID, "error", err)
			}
		}
	}

	return deps.States.UpdateFields(dbc, chatID, map[string]interface{}{"last_indexed_seq": maxSeq})
}

func rollUpSummary(ctx context.Context, deps MaintainDeps, dbc dbctx.Context, chatID uuid.UUID, state *chat.State) error {
	msgs, err := deps.Messages.ListSinceSeq(dbc, chatID, state.LastSummarizedSeq, summaryLevelMaxNodes)
	if err != nil {
		return err
	}
	if len(msgs) < summaryFanIn {
		return nil
	}

	window := formatWindow(msgs)
	var maxSeq int64 = state.LastSummarizedSeq
	for _, m := range msgs {
		if m != nil && m.Seq > maxSeq {
			maxSeq = m.Seq
		}
	}

	if deps.Retrieval.AI == nil {
		return nil
	}
	system, user := promptSummarizeNode(0, window)
	obj, err := deps.Retrieval.AI.GenerateJSON(ctx, system, user, "chat_summary_node_v1", schemaSummarizeNode())
	if err != nil {
		if deps.Log != nil {
			deps.Log.Warn("summary generation failed", "chat_id", chatID, "error", err)
		}
		return nil
	}
	summaryMD := asString(obj["summary_md"])
	if summaryMD == "" {
		return nil
	}

	node := &chat.SummaryNode{
		ChatID:    chatID,
		Level:     0,
		FromSeq:   state.LastSummarizedSeq,
		ToSeq:     maxSeq,
		SummaryMD: summaryMD,
	}
	if _, err := deps.SummaryNodes.Create(dbc, node); err != nil {
		return err
	}
	return deps.States.UpdateFields(dbc, chatID, map[string]interface{}{"last_summarized_seq": maxSeq})
}

// TitleChat runs the chat_title workflow body: generate a short title from
// the first exchange and persist it, emitting ChatTitleUpdate (§6, POST
// /chat/title).
func TitleChat(ctx context.Context, deps MaintainDeps, emitter Emitter, chatID, userID uuid.UUID) (string, error) {
	dbc := dbctx.Context{Ctx: ctx}
	msgs, err := deps.Messages.ListSinceSeq(dbc, chatID, -1, 4)
	if err != nil {
		return "", fmt.Errorf("load messages: %w", err)
	}
	var userText, assistantText string
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case chat.RoleUser:
			if userText == "" {
				userText = m.Content
			}
		case chat.RoleAssistant:
			if assistantText == "" {
				assistantText = m.Content
			}
		}
	}
	if userText == "" || deps.Retrieval.AI == nil {
		return "", nil
	}

	system, user := promptTitle(userText, assistantText)
	obj, err := deps.Retrieval.AI.GenerateJSON(ctx, system, user, "chat_title_v1", schemaTitle())
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := asString(obj["title"])
	if title == "" {
		return "", nil
	}

	if err := deps.Chats.UpdateFields(dbc, userID, chatID, map[string]interface{}{"title": title}); err != nil {
		return "", fmt.Errorf("persist title: %w", err)
	}
	if emitter != nil {
		emitter.Emit(ctx, chatID, EventChatTitleUpdate, map[string]any{"chat_id": chatID.String(), "title": title})
	}
	return title, nil
}

// SuggestFollowupQuestions backs POST /chat/followup-questions (§6): three
// suggested next questions grounded in the tail of the conversation.
func SuggestFollowupQuestions(ctx context.Context, ai llm.Client, recent []*chat.Message) ([]string, error) {
	if ai == nil || len(recent) == 0 {
		return nil, nil
	}
	var lastAnswer string
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i] != nil && recent[i].Role == chat.RoleAssistant && recent[i].Content != "" {
			lastAnswer = recent[i].Content
			break
		}
	}
	system, user := promptFollowupQuestions(formatRecent(recent, 12), lastAnswer)
	obj, err := ai.GenerateJSON(ctx, system, user, "followup_questions_v1", schemaFollowupQuestions())
	if err != nil {
		return nil, fmt.Errorf("generate followup questions: %w", err)
	}
	raw, _ := obj["questions"].([]any)
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		if s, ok := q.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out, nil
}
