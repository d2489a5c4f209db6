package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	chatrepos "github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	chat "github.com/fenwick-ai/ragchat-core/internal/domain/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/apierr"
	"github.com/fenwick-ai/ragchat-core/internal/platform/dbctx"
	"github.com/fenwick-ai/ragchat-core/internal/platform/llm"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
	"github.com/fenwick-ai/ragchat-core/internal/platform/tracetree"
)

// SSEEvent names the wire contract clients depend on (§6 SSE event set).
type SSEEvent string

const (
	EventStart               SSEEvent = "Start"
	EventResponseUpdate      SSEEvent = "ResponseUpdate"
	EventReasoning           SSEEvent = "Reasoning"
	EventCitationsUpdate     SSEEvent = "CitationsUpdate"
	EventImageCitationUpdate SSEEvent = "ImageCitationUpdate"
	EventResponseMetadata    SSEEvent = "ResponseMetadata"
	EventChatTitleUpdate     SSEEvent = "ChatTitleUpdate"
	EventAttachmentUpdate    SSEEvent = "AttachmentUpdate"
	EventError               SSEEvent = "Error"
	EventEnd                 SSEEvent = "End"
)

// Emitter is the narrow interface the orchestrator drives; internal/sse
// wraps its hub broadcast behind this so steps stays decoupled from the
// transport (§4.6 step 7, §6 SSE event set).
type Emitter interface {
	Emit(ctx context.Context, turnID uuid.UUID, event SSEEvent, data any)
}

// StopRegistry is the narrow view of internal/platform/redisx.StreamRegistry
// the orchestrator needs: register/unregister an in-flight turn and observe
// a stop signal (§4.7, §5 "StreamRegistry is empty in steady state").
type StopRegistry interface {
	Register(turnID uuid.UUID) (<-chan struct{}, func())
}

// RespondDeps bundles every collaborator C6 needs.
type RespondDeps struct {
	DB       *gorm.DB
	Chats    chatrepos.ChatRepo
	Messages chatrepos.MessageRepo
	Turns    chatrepos.TurnRepo
	Docs     chatrepos.DocRepo
	States   chatrepos.StateRepo
	Traces   chatrepos.ChatTraceRepo

	Retrieval RetrievalDeps
	Emitter   Emitter
	Registry  StopRegistry
	Log       *logger.Logger
}

func resolveAnswerModel() string {
	return strings.TrimSpace(os.Getenv("CHAT_ANSWER_MODEL"))
}

// Respond is C6: the answer orchestrator. It assumes the user message, the
// streaming assistant placeholder, and the Turn row already exist (created
// transactionally by the caller, §4.7 "New chat"/"Existing chat" writes);
// Respond drives routing, retrieval, context assembly, streaming, citation
// rewriting, and the final persistence + trace (§4.6 RAG pipeline).
func Respond(ctx context.Context, deps RespondDeps, chatID, userID, turnID, userMessageID, assistantMessageID uuid.UUID) (err error) {
	dbc := dbctx.Context{Ctx: ctx}

	rootCtx, rootSpan := tracetree.Root(ctx, "chat_respond", map[string]any{
		"chat_id": chatID.String(),
		"turn_id": turnID.String(),
	})
	defer func() {
		rootSpan.End()
		tree := tracetree.Render(rootSpan.Node())
		_, _ = deps.Traces.Create(dbc, &chat.ChatTrace{ChatID: chatID, TurnID: turnID, Tree: datatypes.JSON(tree)})
	}()
	ctx = rootCtx

	var stopCh <-chan struct{}
	if deps.Registry != nil {
		var unregister func()
		stopCh, unregister = deps.Registry.Register(turnID)
		defer unregister()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stopCh != nil {
		go func() {
			select {
			case <-stopCh:
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	if err := deps.Turns.UpdateFields(dbc, userID, turnID, map[string]interface{}{
		"status":     chat.TurnStatusRunning,
		"started_at": nowUTC(),
	}); err != nil {
		return fmt.Errorf("mark turn running: %w", err)
	}

	deps.Emitter.Emit(ctx, turnID, EventStart, struct{}{})
	deps.Emitter.Emit(ctx, turnID, EventResponseMetadata, map[string]any{
		"chat_id":    chatID.String(),
		"message_id": assistantMessageID.String(),
	})

	userMsg, err := deps.Messages.Get(dbc, chatID, userMessageID)
	if err != nil {
		return deps.finalizeError(ctx, dbc, chatID, userID, turnID, userMessageID, assistantMessageID, fmt.Errorf("load user message: %w", err))
	}
	recentCtx, recentSpan := tracetree.StartChild(ctx, "load_recent", nil)
	recent, err := deps.Messages.ListRecent(dbc, chatID, 30)
	recentSpan.End()
	ctx = recentCtx
	if err != nil {
		return deps.finalizeError(ctx, dbc, chatID, userID, turnID, userMessageID, assistantMessageID, fmt.Errorf("load recent: %w", err))
	}

	var prevRoute *chat.RouterClassification
	for _, m := range recent {
		if m == nil || m.Role != chat.RoleAssistant || len(m.Metadata) == 0 {
			continue
		}
		var meta map[string]any
		if err := json.Unmarshal(m.Metadata, &meta); err == nil {
			if raw, ok := meta["classification"].(map[string]any); ok {
				if b, merr := json.Marshal(raw); merr == nil {
					var rc chat.RouterClassification
					if json.Unmarshal(b, &rc) == nil {
						prevRoute = &rc
					}
				}
			} else if raw, ok := meta["route"].(string); ok && raw != "" {
				prevRoute = &chat.RouterClassification{Route: chat.Route(raw)}
			}
		}
	}

	routeCtx, routeSpan := tracetree.StartChild(ctx, "route", nil)
	route, err := RouteChatMessage(routeCtx, deps.Retrieval.AI, userMsg.Content, formatRecent(recent, 12), prevRoute)
	routeSpan.SetAttr("route", string(route.Route))
	routeSpan.End()
	ctx = routeCtx
	if err != nil {
		deps.Log.Warn("router failed; falling back to iterative_rewrite", "chat_id", chatID, "error", err)
		route = chat.RouterClassification{Route: chat.RouteIterativeRewrite}
	}

	var contextText string
	var sources []CitationSource
	var result RetrievalResult
	noRetrieval := route.Route == chat.RouteSmalltalk || route.Route == chat.RouteDirect
	if !noRetrieval && route.Answer != "" {
		// §4.4 output policy: a non-null router answer skips retrieval
		// entirely. The answer is not streamed verbatim: it is handed to
		// promptFastChat below and the model's reply is what streams.
		noRetrieval = true
	}
	if !noRetrieval {
		retrieveCtx, retrieveSpan := tracetree.StartChild(ctx, "retrieve", map[string]any{"strategy": string(route.Route)})
		result, err = Retrieve(retrieveCtx, deps.Retrieval, dbc, chatID, userID, route, userMsg.Content, recent)
		retrieveSpan.SetAttr("hit_count", len(result.Hits))
		retrieveSpan.SetAttr("iterations", result.Iterations)
		retrieveSpan.End()
		ctx = retrieveCtx
		if err != nil {
			deps.Log.Warn("retrieval failed; answering without context", "chat_id", chatID, "strategy", route.Route, "error", err)
		}

		buildCtx, buildSpan := tracetree.StartChild(ctx, "build_context", nil)
		contextText, _ = BuildContext(result.Hits, DefaultBudget(), 0)
		buildSpan.SetAttr("context_chars", len(contextText))
		buildSpan.End()
		ctx = buildCtx

		sources = sourcesFromHits(result.Hits)

		trace := map[string]any{
			"route":        string(route.Route),
			"hit_count":    len(result.Hits),
			"source_count": len(sources),
			"iterations":   result.Iterations,
			"no_documents": result.NoDocuments,
		}
		if b, err := json.Marshal(trace); err == nil {
			_ = deps.Turns.UpdateFields(dbc, userID, turnID, map[string]interface{}{"route": string(route.Route), "retrieval_trace": datatypes.JSON(b)})
		}
	} else {
		_ = deps.Turns.UpdateFields(dbc, userID, turnID, map[string]interface{}{"route": string(route.Route)})
	}

	parser := NewCitationStreamParser(sources, 0)

	var system, user string
	switch {
	case route.Answer != "":
		// §4.4: the router already decided the answer from conversation
		// history alone; promptFastChat gets that answer plus the user
		// message, and the fast-chat model's reply is what streams.
		system, user = promptFastChat(formatRecent(recent, 12), "Router pre-answered this turn: "+route.Answer+"\n\nOriginal user message: "+userMsg.Content)
	case route.Route == chat.RouteSmalltalk || route.Route == chat.RouteDirect:
		system, user = promptFastChat(formatRecent(recent, 12), userMsg.Content)
	case result.NoDocuments:
		system, user = promptAnswer(metadataNoDocumentsFound, formatRecent(recent, 12), userMsg.Content)
	case result.UseMailPrompt:
		system, user = promptMailAnswer(contextText, formatRecent(recent, 12), userMsg.Content)
	default:
		system, user = promptAnswer(contextText, formatRecent(recent, 12), userMsg.Content)
	}

	streamCtx, streamSpan := tracetree.StartChild(ctx, "stream", nil)
	client := deps.Retrieval.AI
	if model := resolveAnswerModel(); model != "" {
		client = llm.WithModel(client, model)
	}

	var streamErr error
	_, streamErr = client.StreamText(streamCtx, system, user, func(delta string) {
		for _, ev := range parser.Feed(delta) {
			switch {
			case ev.Text != "":
				deps.Emitter.Emit(streamCtx, turnID, EventResponseUpdate, map[string]any{"text": ev.Text})
			case ev.Reasoning != "":
				deps.Emitter.Emit(streamCtx, turnID, EventReasoning, map[string]any{"text": ev.Reasoning})
			case ev.Citation != nil:
				deps.Emitter.Emit(streamCtx, turnID, EventCitationsUpdate, map[string]any{"citation": ev.Citation})
			case ev.ImageCitation != nil:
				deps.Emitter.Emit(streamCtx, turnID, EventImageCitationUpdate, map[string]any{"citation": ev.ImageCitation})
			}
		}
	})
	streamSpan.End()

	stopped := runCtx.Err() != nil

	finalAnswer := parser.Rewrite(parser.LastAnswer())
	if streamErr != nil && !stopped {
		return deps.finalizeError(ctx, dbc, chatID, userID, turnID, userMessageID, assistantMessageID, streamErr)
	}
	if finalAnswer == "" && !stopped {
		return deps.finalizeError(ctx, dbc, chatID, userID, turnID, userMessageID, assistantMessageID,
			apierr.New(422, string(apierr.KindValidation), fmt.Errorf("please make your query more specific")))
	}

	status := chat.MessageStatusDone
	turnStatus := chat.TurnStatusDone
	if stopped {
		turnStatus = chat.TurnStatusStopped
	}

	meta := map[string]any{
		"route":           string(route.Route),
		"citations":       parser.Citations(),
		"image_citations": parser.ImageCitations(),
		// classification round-trips the full RouterClassification so the
		// next turn's prevRoute carries forward filters/offset/count, not
		// just the route name (§4.4 follow-up inheritance, §8 U2).
		"classification": route,
	}
	metaJSON, _ := json.Marshal(meta)

	if err := deps.Messages.UpdateFields(dbc, assistantMessageID, map[string]interface{}{
		"content":  finalAnswer,
		"status":   status,
		"metadata": datatypes.JSON(metaJSON),
	}); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	// Clear a stale error from a prior failed attempt now that this turn
	// (possibly a retry) has produced an answer.
	_ = deps.Messages.UpdateFields(dbc, userMessageID, map[string]interface{}{"error_message": ""})

	now := nowUTC()
	_ = deps.Turns.UpdateFields(dbc, userID, turnID, map[string]interface{}{
		"status":       turnStatus,
		"completed_at": &now,
	})
	_ = deps.Chats.UpdateFields(dbc, userID, chatID, map[string]interface{}{"last_message_at": now})

	deps.Emitter.Emit(ctx, turnID, EventCitationsUpdate, map[string]any{
		"citations":       parser.Citations(),
		"image_citations": parser.ImageCitations(),
	})
	deps.Emitter.Emit(ctx, turnID, EventEnd, struct{}{})
	return nil
}

func (deps RespondDeps) finalizeError(ctx context.Context, dbc dbctx.Context, chatID, userID, turnID, userMessageID, assistantMessageID uuid.UUID, cause error) error {
	ae := apierr.ToAPIError(cause)
	phrase := apierr.Classify(cause).UserPhrase()

	deps.Emitter.Emit(ctx, turnID, EventError, map[string]any{"error": ae.Code, "message": phrase})
	deps.Emitter.Emit(ctx, turnID, EventEnd, struct{}{})

	_ = deps.Messages.UpdateFields(dbc, assistantMessageID, map[string]interface{}{
		"status": chat.MessageStatusError,
	})
	// §7: the translated phrase lands on the user message that triggered
	// the failed turn, not the assistant placeholder.
	_ = deps.Messages.UpdateFields(dbc, userMessageID, map[string]interface{}{
		"error_message": phrase,
	})
	now := nowUTC()
	_ = deps.Turns.UpdateFields(dbc, userID, turnID, map[string]interface{}{
		"status":       chat.TurnStatusError,
		"completed_at": &now,
	})
	if deps.Log != nil {
		deps.Log.Error("chat_respond failed", "chat_id", chatID, "turn_id", turnID, "error", cause)
	}
	return ae
}

func sourcesFromHits(hits []ScoredDoc) []CitationSource {
	out := make([]CitationSource, 0, len(hits))
	for _, h := range hits {
		if h.Doc == nil {
			continue
		}
		title := h.Doc.DocType
		locator := ""
		if h.Doc.SourceSeq != nil {
			locator = fmt.Sprintf("seq:%d", *h.Doc.SourceSeq)
		}
		out = append(out, CitationSource{
			Doc:        h.Doc,
			SourceID:   h.Doc.ID.String(),
			SourceType: h.Doc.DocType,
			Title:      title,
			Locator:    locator,
		})
	}
	return out
}

// promptAnswer is the RAG answer prompt: instructs the model to emit the
// JSON-wrapped answer protocol C1 parses (§4.1 token protocol).
func promptAnswer(contextText string, recent string, query string) (system string, user string) {
	system = strings.TrimSpace(strings.Join([]string{
		"ROLE: Retrieval-augmented chat assistant.",
		"OUTPUT FORMAT: respond with a single JSON object of the shape {\"answer\": \"...\"}.",
		"You may optionally prefix your response with a reasoning preamble wrapped in " + startThinkingToken + " ... " + endThinkingToken + " before the JSON object.",
		"CITATIONS: cite evidence inline using [n] where n is the Index number shown in the context block. Only cite indices that appear in the context.",
		"Do not fabricate citations. If the context does not answer the question, say so plainly.",
	}, "\n"))
	user = strings.TrimSpace(strings.Join([]string{
		"CONTEXT:",
		defaultString(contextText, "(no retrieved context)"),
		"",
		"RECENT_MESSAGES:",
		defaultString(recent, "(none)"),
		"",
		"USER_MESSAGE:",
		query,
	}, "\n"))
	return system, user
}
