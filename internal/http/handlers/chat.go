package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	chatmod "github.com/fenwick-ai/ragchat-core/internal/modules/chat"
	"github.com/fenwick-ai/ragchat-core/internal/http/response"
	"github.com/fenwick-ai/ragchat-core/internal/platform/apierr"
	"github.com/fenwick-ai/ragchat-core/internal/platform/ctxutil"
	"github.com/fenwick-ai/ragchat-core/internal/platform/redisx"
	"github.com/fenwick-ai/ragchat-core/internal/sse"
)

// ChatHandler is the thin HTTP surface over chatmod.Usecases: the streaming
// endpoints (POST /chat/send, POST /chat/retry) and the rest of §6's chat
// surface (history/favorites/rename/bookmark/feedback/trace/title/models
// plus GET /chat and POST /chat/followup-questions).
type ChatHandler struct {
	chat     chatmod.Usecases
	hub      *sse.SSEHub
	registry *redisx.StreamRegistry
}

func NewChatHandler(chat chatmod.Usecases, hub *sse.SSEHub, registry *redisx.StreamRegistry) *ChatHandler {
	return &ChatHandler{chat: chat, hub: hub, registry: registry}
}

func requestUserID(c *gin.Context) uuid.UUID {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		return uuid.Nil
	}
	return rd.UserID
}

func respondAPIErr(c *gin.Context, err error) {
	ae := apierr.ToAPIError(err)
	response.RespondError(c, ae.Status, ae.Code, ae.Err)
}

type sendMessageReq struct {
	ChatID         *uuid.UUID `json:"chat_id"`
	Text           string     `json:"text"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// POST /api/chat/send opens one SSE stream for a single turn: it persists
// the user message and assistant placeholder, then blocks emitting events
// until the orchestrator reaches End or the client disconnects (§4.6, §4.7).
func (h *ChatHandler) Send(c *gin.Context) {
	userID := requestUserID(c)
	if userID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_text", nil)
		return
	}

	idem := strings.TrimSpace(req.IdempotencyKey)
	if hdr := strings.TrimSpace(c.GetHeader("Idempotency-Key")); hdr != "" {
		idem = hdr
	}

	in := chatmod.StartTurnInput{
		UserID:         userID,
		Text:           req.Text,
		IdempotencyKey: idem,
	}
	if req.ChatID != nil {
		in.ChatID = *req.ChatID
	}

	out, err := h.chat.StartTurn(c.Request.Context(), in)
	if err != nil {
		respondAPIErr(c, err)
		return
	}

	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, out.TurnID.String())
	defer h.hub.CloseClient(client)

	go func() {
		ctx := c.Request.Context()
		if err := h.chat.Respond(ctx, out.ChatID, userID, out.TurnID, out.UserMessageID, out.AssistantMessageID); err != nil {
			client.Logger.Warn("respond failed", "error", err, "turn_id", out.TurnID)
		}
	}()

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

type retryReq struct {
	MessageID uuid.UUID `json:"message_id"`
}

// POST /api/chat/retry re-opens an SSE stream against an existing turn,
// either resetting its assistant message in place or inserting a new one,
// per §4.7's two retry branches.
func (h *ChatHandler) Retry(c *gin.Context) {
	userID := requestUserID(c)
	if userID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	var req retryReq
	if err := c.ShouldBindJSON(&req); err != nil || req.MessageID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	out, err := h.chat.RetryTurn(c.Request.Context(), userID, req.MessageID)
	if err != nil {
		respondAPIErr(c, err)
		return
	}

	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, out.TurnID.String())
	defer h.hub.CloseClient(client)

	go func() {
		ctx := c.Request.Context()
		if err := h.chat.Respond(ctx, out.ChatID, userID, out.TurnID, out.UserMessageID, out.AssistantMessageID); err != nil {
			client.Logger.Warn("respond failed", "error", err, "turn_id", out.TurnID)
		}
	}()

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

// GET /api/chat?id=... returns a single chat plus its message history, for
// clients resuming a conversation they already know the id of (§6).
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, err := uuid.Parse(c.Query("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	chatRow, messages, err := h.chat.GetChat(c.Request.Context(), requestUserID(c), chatID)
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chat": chatRow, "messages": messages})
}

type followupQuestionsReq struct {
	ChatID uuid.UUID `json:"chat_id"`
}

// POST /api/chat/followup-questions suggests 3 next questions grounded in
// the chat's most recent exchange (§6).
func (h *ChatHandler) FollowupQuestions(c *gin.Context) {
	var req followupQuestionsReq
	if err := c.ShouldBindJSON(&req); err != nil || req.ChatID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	questions, err := h.chat.FollowupQuestions(c.Request.Context(), req.ChatID)
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"questions": questions})
}

type stopReq struct {
	TurnID uuid.UUID `json:"turn_id"`
}

// POST /api/chat/stop signals an in-flight turn to stop generating; the
// orchestrator persists whatever was produced so far (§4.6, §8).
func (h *ChatHandler) Stop(c *gin.Context) {
	var req stopReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TurnID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.registry.Stop(c.Request.Context(), req.TurnID); err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"stopped": true})
}

type renameReq struct {
	Title string `json:"title"`
}

// POST /api/chat/:id/rename
func (h *ChatHandler) Rename(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.chat.RenameChat(c.Request.Context(), requestUserID(c), chatID, req.Title); err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type bookmarkReq struct {
	Bookmarked bool `json:"bookmarked"`
}

// POST /api/chat/:id/bookmark
func (h *ChatHandler) Bookmark(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	var req bookmarkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.chat.SetBookmark(c.Request.Context(), requestUserID(c), chatID, req.Bookmarked); err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func parseLimit(c *gin.Context, def int) int {
	limit := def
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return limit
}

// GET /api/chat/favorites
func (h *ChatHandler) Favorites(c *gin.Context) {
	chats, err := h.chat.Favorites(c.Request.Context(), requestUserID(c), parseLimit(c, 50))
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chats": chats})
}

// GET /api/chat/history
func (h *ChatHandler) History(c *gin.Context) {
	chats, err := h.chat.History(c.Request.Context(), requestUserID(c), parseLimit(c, 50))
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chats": chats})
}

// DELETE /api/chat/:id
func (h *ChatHandler) Delete(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	if err := h.chat.DeleteChat(c.Request.Context(), requestUserID(c), chatID); err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type feedbackReq struct {
	MessageID uuid.UUID `json:"message_id"`
	Rating    string    `json:"rating"`
	Note      string    `json:"note"`
}

// POST /api/chat/feedback
func (h *ChatHandler) Feedback(c *gin.Context) {
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.chat.SetFeedback(c.Request.Context(), req.MessageID, req.Rating, req.Note); err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/chat/turns/:id/trace
func (h *ChatHandler) Trace(c *gin.Context) {
	turnID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_turn_id", err)
		return
	}
	trace, err := h.chat.Trace(c.Request.Context(), turnID)
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"trace": trace})
}

// GET /api/models
func (h *ChatHandler) Models(c *gin.Context) {
	agents, err := h.chat.Models(c.Request.Context())
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"models": agents})
}

// POST /api/chat/:id/title runs TitleChat synchronously within the request
// and returns the new title. The chat_title Temporal workflow
// (internal/jobs) wraps the same step, but nothing in this module starts
// it, so no title is generated automatically after the first exchange.
func (h *ChatHandler) Title(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	title, err := h.chat.TitleChat(c.Request.Context(), chatID, requestUserID(c))
	if err != nil {
		respondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"title": title})
}
