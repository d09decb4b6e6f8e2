package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	chatService "github.com/zhouzirui/gemini-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/history"
	"github.com/zhouzirui/gemini-assistant/backend/pkg/utils"
)

// Handler 已保存会话的HTTP处理器
type Handler struct {
	store   *history.Store
	chatSvc *chatService.Service
}

// New 创建会话历史处理器
func New(store *history.Store, chatSvc *chatService.Service) *Handler {
	return &Handler{store: store, chatSvc: chatSvc}
}

// RegisterRoutes 注册会话历史相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Delete("/sessions", h.handleClear)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
	r.Post("/sessions/{sessionID}/load", h.handleLoad)
}

// Summary 列表项，不含消息内容
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// handleList 按最近保存排序列出会话
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.History(r.Context())
	summaries := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, Summary{
			ID:           s.ID,
			Title:        s.Title,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	for _, s := range h.store.History(r.Context()) {
		if s.ID == id {
			utils.RespondJSON(w, http.StatusOK, s)
			return
		}
	}
	utils.RespondError(w, http.StatusNotFound, "session not found")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.store.Delete(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleLoad 用已保存会话替换当前会话的消息，?conversation= 指定目标
func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversation query parameter is required")
		return
	}

	messages := h.store.Load(r.Context(), sessionID)
	if messages == nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.chatSvc.ReplaceTranscript(r.Context(), conversationID, sessionID, messages); err != nil {
		if errors.Is(err, chatService.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, struct {
		ConversationID string         `json:"conversationId"`
		SessionID      string         `json:"sessionId"`
		Messages       []chat.Message `json:"messages"`
	}{conversationID, sessionID, messages})
}
