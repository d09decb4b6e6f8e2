package chat

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/attachment"
	chatService "github.com/zhouzirui/gemini-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/turn"
	"github.com/zhouzirui/gemini-assistant/backend/pkg/utils"
)

// maxUploadBytes 单个附件上限
const maxUploadBytes = 32 << 20

// Handler 会话与发送相关的HTTP处理器
type Handler struct {
	chatSvc     *chatService.Service
	attachments *attachment.Registry
	pipeline    *turn.Pipeline
	log         *log.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, attachments *attachment.Registry, pipeline *turn.Pipeline) *Handler {
	return &Handler{
		chatSvc:     chatSvc,
		attachments: attachments,
		pipeline:    pipeline,
		log:         logger.WithPrefix("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreateConversation)
	r.Get("/conversations/{conversationID}", h.handleGetConversation)
	r.Delete("/conversations/{conversationID}", h.handleDeleteConversation)
	r.Post("/conversations/{conversationID}/attachments", h.handleAddAttachment)
	r.Delete("/conversations/{conversationID}/attachments/{index}", h.handleRemoveAttachment)
	r.Post("/conversations/{conversationID}/turns", h.handleSendTurn)
}

// ConversationView 会话当前状态
type ConversationView struct {
	Conversation chat.Conversation  `json:"conversation"`
	Messages     []chat.Message     `json:"messages"`
	Flags        turn.Flags         `json:"flags"`
	Attachments  []*chat.Attachment `json:"attachments"`
}

func (h *Handler) view(r *http.Request, id string) (*ConversationView, error) {
	conv, err := h.chatSvc.Conversation(r.Context(), id)
	if err != nil {
		return nil, err
	}
	messages, err := h.chatSvc.Transcript(r.Context(), id)
	if err != nil {
		return nil, err
	}
	pending := h.attachments.For(id).List()
	if pending == nil {
		pending = []*chat.Attachment{}
	}
	return &ConversationView{
		Conversation: conv,
		Messages:     messages,
		Flags:        h.pipeline.Flags(id),
		Attachments:  pending,
	}, nil
}

// handleCreateConversation 创建会话，附带欢迎语
func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	conv := h.chatSvc.CreateConversation(r.Context())
	view, err := h.view(r, conv.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	view, err := h.view(r, chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleDeleteConversation 删除会话并回收暂存附件
func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := h.chatSvc.DeleteConversation(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.attachments.Discard(id)
	h.pipeline.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleAddAttachment 暂存一个附件，字段 file 与 kind(image|audio|file)
func (h *Handler) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := h.chatSvc.Conversation(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	modified := time.Now().UTC()
	if raw := r.FormValue("lastModified"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "lastModified must be unix milliseconds")
			return
		}
		modified = time.UnixMilli(ms).UTC()
	}

	att := h.attachments.For(id).Add(chat.File{
		Name:       header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		Size:       int64(len(data)),
		ModifiedAt: modified,
		Source:     chat.BytesSource(data),
	}, chat.ParseAttachmentKind(r.FormValue("kind")))

	h.log.Info("attachment staged", "conversation", id, "name", att.Name, "kind", att.Kind, "size", att.Size)
	utils.RespondJSON(w, http.StatusCreated, att)
}

func (h *Handler) handleRemoveAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if _, err := h.chatSvc.Conversation(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if err := h.attachments.For(id).Remove(index); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type turnRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
	OCR  bool   `json:"ocr"`
}

// handleSendTurn 执行一轮对话，返回用户消息与助手回复
func (h *Handler) handleSendTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var payload turnRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := chat.ParseMode(payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.pipeline.Send(r.Context(), id, turn.Input{Text: payload.Text, Mode: mode, OCR: payload.OCR})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// respondServiceError 将业务错误映射为状态码
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var validation *turn.ValidationError
	switch {
	case errors.As(err, &validation):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, attachment.ErrIndexOutOfRange):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, turn.ErrTurnInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("request failed", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
