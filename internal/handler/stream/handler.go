package stream

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/turn"
	"github.com/zhouzirui/gemini-assistant/backend/pkg/utils"
)

// Handler manages streamed turns via Server-Sent Events
type Handler struct {
	pipeline *turn.Pipeline
	log      *log.Logger
}

// New creates a new stream handler
func New(pipeline *turn.Pipeline) *Handler {
	return &Handler{pipeline: pipeline, log: logger.WithPrefix("stream")}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/stream", h.handleStream)
}

// handleStream runs one turn and reports it as start/message/end events.
// Query: message, mode, ocr.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	query := r.URL.Query()

	mode, err := chat.ParseMode(query.Get("mode"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ocr bool
	if raw := query.Get("ocr"); raw != "" {
		if ocr, err = strconv.ParseBool(raw); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "ocr must be a boolean")
			return
		}
	}

	sse, ok := utils.NewSSEWriter(w)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	input := turn.Input{Text: query.Get("message"), Mode: mode, OCR: ocr}
	err = h.pipeline.Stream(r.Context(), id, input, func(ev turn.StreamEvent) {
		if err := sse.Event(ev.Event, ev); err != nil {
			h.log.Debug("sse write failed", "conversation", id, "err", err)
		}
	})
	if err != nil {
		h.log.Warn("stream rejected", "conversation", id, "err", err)
		return
	}
	h.log.Info("completed stream", "conversation", id)
}
