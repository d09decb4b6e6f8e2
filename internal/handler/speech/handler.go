package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	speechsvc "github.com/zhouzirui/gemini-assistant/backend/internal/service/speech"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
	"github.com/zhouzirui/gemini-assistant/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Enabled() bool
	Voices() []voice.Voice
	RecognizerFactory(src speechsvc.AudioSource) voice.RecognizerFactory
	Synthesizer(sink speechsvc.AudioSink) voice.Synthesizer
	SynthesizeTo(ctx context.Context, req speechsvc.SynthesisRequest, sink speechsvc.AudioSink) (*speechsvc.Audio, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	ws        *WebSocketHandler
	log       *log.Logger
}

// New 创建语音处理器
func New(speechSvc SpeechService) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		ws:        NewWebSocketHandler(speechSvc),
		log:       logger.WithPrefix("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/voices", h.handleVoices)

		// 健康检查
		speechRouter.Get("/health", h.handleHealth)

		// 实时语音
		h.ws.RegisterWebSocketRoutes(speechRouter)
	})
}

type transcribeOutcome struct {
	text string
	err  string
}

// handleTranscribe 用上传的录音充当麦克风，走一次完整的语音输入流程
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	outcome := make(chan transcribeOutcome, 2)
	input := voice.NewInput(h.speechSvc.RecognizerFactory(speechsvc.ClipSource(audio)), nil, voice.InputHandlers{
		OnTranscript: func(text string) {
			select {
			case outcome <- transcribeOutcome{text: text}:
			default:
			}
		},
		OnError: func(message string) {
			select {
			case outcome <- transcribeOutcome{err: message}:
			default:
			}
		},
	})

	if err := input.Start(r.Context()); err != nil {
		if errors.Is(err, voice.ErrUnsupported) {
			utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Error("ASR start failed", "err", err)
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}

	select {
	case res := <-outcome:
		if res.err != "" {
			h.log.Warn("ASR failed", "err", res.err)
			utils.RespondError(w, http.StatusUnprocessableEntity, res.err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"text": res.text})
	case <-r.Context().Done():
		input.Stop()
	}
}

type synthesizeRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// handleSynthesize 合成语音并以分块方式写回
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if !h.speechSvc.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis is not supported in this environment")
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	sink := speechsvc.AudioSinkFunc(func(chunk []byte, format string, _ bool) error {
		if !started {
			w.Header().Set("Content-Type", "audio/"+format)
			w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	audio, err := h.speechSvc.SynthesizeTo(r.Context(), speechsvc.SynthesisRequest{
		Text:   req.Text,
		Voice:  req.Voice,
		Rate:   req.Rate,
		Pitch:  req.Pitch,
		Volume: req.Volume,
	}, sink)
	if err != nil {
		h.log.Error("TTS failed", "err", err)
		if !started {
			utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		}
		return
	}
	h.log.Debug("TTS streamed", "bytes", len(audio.Data), "format", audio.Format)
}

func (h *Handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.speechSvc.Voices()
	if voices == nil {
		voices = []voice.Voice{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"supported": h.speechSvc.Enabled(),
		"voices":    voices,
	})
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "speech",
		"enabled": h.speechSvc.Enabled(),
	})
}
