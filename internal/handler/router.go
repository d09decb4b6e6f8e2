package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/gemini-assistant/backend/internal/handler/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/handler/session"
	"github.com/zhouzirui/gemini-assistant/backend/internal/handler/speech"
	"github.com/zhouzirui/gemini-assistant/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/gemini-assistant/backend/internal/middleware"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/attachment"
	chatService "github.com/zhouzirui/gemini-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/history"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/turn"
	"github.com/zhouzirui/gemini-assistant/backend/pkg/utils"
)

// Services 路由依赖的核心服务
type Services struct {
	Chat        *chatService.Service
	Attachments *attachment.Registry
	Previews    *attachment.PreviewServer
	Pipeline    *turn.Pipeline
	History     *history.Store
	Speech      speech.SpeechService
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(svc.Chat, svc.Attachments, svc.Pipeline).RegisterRoutes(api)
		stream.New(svc.Pipeline).RegisterRoutes(api)

		if svc.Previews != nil {
			svc.Previews.RegisterRoutes(api)
		}

		if svc.History != nil {
			session.New(svc.History, svc.Chat).RegisterRoutes(api)
		} else {
			api.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "session history disabled")
			})
		}

		// 未配置语音时仍注册路由，由各端点报告不支持
		if svc.Speech != nil {
			speech.New(svc.Speech).RegisterRoutes(api)
		}
	})

	return r
}
