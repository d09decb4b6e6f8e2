package attachment

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/pkg/utils"
)

// PreviewServer 以 HTTP 形式提供附件预览，签发的地址在回收前有效。
type PreviewServer struct {
	mu       sync.RWMutex
	basePath string
	entries  map[string]*chat.Attachment
	log      *log.Logger
}

// NewPreviewServer basePath 形如 /api/previews。
func NewPreviewServer(basePath string) *PreviewServer {
	return &PreviewServer{
		basePath: strings.TrimRight(basePath, "/"),
		entries:  make(map[string]*chat.Attachment),
		log:      logger.WithPrefix("preview"),
	}
}

// Create 为附件签发预览地址。
func (p *PreviewServer) Create(att *chat.Attachment) string {
	token := uuid.NewString()
	p.mu.Lock()
	p.entries[token] = att
	p.mu.Unlock()
	return p.basePath + "/" + token
}

// Revoke 使预览地址失效。
func (p *PreviewServer) Revoke(url string) {
	token := strings.TrimPrefix(url, p.basePath+"/")
	p.mu.Lock()
	delete(p.entries, token)
	p.mu.Unlock()
}

// Active 返回仍然有效的预览数量。
func (p *PreviewServer) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// RegisterRoutes 注册 GET {token} 路由。
func (p *PreviewServer) RegisterRoutes(r chi.Router) {
	r.Get("/previews/{token}", p.handlePreview)
}

func (p *PreviewServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	p.mu.RLock()
	att, ok := p.entries[token]
	p.mu.RUnlock()
	if !ok || att.Source == nil {
		utils.RespondError(w, http.StatusNotFound, "preview not found")
		return
	}

	body, err := att.Source.Open()
	if err != nil {
		p.log.Warn("failed to open preview source", "name", att.Name, "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "preview unavailable")
		return
	}
	defer body.Close()

	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		p.log.Warn("failed to stream preview", "name", att.Name, "err", err)
	}
}
