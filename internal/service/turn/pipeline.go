// Package turn runs one user submission through to its assistant reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/attachment"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/prompt"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/provider"
)

// imageKeywords trigger the image branch outside image-gen mode. Plain
// substring match, so "design a schema" also counts.
var imageKeywords = []string{"generate image", "create image", "draw", "make image", "paint", "design"}

// Conversations is the transcript storage the pipeline appends to.
type Conversations interface {
	AppendMessage(ctx context.Context, id string, msg chat.Message) (chat.Message, error)
	Transcript(ctx context.Context, id string) ([]chat.Message, error)
	SessionID(ctx context.Context, id string) (string, error)
	SetSessionID(ctx context.Context, id, sessionID string) error
}

type Composer interface {
	Compose(ctx context.Context, req chat.TurnRequest, hooks prompt.Hooks) (provider.Payload, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, query string) string
}

// History persists settled conversations.
type History interface {
	Save(ctx context.Context, messages []chat.Message) string
	// Update reports false when the session no longer exists.
	Update(ctx context.Context, id string, messages []chat.Message) bool
}

// Config wires the pipeline. Search, History and Notifier are optional.
type Config struct {
	Conversations Conversations
	Attachments   *attachment.Registry
	Composer      Composer
	Provider      provider.Client
	Search        Summarizer
	History       History
	Notifier      Notifier
	// ProviderTimeout bounds each provider call; zero means no limit.
	ProviderTimeout time.Duration
}

// Input is what the user submits.
type Input struct {
	Text string    `json:"text"`
	Mode chat.Mode `json:"mode"`
	OCR  bool      `json:"ocr"`
}

// Result is a settled turn.
type Result struct {
	User         chat.Message `json:"user"`
	Assistant    chat.Message `json:"assistant"`
	Notification Notification `json:"notification"`
	Failed       bool         `json:"failed"`
}

type Pipeline struct {
	cfg    Config
	mu     sync.Mutex
	states map[string]*state
	log    *log.Logger
}

func NewPipeline(cfg Config) *Pipeline {
	l := logger.WithPrefix("turn")
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Log: l}
	}
	return &Pipeline{cfg: cfg, states: make(map[string]*state), log: l}
}

// Send runs a turn and returns once the assistant message is appended.
// Provider and search failures become an apology message, not an error.
// Errors are only returned for ValidationError, ErrTurnInFlight and
// storage failures.
func (p *Pipeline) Send(ctx context.Context, conversationID string, in Input) (*Result, error) {
	return p.run(ctx, conversationID, in, nil)
}

func (p *Pipeline) run(ctx context.Context, conversationID string, in Input, onUser func(chat.Message)) (*Result, error) {
	if _, err := p.cfg.Conversations.SessionID(ctx, conversationID); err != nil {
		return nil, err
	}

	store := p.cfg.Attachments.For(conversationID)
	blank := strings.TrimSpace(in.Text) == ""
	if blank && store.Len() == 0 {
		return nil, &ValidationError{Reason: "message text or an attachment is required"}
	}

	if err := p.begin(conversationID); err != nil {
		return nil, err
	}
	defer p.finish(conversationID)

	drained := store.Drain()
	defer store.Release(drained)
	if blank && len(drained) == 0 {
		return nil, &ValidationError{Reason: "message text or an attachment is required"}
	}

	userMsg := chat.NewMessage(chat.RoleUser, in.Text)
	if blank {
		userMsg.Text = fmt.Sprintf("Shared %d file(s)", len(drained))
	}
	for _, att := range drained {
		userMsg.Attachments = append(userMsg.Attachments, att.Ref())
	}
	userMsg, err := p.cfg.Conversations.AppendMessage(ctx, conversationID, userMsg)
	if err != nil {
		return nil, err
	}
	if onUser != nil {
		onUser(userMsg)
	}

	p.log.Info("turn started", "conversation", conversationID, "mode", in.Mode, "attachments", len(drained))
	started := time.Now()

	var assistant chat.Message
	var genErr error
	var note Notification
	switch {
	case isImageRequest(in.Mode, in.Text):
		assistant, genErr = p.generateImage(ctx, conversationID, in.Text)
		note = notifyImage
	case in.Mode == chat.ModeSearch && p.cfg.Search != nil:
		assistant = chat.NewMessage(chat.RoleAssistant, p.cfg.Search.Summarize(ctx, in.Text))
		note = notifySearch
	default:
		assistant, genErr = p.generateText(ctx, conversationID, in, drained)
		note = notifyResponse
	}

	if genErr != nil {
		p.log.Error("turn failed", "conversation", conversationID, "err", genErr)
		assistant = chat.NewMessage(chat.RoleAssistant, Apology(genErr))
		note = notifyFailure
	}

	assistant, err = p.cfg.Conversations.AppendMessage(ctx, conversationID, assistant)
	if err != nil {
		return nil, err
	}
	p.cfg.Notifier.Notify(note)
	p.persist(ctx, conversationID)

	p.log.Info("turn settled", "conversation", conversationID, "failed", genErr != nil, "elapsed", time.Since(started).Round(time.Millisecond))
	return &Result{User: userMsg, Assistant: assistant, Notification: note, Failed: genErr != nil}, nil
}

func (p *Pipeline) generateImage(ctx context.Context, conversationID, text string) (chat.Message, error) {
	p.setFlag(conversationID, func(f *Flags) { f.GeneratingImage = true })
	defer p.setFlag(conversationID, func(f *Flags) { f.GeneratingImage = false })

	callCtx, cancel := p.providerContext(ctx)
	defer cancel()

	url, err := p.cfg.Provider.GenerateImage(callCtx, text)
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.NewMessage(chat.RoleAssistant, "Here's the image I generated for: "+text)
	msg.GeneratedImage = &chat.GeneratedImage{URL: url, Prompt: text}
	return msg, nil
}

func (p *Pipeline) generateText(ctx context.Context, conversationID string, in Input, attachments []*chat.Attachment) (chat.Message, error) {
	mode := in.Mode
	if mode == chat.ModeSearch {
		// 未配置搜索时按普通消息处理
		mode = chat.ModeNormal
	}

	hooks := prompt.Hooks{
		OCRStarted:  func() { p.setFlag(conversationID, func(f *Flags) { f.PerformingOCR = true }) },
		OCRFinished: func() { p.setFlag(conversationID, func(f *Flags) { f.PerformingOCR = false }) },
		OCRProgress: func(name string, progress float64) {
			p.log.Debug("ocr progress", "conversation", conversationID, "file", name, "progress", progress)
		},
	}
	payload, err := p.cfg.Composer.Compose(ctx, chat.TurnRequest{
		Text:        in.Text,
		Attachments: attachments,
		Mode:        mode,
		OCR:         in.OCR,
	}, hooks)
	if err != nil {
		return chat.Message{}, err
	}

	callCtx, cancel := p.providerContext(ctx)
	defer cancel()

	text, err := p.cfg.Provider.GenerateText(callCtx, payload)
	if err != nil {
		return chat.Message{}, err
	}
	return chat.NewMessage(chat.RoleAssistant, provider.Normalize(text)), nil
}

func (p *Pipeline) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

// persist saves the conversation on its first settled turn and updates the
// same session afterwards.
func (p *Pipeline) persist(ctx context.Context, conversationID string) {
	if p.cfg.History == nil {
		return
	}
	messages, err := p.cfg.Conversations.Transcript(ctx, conversationID)
	if err != nil {
		p.log.Warn("persist: load transcript failed", "conversation", conversationID, "err", err)
		return
	}
	sessionID, err := p.cfg.Conversations.SessionID(ctx, conversationID)
	if err != nil {
		return
	}
	if sessionID != "" {
		if p.cfg.History.Update(ctx, sessionID, messages) {
			return
		}
		// 会话已被删除或挤出上限，重新保存
		p.log.Info("persist: session gone, saving again", "conversation", conversationID, "session", sessionID)
	}
	if id := p.cfg.History.Save(ctx, messages); id != "" {
		if err := p.cfg.Conversations.SetSessionID(ctx, conversationID, id); err != nil {
			p.log.Warn("persist: link session failed", "conversation", conversationID, "err", err)
		}
	}
}

func isImageRequest(mode chat.Mode, text string) bool {
	if mode == chat.ModeImageGen {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range imageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Apology is the assistant reply for a failed turn.
func Apology(err error) string {
	detail := err.Error()
	var pe *provider.ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		detail = pe.Message
	}
	detail = strings.TrimRight(detail, ". ")
	return fmt.Sprintf("I apologize, but I encountered an error while processing your request: %s. Please try again.", detail)
}
