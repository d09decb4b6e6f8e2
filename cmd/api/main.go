package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/gemini-assistant/backend/internal/config"
	"github.com/zhouzirui/gemini-assistant/backend/internal/handler"
	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/attachment"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/history"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/ocr"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/prompt"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/provider"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/search"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/speech"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/turn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "err", err)
	}
	logger.Configure(cfg.LogLevel)

	gen, err := newProvider(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize provider", "err", err)
	}

	recognizer := newOCR(cfg.OCR)
	composer := prompt.NewComposer(recognizer, cfg.OCR.Language)

	var summarizer turn.Summarizer
	if cfg.Search.Enabled {
		client := search.NewClient(cfg.Search.BaseURL, cfg.Search.Timeout, cfg.Search.RatePerSec, cfg.Search.Burst)
		summarizer = search.NewSummarizer(client)
		logger.Info("web search enabled", "rps", cfg.Search.RatePerSec)
	} else {
		logger.Info("web search disabled, search mode falls back to normal replies")
	}

	kv, closeKV, err := newHistoryBackend(ctx, cfg.History)
	if err != nil {
		logger.Fatal("failed to open chat history", "err", err)
	}
	defer closeKV()
	historyStore := history.NewStore(kv)

	// Initialize Speech service
	catalog, err := speech.NewVoiceCatalog(cfg.Speech.VoiceCatalog)
	if err != nil {
		logger.Fatal("failed to load voice catalog", "err", err)
	}
	if err := catalog.Watch(); err != nil {
		logger.Warn("voice catalog hot reload unavailable", "err", err)
	}
	defer catalog.Close()

	speechService := speech.NewService(speech.Config{
		AppID:            cfg.Speech.AppID,
		AccessToken:      cfg.Speech.AccessToken,
		ConcurrentMode:   cfg.Speech.ConcurrentMode,
		ASRURL:           cfg.Speech.ASRURL,
		ASRLanguage:      cfg.Speech.ASRLanguage,
		TTSURL:           cfg.Speech.TTSURL,
		TTSVoice:         cfg.Speech.TTSVoice,
		TTSLanguage:      cfg.Speech.TTSLanguage,
		VoiceCatalogPath: cfg.Speech.VoiceCatalog,
		Timeout:          cfg.Speech.Timeout,
	}, catalog)
	if speechService.Enabled() {
		logger.Info("speech service initialized")
	} else {
		logger.Info("speech credentials not configured, voice input and output report unsupported")
	}

	chatService := chat.NewService()
	previews := attachment.NewPreviewServer("/api/previews")
	attachments := attachment.NewRegistry(previews)

	pipeline := turn.NewPipeline(turn.Config{
		Conversations:   chatService,
		Attachments:     attachments,
		Composer:        composer,
		Provider:        gen,
		Search:          summarizer,
		History:         historyStore,
		ProviderTimeout: cfg.Provider.Timeout,
	})

	router := handler.NewRouter(handler.Services{
		Chat:        chatService,
		Attachments: attachments,
		Previews:    previews,
		Pipeline:    pipeline,
		History:     historyStore,
		Speech:      speechService,
	})

	startServer(ctx, cfg.Server, router)
}

func newProvider(ctx context.Context, cfg *config.Config) (provider.Client, error) {
	p := cfg.Provider
	if p.Kind != config.ProviderArk && !p.Enabled() {
		// 仍然启动：每次生成都会以致歉消息结束
		logger.Warn("Gemini credentials not configured, generation requests will fail", "provider", p.Kind)
	}

	switch p.Kind {
	case config.ProviderGenAI:
		logger.Info("using genai provider", "model", p.TextModel, "vertex", p.Vertex)
		return provider.NewGenAI(provider.GenAIConfig{
			APIKey:     p.APIKey,
			Vertex:     p.Vertex,
			Project:    p.Project,
			Location:   p.Location,
			TextModel:  p.TextModel,
			ImageModel: p.ImageModel,
			Timeout:    p.Timeout,
		}), nil
	case config.ProviderArk:
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("using ark provider", "model", cfg.AI.Model)
		return provider.NewArk(ctx, chatModel, cfg.AI.Model, cfg.AI.SystemPrompt)
	default:
		logger.Info("using rest provider", "model", p.TextModel)
		return provider.NewREST(provider.RESTConfig{
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			TextModel:  p.TextModel,
			ImageModel: p.ImageModel,
			Timeout:    p.Timeout,
		}), nil
	}
}

// newOCR 返回 nil 时图片附件跳过文字识别
func newOCR(cfg config.OCRConfig) prompt.Recognizer {
	if !cfg.Enabled() {
		logger.Info("OCR disabled", "engine", cfg.Engine, "vertex", cfg.Vertex)
		return nil
	}

	var engine ocr.Engine
	switch cfg.Engine {
	case config.OCREngineOpenAI:
		engine = ocr.NewOpenAIEngine(ocr.OpenAIEngineConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		engine = ocr.NewGenAIEngine(ocr.GenAIEngineConfig{
			APIKey:   cfg.APIKey,
			Vertex:   cfg.Vertex,
			Project:  cfg.Project,
			Location: cfg.Location,
			Model:    cfg.Model,
		})
	}
	logger.Info("OCR enabled", "engine", cfg.Engine, "language", cfg.Language)
	return ocr.NewAdapter(engine, cfg.Language)
}

func newHistoryBackend(ctx context.Context, cfg config.HistoryConfig) (history.KeyValueStore, func(), error) {
	if cfg.Backend != config.HistorySQLite {
		return history.NewMemoryKV(), func() {}, nil
	}
	kv, err := history.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("chat history stored in sqlite", "path", cfg.SQLitePath)
	return kv, func() {
		if err := kv.Close(); err != nil {
			logger.Warn("failed to close chat history", "err", err)
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Gemini assistant backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
