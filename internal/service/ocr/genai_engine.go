package ocr

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GenAIEngineConfig configures OCR through a Gemini vision model.
type GenAIEngineConfig struct {
	APIKey   string
	Vertex   bool
	Project  string
	Location string
	Model    string
}

// GenAIEngine asks a Gemini model for a JSON transcription.
type GenAIEngine struct {
	cfg    GenAIEngineConfig
	mu     sync.Mutex
	client *genai.Client
}

// NewGenAIEngine 延迟创建 SDK 客户端。
func NewGenAIEngine(cfg GenAIEngineConfig) *GenAIEngine {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	return &GenAIEngine{cfg: cfg}
}

func (e *GenAIEngine) ensureClient(ctx context.Context) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: e.cfg.APIKey}
	if e.cfg.Vertex {
		cc = &genai.ClientConfig{Backend: genai.BackendVertexAI, Project: e.cfg.Project, Location: e.cfg.Location}
	} else if e.cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured for OCR")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	e.client = client
	return client, nil
}

// Recognize implements Engine.
func (e *GenAIEngine) Recognize(ctx context.Context, req Request, progress func(float64)) (*Result, error) {
	client, err := e.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(req.Data, req.MimeType),
		genai.NewPartFromText(visionPrompt(req.Language)),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      float32Ptr(0),
		ResponseMIMEType: "application/json",
	}

	progress(0.2)
	res, err := client.Models.GenerateContent(ctx, e.cfg.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return nil, err
	}
	progress(0.9)

	return parseVisionResult(res.Text()), nil
}

func float32Ptr(v float32) *float32 { return &v }
