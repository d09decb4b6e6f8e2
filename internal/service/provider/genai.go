package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

// GenAIConfig configures the Google Gen AI SDK client. Vertex selects the
// Vertex AI backend (Project + Location) instead of an API key.
type GenAIConfig struct {
	APIKey     string
	Vertex     bool
	Project    string
	Location   string
	TextModel  string
	ImageModel string
	Generation GenerationConfig
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GenAI implements Client on top of google.golang.org/genai. The SDK
// client is created on first use.
type GenAI struct {
	cfg    GenAIConfig
	mu     sync.Mutex
	client *genai.Client
	log    *log.Logger
}

// NewGenAI 创建客户端，真正的 SDK 连接延迟到首次请求时初始化。
func NewGenAI(cfg GenAIConfig) *GenAI {
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.Generation == (GenerationConfig{}) {
		cfg.Generation = DefaultGenerationConfig()
	}
	return &GenAI{cfg: cfg, log: logger.WithPrefix("genai")}
}

func (g *GenAI) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	clientCfg := &genai.ClientConfig{HTTPClient: g.cfg.HTTPClient}
	if g.cfg.Vertex {
		if g.cfg.Project == "" || g.cfg.Location == "" {
			return nil, fmt.Errorf("vertex backend requires project and location")
		}
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = g.cfg.Project
		clientCfg.Location = g.cfg.Location
	} else {
		if g.cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini API key not configured")
		}
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = g.cfg.APIKey
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.client = client
	g.log.Debug("genai client initialized", "vertex", g.cfg.Vertex)
	return client, nil
}

// GenerateText implements Client.
func (g *GenAI) GenerateText(ctx context.Context, payload Payload) (string, error) {
	res, err := g.generate(ctx, g.cfg.TextModel, toGenAIParts(payload.Parts), nil)
	if err != nil {
		return "", err
	}
	parts, err := genaiCandidateParts(res)
	if err != nil {
		return "", err
	}
	for _, part := range parts {
		if part != nil && part.Text != "" && !part.Thought {
			return Normalize(part.Text), nil
		}
	}
	return "", shapeError("candidate has no text part")
}

// GenerateImage implements Client.
func (g *GenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	res, err := g.generate(ctx, g.cfg.ImageModel, []*genai.Part{genai.NewPartFromText(prompt)}, []string{"TEXT", "IMAGE"})
	if err != nil {
		return "", err
	}
	parts, err := genaiCandidateParts(res)
	if err != nil {
		return "", err
	}
	for _, part := range parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return (&InlineData{MimeType: mimeType, Data: part.InlineData.Data}).DataURL(), nil
	}
	return "", noImageError()
}

func (g *GenAI) generate(ctx context.Context, model string, parts []*genai.Part, modalities []string) (*genai.GenerateContentResponse, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransport, Message: err.Error(), Err: err}
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	gen := g.cfg.Generation
	config := &genai.GenerateContentConfig{
		Temperature:        float32Ptr(gen.Temperature),
		TopK:               float32Ptr(float32(gen.TopK)),
		TopP:               float32Ptr(gen.TopP),
		MaxOutputTokens:    int32(gen.MaxOutputTokens),
		ResponseModalities: modalities,
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	res, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fromGenAIError(err)
	}
	return res, nil
}

func fromGenAIError(err error) *ProviderError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Status: apiErr.Code, Kind: KindHTTP, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ProviderError{Status: apiErrPtr.Code, Kind: KindHTTP, Message: apiErrPtr.Message, Err: err}
	}
	return &ProviderError{Kind: KindTransport, Message: err.Error(), Err: err}
}

func genaiCandidateParts(res *genai.GenerateContentResponse) ([]*genai.Part, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil {
		return nil, shapeError("no candidates")
	}
	content := res.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil, shapeError("candidate has no parts")
	}
	return content.Parts, nil
}

func toGenAIParts(parts []Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		if part.InlineData != nil {
			out = append(out, genai.NewPartFromBytes(part.InlineData.Data, part.InlineData.MimeType))
			continue
		}
		out = append(out, genai.NewPartFromText(part.Text))
	}
	return out
}

func float32Ptr(v float32) *float32 { return &v }
