package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEngineConfig points at any OpenAI-compatible vision endpoint, for
// example DeepInfra's olmOCR deployment.
type OpenAIEngineConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	HTTPClient *http.Client
}

// OpenAIEngine sends the image as a data URI in a chat completion.
type OpenAIEngine struct {
	client openai.Client
	cfg    OpenAIEngineConfig
}

// NewOpenAIEngine 创建 OpenAI 兼容的识别引擎。
func NewOpenAIEngine(cfg OpenAIEngineConfig) *OpenAIEngine {
	if cfg.Model == "" {
		cfg.Model = "allenai/olmOCR-7B-0725-FP8"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIEngine{client: openai.NewClient(opts...), cfg: cfg}
}

// Recognize implements Engine.
func (e *OpenAIEngine) Recognize(ctx context.Context, req Request, progress func(float64)) (*Result, error) {
	dataURI := "data:" + req.MimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Data)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(visionPrompt(req.Language)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURI}),
			}),
		},
		MaxTokens:   openai.Int(e.cfg.MaxTokens),
		Temperature: openai.Float(0),
	}

	progress(0.2)
	completion, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	progress(0.9)

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("vision endpoint returned no choices")
	}
	return parseVisionResult(completion.Choices[0].Message.Content), nil
}
