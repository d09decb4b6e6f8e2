package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTextModel  = "gemini-1.5-flash"
	DefaultImageModel = "gemini-2.0-flash-preview-image-generation"
)

// RESTConfig configures the generateContent HTTP client.
type RESTConfig struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	ImageModel string
	Generation GenerationConfig
	// Timeout 为 0 表示不设置请求超时。
	Timeout    time.Duration
	HTTPClient *http.Client
}

// REST calls models/{model}:generateContent directly.
type REST struct {
	cfg    RESTConfig
	client *http.Client
	log    *log.Logger
}

// NewREST fills unset fields with defaults.
func NewREST(cfg RESTConfig) *REST {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.Generation == (GenerationConfig{}) {
		cfg.Generation = DefaultGenerationConfig()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &REST{cfg: cfg, client: client, log: logger.WithPrefix("provider")}
}

type wireRequest struct {
	Contents         []wireContent     `json:"contents"`
	GenerationConfig wireGenerationCfg `json:"generationConfig"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text            *string   `json:"text,omitempty"`
	InlineData      *wireBlob `json:"inlineData,omitempty"`
	InlineDataSnake *wireBlob `json:"inline_data,omitempty"`
}

// blob resolves the two field spellings the API has used for inline data.
func (p wirePart) blob() *wireBlob {
	if p.InlineData != nil {
		return p.InlineData
	}
	return p.InlineDataSnake
}

type wireBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

func (b *wireBlob) UnmarshalJSON(data []byte) error {
	var raw struct {
		MimeType      string `json:"mimeType"`
		MimeTypeSnake string `json:"mime_type"`
		Data          string `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.MimeType = raw.MimeType
	if b.MimeType == "" {
		b.MimeType = raw.MimeTypeSnake
	}
	b.Data = raw.Data
	return nil
}

type wireGenerationCfg struct {
	Temperature        float32  `json:"temperature"`
	TopK               int      `json:"topK"`
	TopP               float32  `json:"topP"`
	MaxOutputTokens    int      `json:"maxOutputTokens"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content *wireContent `json:"content"`
	} `json:"candidates"`
}

type wireError struct {
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// GenerateText sends the composed parts and returns the normalized text of
// the first candidate's first text part. A text part that is present but
// empty still counts; inline parts before it are skipped.
func (c *REST) GenerateText(ctx context.Context, payload Payload) (string, error) {
	req := wireRequest{
		Contents:         []wireContent{{Parts: toWireParts(payload.Parts)}},
		GenerationConfig: c.generationConfig(nil),
	}

	resp, err := c.call(ctx, c.cfg.TextModel, req)
	if err != nil {
		return "", err
	}

	parts, err := firstCandidateParts(resp)
	if err != nil {
		return "", err
	}
	for _, part := range parts {
		if part.Text != nil {
			return Normalize(*part.Text), nil
		}
	}
	return "", shapeError("candidate has no text part")
}

// GenerateImage asks for TEXT and IMAGE modalities and returns the first
// inline image as a data URL.
func (c *REST) GenerateImage(ctx context.Context, prompt string) (string, error) {
	req := wireRequest{
		Contents:         []wireContent{{Parts: []wirePart{textPart(prompt)}}},
		GenerationConfig: c.generationConfig([]string{"TEXT", "IMAGE"}),
	}

	resp, err := c.call(ctx, c.cfg.ImageModel, req)
	if err != nil {
		return "", err
	}

	parts, err := firstCandidateParts(resp)
	if err != nil {
		return "", err
	}
	for _, part := range parts {
		blob := part.blob()
		if blob == nil || blob.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(blob.Data)
		if err != nil {
			return "", &ProviderError{Kind: KindShapeMismatch, Message: "inline image is not valid base64", Err: err}
		}
		mimeType := blob.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		c.log.Info("image generated", "model", c.cfg.ImageModel, "mime", mimeType, "bytes", len(data))
		return (&InlineData{MimeType: mimeType, Data: data}).DataURL(), nil
	}
	return "", noImageError()
}

func (c *REST) generationConfig(modalities []string) wireGenerationCfg {
	g := c.cfg.Generation
	return wireGenerationCfg{
		Temperature:        g.Temperature,
		TopK:               g.TopK,
		TopP:               g.TopP,
		MaxOutputTokens:    g.MaxOutputTokens,
		ResponseModalities: modalities,
	}
}

func (c *REST) call(ctx context.Context, model string, body wireRequest) (*wireResponse, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generateContent request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(c.cfg.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build generateContent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Status: httpResp.StatusCode, Kind: KindTransport, Message: "failed to read response body", Err: err}
	}
	c.log.Debug("generateContent finished", "model", model, "status", httpResp.StatusCode, "elapsed", time.Since(started))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, decodeHTTPError(httpResp.StatusCode, raw)
	}

	var resp wireResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProviderError{Status: httpResp.StatusCode, Kind: KindShapeMismatch, Message: "response is not valid JSON", Err: err}
	}
	return &resp, nil
}

func decodeHTTPError(status int, raw []byte) *ProviderError {
	message := "Unknown error"
	var body wireError
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != nil && body.Error.Message != "" {
		message = body.Error.Message
	}
	return &ProviderError{Status: status, Kind: KindHTTP, Message: message}
}

func firstCandidateParts(resp *wireResponse) ([]wirePart, error) {
	if len(resp.Candidates) == 0 {
		return nil, shapeError("no candidates")
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil, shapeError("candidate has no parts")
	}
	return content.Parts, nil
}

func toWireParts(parts []Part) []wirePart {
	out := make([]wirePart, 0, len(parts))
	for _, part := range parts {
		if part.InlineData != nil {
			out = append(out, wirePart{InlineData: &wireBlob{
				MimeType: part.InlineData.MimeType,
				Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
			}})
			continue
		}
		out = append(out, textPart(part.Text))
	}
	return out
}

func textPart(text string) wirePart {
	return wirePart{Text: &text}
}
