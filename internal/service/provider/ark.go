package provider

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

// DefaultSystemPrompt 与客户端问候语保持一致的助手设定。
const DefaultSystemPrompt = "You are a helpful multimodal AI assistant. Answer clearly and concisely."

// Ark runs text generation through an eino chain (system template plus the
// composed user turn) over a Volcengine Ark chat model. Ark has no image
// output, so GenerateImage always fails with KindUnsupported.
type Ark struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	model string
	log   *log.Logger
}

// NewArk compiles the chain around chatModel.
func NewArk(ctx context.Context, chatModel model.BaseChatModel, modelName, systemPrompt string) (*Ark, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("ark chat model is nil")
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder("turn", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile ark chain: %w", err)
	}

	return &Ark{chain: runnable, model: modelName, log: logger.WithPrefix("ark")}, nil
}

// GenerateText implements Client.
func (a *Ark) GenerateText(ctx context.Context, payload Payload) (string, error) {
	input := map[string]any{
		"turn": []*schema.Message{toSchemaMessage(payload)},
	}

	resp, err := a.chain.Invoke(ctx, input)
	if err != nil {
		return "", &ProviderError{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	if resp == nil || resp.Content == "" {
		return "", shapeError("ark returned an empty message")
	}

	a.log.Info("generated response", "model", a.model, "length", len(resp.Content))
	return Normalize(resp.Content), nil
}

// GenerateImage implements Client.
func (a *Ark) GenerateImage(context.Context, string) (string, error) {
	return "", &ProviderError{Kind: KindUnsupported, Message: "image generation is not available with the ark provider"}
}

func toSchemaMessage(payload Payload) *schema.Message {
	if payload.InlineCount() == 0 {
		return schema.UserMessage(payload.Text())
	}

	parts := make([]schema.ChatMessagePart, 0, len(payload.Parts))
	for _, part := range payload.Parts {
		if part.InlineData != nil {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      part.InlineData.DataURL(),
					MIMEType: part.InlineData.MimeType,
				},
			})
			continue
		}
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: part.Text})
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}
