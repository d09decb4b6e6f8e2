package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	input []*schema.Message
	reply string
	err   error
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestArkGenerateText(t *testing.T) {
	fake := &fakeChatModel{reply: "**Sure**, here you go"}
	client, err := NewArk(context.Background(), fake, "doubao-test", "")
	require.NoError(t, err)

	text, err := client.GenerateText(context.Background(), Payload{Parts: []Part{TextPart("hello")}})
	require.NoError(t, err)
	assert.Equal(t, "Sure, here you go", text)

	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, DefaultSystemPrompt, fake.input[0].Content)
	assert.Equal(t, "hello", fake.input[1].Content)
}

func TestArkMultimodalParts(t *testing.T) {
	fake := &fakeChatModel{reply: "a cat"}
	client, err := NewArk(context.Background(), fake, "doubao-vision", "")
	require.NoError(t, err)

	_, err = client.GenerateText(context.Background(), Payload{Parts: []Part{BlobPart("image/png", []byte("x")), TextPart("what is this")}})
	require.NoError(t, err)

	user := fake.input[1]
	require.Len(t, user.MultiContent, 2)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, user.MultiContent[0].Type)
	assert.Equal(t, "data:image/png;base64,eA==", user.MultiContent[0].ImageURL.URL)
	assert.Equal(t, "what is this", user.MultiContent[1].Text)
}

func TestArkErrorsAndImage(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("quota exceeded")}
	client, err := NewArk(context.Background(), fake, "doubao", "")
	require.NoError(t, err)

	_, err = client.GenerateText(context.Background(), Payload{Parts: []Part{TextPart("hi")}})
	_, ok := AsProviderError(err)
	assert.True(t, ok)

	_, err = client.GenerateImage(context.Background(), "a cat")
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsupported, pe.Kind)
}
