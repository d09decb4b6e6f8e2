// Package provider talks to the generative model backends. Every client
// is single-shot: errors are returned to the caller, never retried here.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Client generates assistant text and images.
type Client interface {
	GenerateText(ctx context.Context, payload Payload) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// InlineData is a binary part carried inside a request or response.
type InlineData struct {
	MimeType string
	Data     []byte
}

// DataURL renders the part as a data: URL.
func (d *InlineData) DataURL() string {
	return "data:" + d.MimeType + ";base64," + base64.StdEncoding.EncodeToString(d.Data)
}

// Part is either a text part or an inline binary part.
type Part struct {
	Text       string
	InlineData *InlineData
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Text: text} }

// BlobPart builds an inline binary part.
func BlobPart(mimeType string, data []byte) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: data}}
}

// Payload is one multi-part user message. Binary parts precede the
// trailing text part.
type Payload struct {
	Parts []Part
}

// Text returns the trailing text part, or "" when there is none.
func (p Payload) Text() string {
	if len(p.Parts) == 0 {
		return ""
	}
	return p.Parts[len(p.Parts)-1].Text
}

// InlineCount 返回二进制部分的数量。
func (p Payload) InlineCount() int {
	n := 0
	for _, part := range p.Parts {
		if part.InlineData != nil {
			n++
		}
	}
	return n
}

// GenerationConfig holds the fixed sampling parameters sent with each request.
type GenerationConfig struct {
	Temperature     float32
	TopK            int
	TopP            float32
	MaxOutputTokens int
}

// DefaultGenerationConfig matches the client defaults: 0.7 / 40 / 0.95 / 1024.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 1024,
	}
}

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindHTTP          ErrorKind = "http"
	KindTransport     ErrorKind = "transport"
	KindShapeMismatch ErrorKind = "shape-mismatch"
	KindNoImage       ErrorKind = "no-image-returned"
	KindUnsupported   ErrorKind = "unsupported"
)

// ProviderError is returned by every Client implementation.
type ProviderError struct {
	Status  int
	Message string
	Kind    ErrorKind
	Err     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Kind != "" && e.Kind != KindHTTP {
		fmt.Fprintf(&b, " [%s]", e.Kind)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AsProviderError 提取错误链中的 ProviderError。
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func noImageError() *ProviderError {
	return &ProviderError{
		Kind:    KindNoImage,
		Message: "no image was returned; the prompt may have been blocked by content restrictions",
	}
}

func shapeError(what string) *ProviderError {
	return &ProviderError{Kind: KindShapeMismatch, Message: "unexpected response shape: " + what}
}
