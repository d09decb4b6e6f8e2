// Package prompt turns a turn request into a provider payload.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/classify"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/ocr"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/provider"
)

// MaxTextContentChars bounds inlined text file content.
const MaxTextContentChars = 10000

const (
	codePrefix     = "Please help with coding: "
	thinkingPrefix = "Let me think deeply about this: "
	researchPrefix = "Please research this thoroughly and cite what you know: "

	imageInstruction = "Please analyze the attached image(s) in detail. Describe what you see and answer the request below.\n\n"
	defaultFileAsk   = "Please review the attached file(s)."
)

// ErrSearchMode is returned for search turns; those never reach the model.
var ErrSearchMode = errors.New("search mode is answered by the web search summarizer")

// FileReadError reports an attachment whose bytes could not be read.
type FileReadError struct {
	Name string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Name, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// Recognizer is the part of the OCR adapter the composer needs.
type Recognizer interface {
	Enabled() bool
	ExtractText(ctx context.Context, image []byte, mimeType string, opts ocr.Options) (*ocr.Result, error)
	ExtractTextFromPDF(ctx context.Context, pdf []byte, opts ocr.Options) (*ocr.Result, error)
}

// Hooks lets the pipeline observe OCR activity.
type Hooks struct {
	OCRStarted  func()
	OCRFinished func()
	OCRProgress func(name string, progress float64)
}

// Composer builds provider payloads. Attachments are handled one at a time
// in order, so the resulting prompt is deterministic.
type Composer struct {
	ocr      Recognizer
	language string
	log      *log.Logger
}

// NewComposer recognizer may be nil, which disables OCR.
func NewComposer(recognizer Recognizer, ocrLanguage string) *Composer {
	return &Composer{ocr: recognizer, language: ocrLanguage, log: logger.WithPrefix("prompt")}
}

// Compose never fails because of an attachment: read and OCR errors are
// written into the prompt as warnings. The only error is ErrSearchMode.
func (c *Composer) Compose(ctx context.Context, req chat.TurnRequest, hooks Hooks) (provider.Payload, error) {
	if req.Mode == chat.ModeSearch {
		return provider.Payload{}, ErrSearchMode
	}

	text := ApplyMode(req.Mode, req.Text)
	if strings.TrimSpace(text) == "" && len(req.Attachments) > 0 {
		text = defaultFileAsk
	}

	var (
		b        strings.Builder
		parts    []provider.Part
		hasImage bool
	)
	b.WriteString(text)

	for _, att := range req.Attachments {
		if att == nil {
			continue
		}
		writeMetadata(&b, att)

		switch classify.Classify(att.Name, att.MimeType) {
		case classify.Image:
			hasImage = true
			if part, ok := c.composeImage(ctx, &b, att, req.OCR, hooks); ok {
				parts = append(parts, part)
			}
		case classify.Text:
			c.composeText(&b, att)
		case classify.Binary:
			if req.OCR && isPDF(att) && c.ocrEnabled() {
				c.composePDF(ctx, &b, att, hooks)
				continue
			}
			b.WriteString("\nThis is a binary or document file, so its content was not read. ")
			b.WriteString("Based on the name, type and size, explain what it most likely contains, how it is structured and how it is typically used.\n")
		default:
			fmt.Fprintf(&b, "\nCategory: %s\n", classify.Category(att.MimeType))
			b.WriteString("There is no dedicated handling for this file type. Use the metadata above to reason about what it is.\n")
		}
	}

	promptText := b.String()
	if hasImage {
		promptText = imageInstruction + promptText
	}

	parts = append(parts, provider.TextPart(promptText))
	return provider.Payload{Parts: parts}, nil
}

// ApplyMode rewrites the raw text for the selected mode.
func ApplyMode(mode chat.Mode, text string) string {
	switch mode {
	case chat.ModeCode:
		return codePrefix + text
	case chat.ModeThinking:
		return thinkingPrefix + text
	case chat.ModeResearch:
		return researchPrefix + text
	default:
		return text
	}
}

func (c *Composer) composeImage(ctx context.Context, b *strings.Builder, att *chat.Attachment, runOCR bool, hooks Hooks) (provider.Part, bool) {
	data, err := readAll(att)
	if err != nil {
		c.log.Warn("image read failed", "name", att.Name, "err", err)
		fmt.Fprintf(b, "\nWarning: %v. Only the metadata above is available for this image.\n", err)
		return provider.Part{}, false
	}

	if runOCR && c.ocrEnabled() {
		c.appendOCR(ctx, b, att, data, hooks)
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return provider.BlobPart(mimeType, data), true
}

func (c *Composer) appendOCR(ctx context.Context, b *strings.Builder, att *chat.Attachment, data []byte, hooks Hooks) {
	if hooks.OCRStarted != nil {
		hooks.OCRStarted()
	}
	if hooks.OCRFinished != nil {
		defer hooks.OCRFinished()
	}

	opts := ocr.Options{Language: c.language}
	if hooks.OCRProgress != nil {
		opts.OnProgress = func(p float64) { hooks.OCRProgress(att.Name, p) }
	}

	var (
		result *ocr.Result
		err    error
	)
	if isPDF(att) {
		result, err = c.ocr.ExtractTextFromPDF(ctx, data, opts)
	} else {
		result, err = c.ocr.ExtractText(ctx, data, att.MimeType, opts)
	}
	if err != nil {
		fmt.Fprintf(b, "\nWarning: %v. Continuing without extracted text.\n", err)
		return
	}
	if result.Text == "" {
		return
	}
	fmt.Fprintf(b, "\nExtracted text (OCR, confidence %.1f%%):\n```\n%s\n```\n", result.Confidence, result.Text)
}

// composePDF 读取 PDF 并附上识别出的文字，失败时退回元数据说明
func (c *Composer) composePDF(ctx context.Context, b *strings.Builder, att *chat.Attachment, hooks Hooks) {
	data, err := readAll(att)
	if err != nil {
		c.log.Warn("pdf read failed", "name", att.Name, "err", err)
		fmt.Fprintf(b, "\nWarning: %v. Only the metadata above is available for this file.\n", err)
		return
	}
	b.WriteString("\nThis is a PDF document. Text recognized from its pages follows when available.\n")
	c.appendOCR(ctx, b, att, data, hooks)
}

func (c *Composer) ocrEnabled() bool {
	return c.ocr != nil && c.ocr.Enabled()
}

// isPDF 上传时浏览器可能给出 application/octet-stream，按扩展名兜底
func isPDF(att *chat.Attachment) bool {
	return classify.IsPDF(att.MimeType) || att.Extension() == "pdf"
}

func (c *Composer) composeText(b *strings.Builder, att *chat.Attachment) {
	data, err := readAll(att)
	if err != nil {
		c.log.Warn("text read failed", "name", att.Name, "err", err)
		fmt.Fprintf(b, "\nWarning: %v. Only the metadata above is available for this file.\n", err)
		return
	}

	content := string(data)
	stats := Measure(content)
	fmt.Fprintf(b, "Lines: %d\nWords: %d\nCharacters: %d\n", stats.Lines, stats.Words, stats.Characters)

	shown, truncated := truncate(content, MaxTextContentChars)
	fmt.Fprintf(b, "Content:\n```%s\n%s\n```\n", att.Extension(), shown)
	if truncated {
		fmt.Fprintf(b, "[Content truncated: showing the first %d of %d characters]\n", MaxTextContentChars, stats.Characters)
	}
}

func writeMetadata(b *strings.Builder, att *chat.Attachment) {
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "unknown"
	}
	ext := att.Extension()
	if ext == "" {
		ext = "none"
	} else {
		ext = "." + ext
	}
	modified := "unknown"
	if !att.ModifiedAt.IsZero() {
		modified = att.ModifiedAt.UTC().Format(time.RFC1123)
	}

	fmt.Fprintf(b, "\n\n--- Attached file: %s ---\n", att.Name)
	fmt.Fprintf(b, "Name: %s\nType: %s\nExtension: %s\nSize: %s\nLast modified: %s\n",
		att.Name, mimeType, ext, FormatSize(att.Size), modified)
}

func readAll(att *chat.Attachment) ([]byte, error) {
	if att.Source == nil {
		return nil, &FileReadError{Name: att.Name, Err: errors.New("no file content attached")}
	}
	rc, err := att.Source.Open()
	if err != nil {
		return nil, &FileReadError{Name: att.Name, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &FileReadError{Name: att.Name, Err: err}
	}
	return data, nil
}

func truncate(content string, limit int) (string, bool) {
	runes := []rune(content)
	if len(runes) <= limit {
		return content, false
	}
	return string(runes[:limit]), true
}
