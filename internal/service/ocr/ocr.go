// Package ocr extracts text from images and PDF documents. Recognition is
// delegated to an Engine; callers treat failures as non-fatal.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/classify"
)

// DefaultLanguage uses tesseract-style language codes.
const DefaultLanguage = "eng"

// ErrNoEngine 未配置识别引擎。
var ErrNoEngine = errors.New("no OCR engine configured")

// BBox is a word bounding box in image pixels.
type BBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Word is a recognized token with its own confidence.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Result holds recognized text. Confidence is on a 0-100 scale.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Options tune a single extraction.
type Options struct {
	Language   string
	OnProgress func(progress float64)
}

// Request is what an Engine receives.
type Request struct {
	Data     []byte
	MimeType string
	Language string
}

// Engine performs recognition and reports fractional progress.
type Engine interface {
	Recognize(ctx context.Context, req Request, progress func(float64)) (*Result, error)
}

// OcrError wraps any recognition failure.
type OcrError struct {
	Err error
}

func (e *OcrError) Error() string {
	msg := "Unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return "Failed to extract text from image: " + msg
}

func (e *OcrError) Unwrap() error { return e.Err }

// Adapter is the entry point used by the prompt composer.
type Adapter struct {
	engine          Engine
	defaultLanguage string
	log             *log.Logger
}

// NewAdapter engine 为空时所有调用都返回 OcrError。
func NewAdapter(engine Engine, defaultLanguage string) *Adapter {
	if defaultLanguage == "" {
		defaultLanguage = DefaultLanguage
	}
	return &Adapter{engine: engine, defaultLanguage: defaultLanguage, log: logger.WithPrefix("ocr")}
}

// Enabled reports whether an engine is configured.
func (a *Adapter) Enabled() bool {
	return a != nil && a.engine != nil
}

// ExtractText recognizes text in an image.
func (a *Adapter) ExtractText(ctx context.Context, image []byte, mimeType string, opts Options) (*Result, error) {
	return a.extract(ctx, image, mimeType, opts)
}

// ExtractTextFromPDF sends the whole document to the engine as one inline
// file. Engines backed by multimodal models read PDFs natively.
func (a *Adapter) ExtractTextFromPDF(ctx context.Context, pdf []byte, opts Options) (*Result, error) {
	return a.extract(ctx, pdf, "application/pdf", opts)
}

func (a *Adapter) extract(ctx context.Context, data []byte, mimeType string, opts Options) (*Result, error) {
	if !a.Enabled() {
		return nil, &OcrError{Err: ErrNoEngine}
	}
	if len(data) == 0 {
		return nil, &OcrError{Err: errors.New("empty input")}
	}
	if !CanPerformOCR(mimeType) {
		return nil, &OcrError{Err: fmt.Errorf("unsupported content type %q", mimeType)}
	}

	lang := opts.Language
	if lang == "" {
		lang = a.defaultLanguage
	}

	progress := func(p float64) {
		if opts.OnProgress == nil {
			return
		}
		opts.OnProgress(clamp(p))
	}

	a.log.Debug("starting OCR", "mime", mimeType, "bytes", len(data), "lang", lang)
	progress(0)

	result, err := a.engine.Recognize(ctx, Request{Data: data, MimeType: mimeType, Language: lang}, progress)
	if err != nil {
		a.log.Warn("OCR failed", "mime", mimeType, "err", err)
		return nil, &OcrError{Err: err}
	}
	if result == nil {
		result = &Result{}
	}
	result.Text = strings.TrimSpace(result.Text)
	if result.Words == nil {
		result.Words = []Word{}
	}

	progress(1)
	a.log.Debug("OCR completed", "chars", len(result.Text), "confidence", result.Confidence)
	return result, nil
}

// CanPerformOCR reports whether OCR applies: images and PDFs.
func CanPerformOCR(mimeType string) bool {
	return classify.Classify("", mimeType) == classify.Image || classify.IsPDF(mimeType)
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

var languageNames = map[string]string{
	"eng":     "English",
	"chi_sim": "Simplified Chinese",
	"chi_tra": "Traditional Chinese",
	"jpn":     "Japanese",
	"kor":     "Korean",
	"fra":     "French",
	"deu":     "German",
	"spa":     "Spanish",
	"ita":     "Italian",
	"por":     "Portuguese",
	"rus":     "Russian",
	"ara":     "Arabic",
	"hin":     "Hindi",
}

// languageName maps "eng+chi_sim" to "English, Simplified Chinese".
func languageName(code string) string {
	var names []string
	for _, c := range strings.Split(code, "+") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if name, ok := languageNames[c]; ok {
			names = append(names, name)
		} else {
			names = append(names, c)
		}
	}
	if len(names) == 0 {
		return languageNames[DefaultLanguage]
	}
	return strings.Join(names, ", ")
}
