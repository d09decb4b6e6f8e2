package prompt

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/ocr"
)

type failingSource struct{}

func (failingSource) Open() (io.ReadCloser, error) { return nil, errors.New("permission denied") }

type stubRecognizer struct {
	enabled  bool
	result   *ocr.Result
	err      error
	calls    int
	pdfCalls int
}

func (s *stubRecognizer) Enabled() bool { return s.enabled }

func (s *stubRecognizer) ExtractText(_ context.Context, _ []byte, _ string, opts ocr.Options) (*ocr.Result, error) {
	s.calls++
	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}
	return s.result, s.err
}

func (s *stubRecognizer) ExtractTextFromPDF(_ context.Context, _ []byte, opts ocr.Options) (*ocr.Result, error) {
	s.pdfCalls++
	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}
	return s.result, s.err
}

func attachment(name, mime string, data []byte) *chat.Attachment {
	return &chat.Attachment{
		ID:         name,
		Name:       name,
		MimeType:   mime,
		Size:       int64(len(data)),
		ModifiedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:     chat.BytesSource(data),
	}
}

func TestComposePlainText(t *testing.T) {
	c := NewComposer(nil, "")
	payload, err := c.Compose(context.Background(), chat.TurnRequest{Text: "hello"}, Hooks{})
	require.NoError(t, err)
	require.Len(t, payload.Parts, 1)
	assert.Equal(t, "hello", payload.Parts[0].Text)
}

func TestComposeModePrefixes(t *testing.T) {
	c := NewComposer(nil, "")
	tests := []struct {
		mode chat.Mode
		want string
	}{
		{chat.ModeCode, "Please help with coding: fix it"},
		{chat.ModeThinking, "Let me think deeply about this: fix it"},
		{chat.ModeResearch, "Please research this thoroughly and cite what you know: fix it"},
		{chat.ModeNormal, "fix it"},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			payload, err := c.Compose(context.Background(), chat.TurnRequest{Text: "fix it", Mode: tt.mode}, Hooks{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, payload.Text())
		})
	}
}

func TestComposeSearchModeIsRejected(t *testing.T) {
	c := NewComposer(nil, "")
	_, err := c.Compose(context.Background(), chat.TurnRequest{Text: "q", Mode: chat.ModeSearch}, Hooks{})
	assert.ErrorIs(t, err, ErrSearchMode)
}

func TestComposeImagesComeBeforeText(t *testing.T) {
	c := NewComposer(nil, "")
	req := chat.TurnRequest{
		Text: "what is this",
		Attachments: []*chat.Attachment{
			attachment("a.png", "image/png", []byte{1, 2, 3}),
			attachment("b.jpg", "image/jpeg", []byte{4, 5}),
		},
	}
	payload, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Len(t, payload.Parts, 3)
	assert.Equal(t, 2, payload.InlineCount())

	assert.Equal(t, "image/png", payload.Parts[0].InlineData.MimeType)
	assert.Equal(t, []byte{4, 5}, payload.Parts[1].InlineData.Data)

	last := payload.Parts[2]
	assert.Nil(t, last.InlineData)
	assert.True(t, strings.HasPrefix(last.Text, imageInstruction))
	assert.Equal(t, 1, strings.Count(last.Text, imageInstruction))
	assert.Contains(t, last.Text, "--- Attached file: a.png ---")
	assert.Contains(t, last.Text, "--- Attached file: b.jpg ---")
}

func TestComposeTextFile(t *testing.T) {
	c := NewComposer(nil, "")
	req := chat.TurnRequest{
		Text:        "summarize",
		Attachments: []*chat.Attachment{attachment("notes.txt", "text/plain", []byte("abc\ndef\n"))},
	}
	payload, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Len(t, payload.Parts, 1)

	text := payload.Text()
	assert.True(t, strings.HasPrefix(text, "summarize"))
	assert.Contains(t, text, "Lines: 2")
	assert.Contains(t, text, "Words: 2")
	assert.Contains(t, text, "Characters: 8")
	assert.Contains(t, text, "```txt\nabc\ndef\n")
	assert.Contains(t, text, "Size: 8 Bytes")
	assert.Contains(t, text, "Extension: .txt")
	assert.NotContains(t, text, "Content truncated")
}

func TestComposeTruncatesLongText(t *testing.T) {
	c := NewComposer(nil, "")
	body := strings.Repeat("x", MaxTextContentChars+50)
	req := chat.TurnRequest{
		Text:        "look",
		Attachments: []*chat.Attachment{attachment("big.log", "text/plain", []byte(body))},
	}
	payload, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)

	text := payload.Text()
	assert.Contains(t, text, "Content truncated")
	assert.NotContains(t, text, strings.Repeat("x", MaxTextContentChars+1))
}

func TestComposeBinaryAndOther(t *testing.T) {
	c := NewComposer(nil, "")
	req := chat.TurnRequest{
		Text: "what are these",
		Attachments: []*chat.Attachment{
			attachment("report.pdf", "application/pdf", []byte("%PDF")),
			attachment("song.mp3", "audio/mpeg", []byte("ID3")),
		},
	}
	payload, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)
	require.Len(t, payload.Parts, 1)

	text := payload.Text()
	assert.Contains(t, text, "binary or document file")
	assert.Contains(t, text, "Category: audio")
	assert.NotContains(t, text, "%PDF")
}

func TestComposeReadFailureBecomesNote(t *testing.T) {
	c := NewComposer(nil, "")
	broken := attachment("x.txt", "text/plain", nil)
	broken.Source = failingSource{}
	brokenImage := attachment("y.png", "image/png", nil)
	brokenImage.Source = failingSource{}

	payload, err := c.Compose(context.Background(), chat.TurnRequest{
		Text:        "read",
		Attachments: []*chat.Attachment{broken, brokenImage},
	}, Hooks{})
	require.NoError(t, err)
	require.Len(t, payload.Parts, 1)
	assert.Equal(t, 0, payload.InlineCount())
	assert.Contains(t, payload.Text(), "Warning: failed to read x.txt: permission denied")
	assert.Contains(t, payload.Text(), "Warning: failed to read y.png: permission denied")
}

func TestComposeOCR(t *testing.T) {
	rec := &stubRecognizer{enabled: true, result: &ocr.Result{Text: "STOP", Confidence: 91.5}}
	c := NewComposer(rec, "eng")

	var started, finished int
	var progress []float64
	hooks := Hooks{
		OCRStarted:  func() { started++ },
		OCRFinished: func() { finished++ },
		OCRProgress: func(_ string, p float64) { progress = append(progress, p) },
	}
	req := chat.TurnRequest{
		Text:        "read the sign",
		OCR:         true,
		Attachments: []*chat.Attachment{attachment("sign.png", "image/png", []byte{9})},
	}

	payload, err := c.Compose(context.Background(), req, hooks)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
	assert.Equal(t, []float64{1}, progress)
	assert.Contains(t, payload.Text(), "confidence 91.5%")
	assert.Contains(t, payload.Text(), "STOP")
	assert.Equal(t, 1, payload.InlineCount())
}

func TestComposeOCRFailureBecomesNote(t *testing.T) {
	rec := &stubRecognizer{enabled: true, err: &ocr.OcrError{Err: errors.New("engine down")}}
	c := NewComposer(rec, "eng")

	var finished int
	req := chat.TurnRequest{
		OCR:         true,
		Attachments: []*chat.Attachment{attachment("sign.png", "image/png", []byte{9})},
	}
	payload, err := c.Compose(context.Background(), req, Hooks{OCRFinished: func() { finished++ }})
	require.NoError(t, err)
	assert.Equal(t, 1, finished)
	assert.Contains(t, payload.Text(), "Failed to extract text from image: engine down")
	assert.Equal(t, 1, payload.InlineCount())
}

func TestComposeOCRSkippedWhenDisabled(t *testing.T) {
	rec := &stubRecognizer{enabled: true, result: &ocr.Result{Text: "x"}}
	c := NewComposer(rec, "eng")
	req := chat.TurnRequest{Attachments: []*chat.Attachment{attachment("a.png", "image/png", []byte{1})}}

	_, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)
	assert.Zero(t, rec.calls)
}

func TestComposePDFWithOCR(t *testing.T) {
	rec := &stubRecognizer{enabled: true, result: &ocr.Result{Text: "Invoice #42", Confidence: 88}}
	c := NewComposer(rec, "eng")

	var started, finished int
	hooks := Hooks{
		OCRStarted:  func() { started++ },
		OCRFinished: func() { finished++ },
	}
	req := chat.TurnRequest{
		Text: "what is the invoice number?",
		OCR:  true,
		Attachments: []*chat.Attachment{
			attachment("invoice.pdf", "application/pdf", []byte("%PDF-1.4")),
			attachment("scan.pdf", "application/octet-stream", []byte("%PDF-1.4")),
		},
	}

	payload, err := c.Compose(context.Background(), req, hooks)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.pdfCalls)
	assert.Zero(t, rec.calls)
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, finished)
	assert.Contains(t, payload.Text(), "Invoice #42")
	assert.Contains(t, payload.Text(), "This is a PDF document.")
	assert.NotContains(t, payload.Text(), "its content was not read")
	assert.Zero(t, payload.InlineCount())
}

func TestComposePDFWithoutOCRKeepsMetadataBlock(t *testing.T) {
	rec := &stubRecognizer{enabled: true, result: &ocr.Result{Text: "hidden"}}
	c := NewComposer(rec, "eng")
	req := chat.TurnRequest{Attachments: []*chat.Attachment{attachment("doc.pdf", "application/pdf", []byte("%PDF"))}}

	payload, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)
	assert.Zero(t, rec.pdfCalls)
	assert.Contains(t, payload.Text(), "its content was not read")
	assert.NotContains(t, payload.Text(), "hidden")
}

func TestComposeEmptyTextWithAttachments(t *testing.T) {
	c := NewComposer(nil, "")
	req := chat.TurnRequest{Attachments: []*chat.Attachment{attachment("a.csv", "text/csv", []byte("a,b"))}}
	payload, err := c.Compose(context.Background(), req, Hooks{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload.Text(), defaultFileAsk))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 Bytes", FormatSize(0))
	assert.Equal(t, "512 Bytes", FormatSize(512))
	assert.Equal(t, "1 KB", FormatSize(1024))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2 MB", FormatSize(2*1024*1024))
}

func TestMeasure(t *testing.T) {
	assert.Equal(t, TextStats{}, Measure(""))
	assert.Equal(t, TextStats{Lines: 2, Words: 2, Characters: 7}, Measure("abc\ndef"))
	assert.Equal(t, TextStats{Lines: 1, Words: 1, Characters: 3}, Measure("héé"))
}
