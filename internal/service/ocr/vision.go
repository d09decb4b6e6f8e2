package ocr

import (
	"encoding/json"
	"fmt"
	"strings"
)

const visionPromptTemplate = `You are an OCR engine. Transcribe every piece of text visible in the attached document exactly as written, preserving line breaks and reading order. Expected language(s): %s.
Respond with JSON only, no markdown, using this shape:
{"text": "<full transcription>", "confidence": <0-100 overall confidence>, "words": [{"text": "<word>", "confidence": <0-100>, "bbox": {"x0": <int>, "y0": <int>, "x1": <int>, "y1": <int>}}]}
If there is no text, return {"text": "", "confidence": 0, "words": []}.`

func visionPrompt(language string) string {
	return fmt.Sprintf(visionPromptTemplate, languageName(language))
}

// parseVisionResult decodes the model reply. Replies that are not JSON are
// kept as plain text with zero confidence.
func parseVisionResult(raw string) *Result {
	body := stripCodeFence(strings.TrimSpace(raw))

	var result Result
	if err := json.Unmarshal([]byte(body), &result); err == nil {
		return &result
	}

	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(body[start:end+1]), &result); err == nil {
			return &result
		}
	}

	return &Result{Text: body}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
