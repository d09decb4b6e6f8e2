package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation transcript. It is never edited
// after being appended.
type Message struct {
	ID             string          `json:"id"`
	Role           Role            `json:"role"`
	Text           string          `json:"text"`
	CreatedAt      time.Time       `json:"createdAt"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	GeneratedImage *GeneratedImage `json:"generatedImage,omitempty"`
}

// GeneratedImage carries an image produced by the provider as a data URL.
type GeneratedImage struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

// NewMessage builds a message with a fresh id and UTC timestamp.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// FirstUserText returns the text of the first user message, if any.
func FirstUserText(messages []Message) (string, bool) {
	for _, msg := range messages {
		if msg.Role == RoleUser {
			return msg.Text, true
		}
	}
	return "", false
}
