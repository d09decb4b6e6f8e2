package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
)

// Greeting opens every new conversation.
const Greeting = "Hello! I'm your AI assistant powered by Gemini. I can help you with text conversations, analyze images, transcribe audio, process files, search the web, and even generate images. What would you like to explore today?"

var ErrConversationNotFound = errors.New("conversation not found")

type conversation struct {
	meta     chat.Conversation
	messages []chat.Message
}

// Service keeps live conversation transcripts in memory.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

func NewService() *Service {
	return &Service{conversations: make(map[string]*conversation)}
}

// CreateConversation starts a transcript seeded with the greeting.
func (s *Service) CreateConversation(_ context.Context) chat.Conversation {
	conv := &conversation{
		meta: chat.Conversation{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		},
		messages: make([]chat.Message, 0, 16),
	}
	conv.messages = append(conv.messages, chat.NewMessage(chat.RoleAssistant, Greeting))

	s.mu.Lock()
	s.conversations[conv.meta.ID] = conv
	s.mu.Unlock()
	return conv.meta
}

func (s *Service) Conversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv.meta, nil
}

// AppendMessage adds a message to the end of the transcript. Missing ids
// and timestamps are filled in.
func (s *Service) AppendMessage(_ context.Context, id string, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Message{}, ErrConversationNotFound
	}
	conv.messages = append(conv.messages, msg)
	return msg, nil
}

// Transcript returns a copy of the messages.
func (s *Service) Transcript(_ context.Context, id string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	copied := make([]chat.Message, len(conv.messages))
	copy(copied, conv.messages)
	return copied, nil
}

// ReplaceTranscript swaps the whole transcript, as when a saved session is
// loaded, and links the conversation to that session.
func (s *Service) ReplaceTranscript(_ context.Context, id, sessionID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.messages = append(make([]chat.Message, 0, len(messages)), messages...)
	conv.meta.SessionID = sessionID
	return nil
}

func (s *Service) SetSessionID(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.meta.SessionID = sessionID
	return nil
}

// SessionID returns the saved session the conversation is linked to, or "".
func (s *Service) SessionID(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return "", ErrConversationNotFound
	}
	return conv.meta.SessionID, nil
}

func (s *Service) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}
