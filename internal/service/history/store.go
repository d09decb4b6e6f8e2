package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
)

const (
	// StorageKey is where the session list is kept.
	StorageKey = "akm_bot_chat_history"
	// MaxSessions caps the list; older sessions fall off the end.
	MaxSessions = 50

	titleMaxRunes = 50
	defaultTitle  = "New Chat"
)

// Store keeps saved sessions most-recent-first. Storage failures are logged
// and swallowed so history never breaks a chat turn.
type Store struct {
	kv  KeyValueStore
	now func() time.Time
	// 同进程内串行化读改写；跨进程仍是后写覆盖
	mu  sync.Mutex
	log *log.Logger
}

func NewStore(kv KeyValueStore) *Store {
	return &Store{kv: kv, now: time.Now, log: logger.WithPrefix("history")}
}

// Save prepends a new session and returns its id, or "" on failure.
func (s *Store) Save(ctx context.Context, messages []chat.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read(ctx)
	if err != nil {
		s.log.Error("save: load history failed", "err", err)
		return ""
	}

	now := s.now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     Title(messages),
		Messages:  cloneMessages(messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	sessions = append([]chat.Session{session}, sessions...)
	if len(sessions) > MaxSessions {
		sessions = sessions[:MaxSessions]
	}

	if err := s.write(ctx, sessions); err != nil {
		s.log.Error("save failed", "err", err)
		return ""
	}
	return session.ID
}

// History returns all sessions, or an empty list when storage fails.
func (s *Store) History(ctx context.Context) []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read(ctx)
	if err != nil {
		s.log.Error("load history failed", "err", err)
		return []chat.Session{}
	}
	return sessions
}

// Load returns the session's messages, or nil when it does not exist.
func (s *Store) Load(ctx context.Context, id string) []chat.Message {
	for _, session := range s.History(ctx) {
		if session.ID == id {
			return session.Messages
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read(ctx)
	if err != nil {
		s.log.Error("delete: load history failed", "id", id, "err", err)
		return
	}
	kept := sessions[:0]
	for _, session := range sessions {
		if session.ID != id {
			kept = append(kept, session)
		}
	}
	if err := s.write(ctx, kept); err != nil {
		s.log.Error("delete failed", "id", id, "err", err)
	}
}

// Update replaces the messages of an existing session. It reports false when
// the id is no longer stored (deleted, cleared or evicted past MaxSessions).
// Storage failures are logged and count as found.
func (s *Store) Update(ctx context.Context, id string, messages []chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.read(ctx)
	if err != nil {
		s.log.Error("update: load history failed", "id", id, "err", err)
		return true
	}
	for i := range sessions {
		if sessions[i].ID != id {
			continue
		}
		sessions[i].Messages = cloneMessages(messages)
		sessions[i].UpdatedAt = s.now().UTC()
		if err := s.write(ctx, sessions); err != nil {
			s.log.Error("update failed", "id", id, "err", err)
		}
		return true
	}
	return false
}

func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		s.log.Error("clear failed", "err", err)
	}
}

// Title is the first user message cut to 50 characters, or "New Chat".
func Title(messages []chat.Message) string {
	text, ok := chat.FirstUserText(messages)
	if !ok {
		return defaultTitle
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	return string([]rune(text)[:titleMaxRunes]) + "..."
}

func (s *Store) read(ctx context.Context) ([]chat.Session, error) {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []chat.Session{}, nil
	}
	var sessions []chat.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) write(ctx context.Context, sessions []chat.Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, StorageKey, string(data))
}

func cloneMessages(messages []chat.Message) []chat.Message {
	if messages == nil {
		return []chat.Message{}
	}
	return append([]chat.Message(nil), messages...)
}
