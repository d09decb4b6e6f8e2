package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
)

func init() {
	logger.SetOutput(io.Discard)
}

func conversation(userText string) []chat.Message {
	return []chat.Message{
		chat.NewMessage(chat.RoleAssistant, "Hello! How can I help?"),
		chat.NewMessage(chat.RoleUser, userText),
		chat.NewMessage(chat.RoleAssistant, "Sure."),
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV())

	id := store.Save(ctx, conversation("What is Go?"))
	require.NotEmpty(t, id)

	sessions := store.History(ctx)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "What is Go?", sessions[0].Title)
	assert.Equal(t, sessions[0].CreatedAt, sessions[0].UpdatedAt)

	msgs := store.Load(ctx, id)
	require.Len(t, msgs, 3)
	assert.Equal(t, "What is Go?", msgs[1].Text)

	assert.Nil(t, store.Load(ctx, "missing"))
}

func TestSaveKeepsMostRecentFifty(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV())

	var ids []string
	for i := 0; i < MaxSessions+1; i++ {
		ids = append(ids, store.Save(ctx, conversation(fmt.Sprintf("question %d", i))))
	}

	sessions := store.History(ctx)
	require.Len(t, sessions, MaxSessions)
	assert.Equal(t, ids[MaxSessions], sessions[0].ID)
	assert.Equal(t, "question 50", sessions[0].Title)
	assert.Equal(t, ids[1], sessions[MaxSessions-1].ID)
	assert.Nil(t, store.Load(ctx, ids[0]))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "New Chat", Title(nil))
	assert.Equal(t, "New Chat", Title([]chat.Message{chat.NewMessage(chat.RoleAssistant, "hi")}))

	long := strings.Repeat("a", 60)
	assert.Equal(t, strings.Repeat("a", 50)+"...", Title(conversation(long)))
	assert.Equal(t, strings.Repeat("a", 50), Title(conversation(strings.Repeat("a", 50))))

	// 按字符截断
	assert.Equal(t, strings.Repeat("你", 50)+"...", Title(conversation(strings.Repeat("你", 51))))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV())
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return created }

	id := store.Save(ctx, conversation("first"))
	store.now = func() time.Time { return created.Add(time.Hour) }

	updated := append(conversation("first"), chat.NewMessage(chat.RoleUser, "more"))
	assert.True(t, store.Update(ctx, id, updated))

	sessions := store.History(ctx)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Messages, 4)
	assert.Equal(t, "first", sessions[0].Title)
	assert.True(t, sessions[0].CreatedAt.Equal(created))
	assert.True(t, sessions[0].UpdatedAt.Equal(created.Add(time.Hour)))

	assert.False(t, store.Update(ctx, "missing", nil))
	assert.Len(t, store.History(ctx), 1)

	store.Delete(ctx, id)
	assert.False(t, store.Update(ctx, id, updated))
	assert.Empty(t, store.History(ctx))
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV())

	a := store.Save(ctx, conversation("a"))
	b := store.Save(ctx, conversation("b"))

	store.Delete(ctx, a)
	sessions := store.History(ctx)
	require.Len(t, sessions, 1)
	assert.Equal(t, b, sessions[0].ID)

	store.Delete(ctx, "missing")
	assert.Len(t, store.History(ctx), 1)

	store.Clear(ctx)
	assert.Empty(t, store.History(ctx))
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}
func (failingKV) Set(context.Context, string, string) error { return errors.New("disk on fire") }
func (failingKV) Delete(context.Context, string) error      { return errors.New("disk on fire") }

func TestStorageFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	store := NewStore(failingKV{})

	assert.Empty(t, store.Save(ctx, conversation("x")))
	assert.NotNil(t, store.History(ctx))
	assert.Empty(t, store.History(ctx))
	assert.Nil(t, store.Load(ctx, "x"))
	assert.True(t, store.Update(ctx, "x", nil))
	store.Delete(ctx, "x")
	store.Clear(ctx)
}

func TestCorruptPayloadReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, StorageKey, "{not json"))

	store := NewStore(kv)
	assert.Empty(t, store.History(ctx))
}

func TestSQLiteKV(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	kv, err := OpenSQLite(ctx, path)
	require.NoError(t, err)

	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", "v1"))
	require.NoError(t, kv.Set(ctx, "k", "v2"))
	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	store := NewStore(kv)
	id := store.Save(ctx, conversation("persisted"))
	require.NoError(t, kv.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	msgs := NewStore(reopened).Load(ctx, id)
	require.Len(t, msgs, 3)
	assert.Equal(t, "persisted", msgs[1].Text)

	require.NoError(t, reopened.Delete(ctx, "k"))
	_, ok, err = reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
