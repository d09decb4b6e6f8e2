package attachment

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
)

type countingIssuer struct {
	mu      sync.Mutex
	next    int
	revoked map[string]int
}

func newCountingIssuer() *countingIssuer {
	return &countingIssuer{revoked: make(map[string]int)}
}

func (c *countingIssuer) Create(att *chat.Attachment) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return "blob:" + att.Name + ":" + string(rune('a'+c.next))
}

func (c *countingIssuer) Revoke(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[url]++
}

func file(name string) chat.File {
	return chat.File{Name: name, MimeType: "text/plain", Size: 3, Source: chat.BytesSource("abc")}
}

func TestRemoveRevokesExactlyOnce(t *testing.T) {
	issuer := newCountingIssuer()
	store := NewStore(issuer)

	first := store.Add(file("a.txt"), chat.KindFile)
	second := store.Add(file("b.txt"), chat.KindFile)
	firstURL := first.PreviewURL

	require.NoError(t, store.Remove(0))
	assert.Equal(t, 1, issuer.revoked[firstURL])
	assert.Empty(t, first.PreviewURL)
	assert.Zero(t, issuer.revoked[second.PreviewURL])

	remaining := store.List()
	require.Len(t, remaining, 1)
	assert.Equal(t, second.ID, remaining[0].ID)

	store.Release([]*chat.Attachment{first})
	assert.Equal(t, 1, issuer.revoked[firstURL], "release after remove must not revoke twice")
}

func TestRemoveOutOfRange(t *testing.T) {
	store := NewStore(newCountingIssuer())
	err := store.Remove(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestDrainExcludesLaterAdds(t *testing.T) {
	issuer := newCountingIssuer()
	store := NewStore(issuer)
	store.Add(file("a.txt"), chat.KindFile)
	store.Add(file("b.png"), chat.KindImage)

	drained := store.Drain()
	late := store.Add(file("c.txt"), chat.KindFile)
	urls := make([]string, 0, len(drained))
	for _, att := range drained {
		urls = append(urls, att.PreviewURL)
	}

	require.Len(t, drained, 2)
	for _, att := range drained {
		assert.NotEqual(t, late.ID, att.ID)
	}
	assert.Equal(t, 1, store.Len())

	store.Release(drained)
	store.Release(drained)
	for i, att := range drained {
		assert.Equal(t, 1, issuer.revoked[urls[i]])
		assert.Empty(t, att.PreviewURL)
	}
	assert.Zero(t, issuer.revoked[late.PreviewURL])
	assert.Len(t, issuer.revoked, 2)
}

func TestRegistryDiscardReleasesPending(t *testing.T) {
	issuer := newCountingIssuer()
	registry := NewRegistry(issuer)

	att := registry.For("conv-1").Add(file("a.txt"), chat.KindFile)
	url := att.PreviewURL
	assert.Same(t, registry.For("conv-1"), registry.For("conv-1"))

	registry.Discard("conv-1")
	assert.Equal(t, 1, issuer.revoked[url])
	assert.Zero(t, registry.For("conv-1").Len())
}

func TestPreviewServerLifecycle(t *testing.T) {
	previews := NewPreviewServer("/previews")
	store := NewStore(previews)
	att := store.Add(chat.File{Name: "hello.txt", MimeType: "text/plain", Source: chat.BytesSource("hello")}, chat.KindFile)
	url := att.PreviewURL

	r := chi.NewRouter()
	previews.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))

	require.NoError(t, store.Remove(0))
	assert.Zero(t, previews.Active())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRepeatedSendsRevokeEachPreviewOnce(t *testing.T) {
	issuer := newCountingIssuer()
	store := NewStore(issuer)

	for i := 0; i < 100; i++ {
		store.Add(file("a.txt"), chat.KindFile)
		store.Release(store.Drain())
	}
	assert.Len(t, issuer.revoked, 100)
	for _, n := range issuer.revoked {
		assert.Equal(t, 1, n)
	}
}
