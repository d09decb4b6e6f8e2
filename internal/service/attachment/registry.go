package attachment

import "sync"

// Registry 按会话维护各自的附件暂存区。
type Registry struct {
	mu       sync.Mutex
	stores   map[string]*Store
	previews PreviewIssuer
}

// NewRegistry 创建附件暂存区注册表，所有暂存区共用同一个预览签发器。
func NewRegistry(previews PreviewIssuer) *Registry {
	return &Registry{
		stores:   make(map[string]*Store),
		previews: previews,
	}
}

// For 返回会话对应的暂存区，不存在时创建。
func (r *Registry) For(conversationID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.stores[conversationID]
	if !ok {
		store = NewStore(r.previews)
		r.stores[conversationID] = store
	}
	return store
}

// Discard 丢弃会话的暂存区并回收其中所有预览地址。
func (r *Registry) Discard(conversationID string) {
	r.mu.Lock()
	store, ok := r.stores[conversationID]
	delete(r.stores, conversationID)
	r.mu.Unlock()

	if ok {
		store.Release(store.Drain())
	}
}
