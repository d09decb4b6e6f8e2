// Package attachment 管理待发送的附件及其临时预览地址。
package attachment

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
)

// ErrIndexOutOfRange 删除时索引越界。
var ErrIndexOutOfRange = errors.New("attachment index out of range")

// PreviewIssuer 负责签发与回收临时预览地址（对应浏览器的 object URL）。
type PreviewIssuer interface {
	Create(att *chat.Attachment) string
	Revoke(url string)
}

// Store 保存下一次发送前暂存的附件列表。
type Store struct {
	mu       sync.Mutex
	pending  []*chat.Attachment
	previews PreviewIssuer
}

// NewStore 创建附件暂存区，previews 为空时不生成预览地址。
func NewStore(previews PreviewIssuer) *Store {
	return &Store{previews: previews}
}

// Add 为文件生成预览地址并追加到待发送列表。
func (s *Store) Add(file chat.File, kind chat.AttachmentKind) *chat.Attachment {
	att := &chat.Attachment{
		ID:         uuid.NewString(),
		Kind:       kind,
		Name:       file.Name,
		MimeType:   file.MimeType,
		Size:       file.Size,
		ModifiedAt: file.ModifiedAt,
		Source:     file.Source,
	}
	if s.previews != nil {
		att.PreviewURL = s.previews.Create(att)
	}

	s.mu.Lock()
	s.pending = append(s.pending, att)
	s.mu.Unlock()
	return att
}

// Remove 回收预览地址并移除对应条目。
func (s *Store) Remove(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.pending) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	att := s.pending[index]
	s.pending = append(s.pending[:index:index], s.pending[index+1:]...)
	s.mu.Unlock()

	s.revoke(att)
	return nil
}

// Drain 原子地取出并清空待发送列表。
func (s *Store) Drain() []*chat.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.pending
	s.pending = nil
	return drained
}

// Release 在发送结束后回收已取出附件的预览地址，重复调用无副作用。
func (s *Store) Release(attachments []*chat.Attachment) {
	for _, att := range attachments {
		s.revoke(att)
	}
}

// List 返回当前待发送附件的快照。
func (s *Store) List() []*chat.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*chat.Attachment, len(s.pending))
	copy(out, s.pending)
	return out
}

// Len 返回待发送附件数量。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// revoke 回收后清空 PreviewURL，同一附件至多回收一次
func (s *Store) revoke(att *chat.Attachment) {
	if att == nil || s.previews == nil {
		return
	}

	s.mu.Lock()
	url := att.PreviewURL
	att.PreviewURL = ""
	s.mu.Unlock()

	if url != "" {
		s.previews.Revoke(url)
	}
}
