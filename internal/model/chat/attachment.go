package chat

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AttachmentKind mirrors the three file pickers of the client.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindAudio AttachmentKind = "audio"
	KindFile  AttachmentKind = "file"
)

// ParseAttachmentKind 未知值按普通文件处理。
func ParseAttachmentKind(raw string) AttachmentKind {
	switch AttachmentKind(raw) {
	case KindImage, KindAudio:
		return AttachmentKind(raw)
	default:
		return KindFile
	}
}

// Source gives access to the raw bytes of a staged file.
type Source interface {
	Open() (io.ReadCloser, error)
}

// BytesSource serves an in-memory upload.
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FileSource serves a file on local disk.
type FileSource string

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(filepath.Clean(string(f)))
}

// File describes a user-selected file before it is staged.
type File struct {
	Name       string
	MimeType   string
	Size       int64
	ModifiedAt time.Time
	Source     Source
}

// Extension returns the lower-case extension without the dot.
func (f File) Extension() string {
	return extension(f.Name)
}

// Attachment is a file staged for the next send.
type Attachment struct {
	ID         string         `json:"id"`
	Kind       AttachmentKind `json:"kind"`
	Name       string         `json:"name"`
	MimeType   string         `json:"mimeType"`
	Size       int64          `json:"sizeBytes"`
	ModifiedAt time.Time      `json:"modifiedAt"`
	PreviewURL string         `json:"previewUrl"`
	Source     Source         `json:"-"`
}

// Extension returns the lower-case extension without the dot.
func (a *Attachment) Extension() string {
	return extension(a.Name)
}

// Ref is the persisted form kept on the message.
func (a *Attachment) Ref() AttachmentRef {
	return AttachmentRef{Kind: a.Kind, Name: a.Name, MimeType: a.MimeType, URL: a.PreviewURL}
}

// AttachmentRef is what a sent message remembers about its files.
type AttachmentRef struct {
	Kind     AttachmentKind `json:"kind"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType,omitempty"`
	URL      string         `json:"url,omitempty"`
}

func extension(name string) string {
	ext := filepath.Ext(name)
	if len(ext) <= 1 {
		return ""
	}
	return strings.ToLower(ext[1:])
}
