package speech

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

// builtinVoices is used when no catalog file is configured.
var builtinVoices = []voice.Voice{
	{ID: DefaultVoice, Name: "Amy", Lang: "en-US", Default: true},
	{ID: "en_male_corey_emo_v2_mars_bigtts", Name: "Corey", Lang: "en-GB"},
	{ID: "en_female_skye_emo_v2_mars_bigtts", Name: "Skye", Lang: "en-US"},
	{ID: "zh_female_vv_uranus_bigtts", Name: "Vivi", Lang: "zh-CN"},
}

// VoiceCatalog holds the voice list, optionally loaded from a JSON file and
// reloaded whenever that file changes.
type VoiceCatalog struct {
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	voices    []voice.Voice
	listeners map[int]func()
	nextID    int

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	log     *log.Logger
}

// NewVoiceCatalog loads path, or the builtin list when path is empty.
func NewVoiceCatalog(path string) (*VoiceCatalog, error) {
	c := &VoiceCatalog{
		path:      path,
		debounce:  200 * time.Millisecond,
		listeners: make(map[int]func()),
		done:      make(chan struct{}),
		log:       logger.WithPrefix("voices"),
	}
	if path == "" {
		c.voices = append([]voice.Voice(nil), builtinVoices...)
		return c, nil
	}
	voices, err := readCatalog(path)
	if err != nil {
		return nil, err
	}
	c.voices = voices
	return c, nil
}

// Voices returns a copy of the current list.
func (c *VoiceCatalog) Voices() []voice.Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]voice.Voice(nil), c.voices...)
}

// Subscribe registers fn for change notifications.
func (c *VoiceCatalog) Subscribe(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Watch starts reloading on file changes. It is a no-op without a file.
func (c *VoiceCatalog) Watch() error {
	if c.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// 监听目录：编辑器保存时常以替换文件的方式写入
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", c.path, err)
	}
	c.watcher = w

	c.wg.Add(1)
	go c.loop()
	return nil
}

// Close stops watching.
func (c *VoiceCatalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	err := c.watcher.Close()
	c.wg.Wait()
	return err
}

func (c *VoiceCatalog) loop() {
	defer c.wg.Done()

	target := filepath.Clean(c.path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(c.debounce, c.reload)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn("watcher error", "err", err)
		}
	}
}

func (c *VoiceCatalog) reload() {
	voices, err := readCatalog(c.path)
	if err != nil {
		// 保留旧列表
		c.log.Warn("voice catalog reload failed", "path", c.path, "err", err)
		return
	}

	c.mu.Lock()
	c.voices = voices
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.log.Info("voice catalog reloaded", "count", len(voices))
	for _, fn := range listeners {
		fn()
	}
}

func readCatalog(path string) ([]voice.Voice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice catalog: %w", err)
	}
	var voices []voice.Voice
	if err := json.Unmarshal(data, &voices); err != nil {
		return nil, fmt.Errorf("parse voice catalog: %w", err)
	}
	for i, v := range voices {
		if v.ID == "" {
			return nil, fmt.Errorf("voice catalog entry %d has no id", i)
		}
	}
	return voices, nil
}
