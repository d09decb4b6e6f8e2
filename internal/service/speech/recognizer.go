package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

// AudioSource is the microphone: each Open yields one capture that ends at
// EOF or when the returned reader is closed.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ClipSource replays a recorded clip.
type ClipSource []byte

func (c ClipSource) Open(context.Context) (io.ReadCloser, error) {
	if len(c) == 0 {
		return nil, errors.New("audio clip is empty")
	}
	return io.NopCloser(bytes.NewReader(c)), nil
}

// StreamSource is fed by a live client, one capture at a time.
type StreamSource struct {
	mu sync.Mutex
	pw *io.PipeWriter
}

func (s *StreamSource) Open(context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	s.mu.Lock()
	if s.pw != nil {
		s.pw.Close()
	}
	s.pw = pw
	s.mu.Unlock()
	return pr, nil
}

// Write forwards audio to the open capture; it is dropped when none is open.
func (s *StreamSource) Write(p []byte) (int, error) {
	s.mu.Lock()
	pw := s.pw
	s.mu.Unlock()
	if pw == nil {
		return len(p), nil
	}
	return pw.Write(p)
}

// End finishes the current capture.
func (s *StreamSource) End() {
	s.mu.Lock()
	if s.pw != nil {
		s.pw.Close()
		s.pw = nil
	}
	s.mu.Unlock()
}

// RecognizerFactory builds voice recognizers backed by the ASR client.
type RecognizerFactory struct {
	Client *ASRClient
	Source AudioSource
}

func (f RecognizerFactory) NewRecognizer(settings voice.RecognitionSettings, events voice.RecognitionEvents) (voice.Recognizer, error) {
	if f.Client == nil || f.Source == nil || !f.Client.cfg.Enabled() {
		return nil, voice.ErrUnsupported
	}
	return &recognizer{client: f.Client, source: f.Source, lang: settings.Lang, events: events}, nil
}

// recognizer 单句识别：采集结束后给出一个结果，不会自动重启。
type recognizer struct {
	client *ASRClient
	source AudioSource
	lang   string
	events voice.RecognitionEvents

	mu      sync.Mutex
	capture io.ReadCloser
}

func (r *recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.capture != nil {
		r.mu.Unlock()
		return errors.New("recognition already started")
	}
	capture, err := r.source.Open(ctx)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.capture = capture
	r.mu.Unlock()

	r.fire(r.events.OnStart)
	go r.run(ctx, capture)
	return nil
}

func (r *recognizer) run(ctx context.Context, capture io.ReadCloser) {
	defer func() {
		r.mu.Lock()
		r.capture = nil
		r.mu.Unlock()
		r.fire(r.events.OnEnd)
	}()
	defer capture.Close()

	t, err := r.client.Transcribe(ctx, capture, r.lang)
	if err != nil {
		if r.events.OnError != nil {
			r.events.OnError(err)
		}
		return
	}
	if r.events.OnResult != nil {
		r.events.OnResult(t.Text)
	}
}

// Stop ends the capture; the final result is still delivered.
func (r *recognizer) Stop() {
	r.mu.Lock()
	capture := r.capture
	r.mu.Unlock()
	if capture != nil {
		capture.Close()
	}
}

func (r *recognizer) fire(fn func()) {
	if fn != nil {
		fn()
	}
}
