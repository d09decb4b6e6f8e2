package speech

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

const (
	defaultPlaybackChunk = 8 * 1024
	defaultPlaybackPace  = 100 * time.Millisecond
)

// AudioSink is the speaker. final marks the last chunk of an utterance.
type AudioSink interface {
	WriteAudio(chunk []byte, format string, final bool) error
}

// AudioSinkFunc adapts a function to AudioSink.
type AudioSinkFunc func(chunk []byte, format string, final bool) error

func (f AudioSinkFunc) WriteAudio(chunk []byte, format string, final bool) error {
	return f(chunk, format, final)
}

// Synthesizer implements voice.Synthesizer: it synthesizes the whole
// utterance, then plays it into the sink in paced chunks.
type Synthesizer struct {
	client  *TTSClient
	catalog *VoiceCatalog
	sink    AudioSink
	chunk   int
	pace    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	gate   *playGate
	log    *log.Logger
}

func NewSynthesizer(client *TTSClient, catalog *VoiceCatalog, sink AudioSink) *Synthesizer {
	chunk, pace := client.cfg.PlaybackChunk, client.cfg.PlaybackPace
	if chunk <= 0 {
		chunk = defaultPlaybackChunk
	}
	if pace < 0 {
		pace = 0
	} else if pace == 0 {
		pace = defaultPlaybackPace
	}
	return &Synthesizer{
		client:  client,
		catalog: catalog,
		sink:    sink,
		chunk:   chunk,
		pace:    pace,
		log:     logger.WithPrefix("synth"),
	}
}

func (s *Synthesizer) Speak(u voice.Utterance, events voice.UtteranceEvents) {
	ctx, cancel := context.WithCancel(context.Background())
	gate := &playGate{}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel, s.gate = cancel, gate
	s.mu.Unlock()

	req := SynthesisRequest{Text: u.Text, Rate: u.Rate, Pitch: u.Pitch, Volume: u.Volume}
	if u.Voice != nil {
		req.Voice = u.Voice.ID
		req.Language = u.Voice.Lang
	}
	go s.run(ctx, cancel, gate, req, events)
}

func (s *Synthesizer) run(ctx context.Context, cancel context.CancelFunc, gate *playGate, req SynthesisRequest, events voice.UtteranceEvents) {
	defer cancel()

	audio, err := s.client.Synthesize(ctx, req)
	if err != nil {
		if ctx.Err() == nil && events.OnError != nil {
			events.OnError(err)
		}
		return
	}

	if events.OnStart != nil {
		events.OnStart()
	}
	if err := play(ctx, s.sink, audio, s.chunk, s.pace, gate); err != nil {
		if ctx.Err() != nil {
			s.log.Debug("playback cancelled")
		} else if events.OnError != nil {
			events.OnError(err)
		}
		return
	}
	if events.OnEnd != nil {
		events.OnEnd()
	}
}

// Cancel stops synthesis or playback of the current utterance.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel, s.gate = nil, nil
	}
}

func (s *Synthesizer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		s.gate.pause()
	}
}

func (s *Synthesizer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		s.gate.release()
	}
}

func (s *Synthesizer) Voices() []voice.Voice {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Voices()
}

func (s *Synthesizer) OnVoicesChanged(fn func()) func() {
	if s.catalog == nil {
		return func() {}
	}
	return s.catalog.Subscribe(fn)
}

// Play writes audio to sink in chunks, waiting pace between chunks.
func Play(ctx context.Context, sink AudioSink, audio *Audio, chunk int, pace time.Duration) error {
	return play(ctx, sink, audio, chunk, pace, nil)
}

func play(ctx context.Context, sink AudioSink, audio *Audio, chunk int, pace time.Duration, gate *playGate) error {
	if chunk <= 0 {
		chunk = defaultPlaybackChunk
	}
	for off := 0; off < len(audio.Data); off += chunk {
		if gate != nil {
			if err := gate.wait(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(off+chunk, len(audio.Data))
		if err := sink.WriteAudio(audio.Data[off:end], audio.Format, end == len(audio.Data)); err != nil {
			return err
		}
		if end < len(audio.Data) && pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
	}
	return nil
}

// playGate 暂停时阻塞播放循环。
type playGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func (g *playGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *playGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

func (g *playGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resume
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
