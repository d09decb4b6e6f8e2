package voice

import (
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

// OutputState 语音播放状态。
type OutputState int

const (
	OutputIdle OutputState = iota
	OutputSpeaking
	OutputPaused
)

func (s OutputState) String() string {
	switch s {
	case OutputSpeaking:
		return "speaking"
	case OutputPaused:
		return "paused"
	default:
		return "idle"
	}
}

// Voice describes one synthesizer voice.
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Options for a single Speak call. Zero values fall back to 1.
type Options struct {
	Rate   float64
	Pitch  float64
	Volume float64
	Voice  *Voice
}

// Utterance is what the synthesizer is asked to play.
type Utterance struct {
	Text   string
	Rate   float64
	Pitch  float64
	Volume float64
	Voice  *Voice
}

// UtteranceEvents fire at most once each per utterance.
type UtteranceEvents struct {
	OnStart func()
	OnEnd   func()
	OnError func(err error)
}

// Synthesizer plays one utterance at a time. Speak must not block on
// playback.
type Synthesizer interface {
	Speak(u Utterance, events UtteranceEvents)
	Cancel()
	Pause()
	Resume()
	Voices() []Voice
	// OnVoicesChanged registers fn and returns a function that removes it.
	OnVoicesChanged(fn func()) (unsubscribe func())
}

// Output is the speak/pause/resume/stop state machine over a Synthesizer.
type Output struct {
	mu          sync.Mutex
	synth       Synthesizer
	state       OutputState
	voices      []Voice
	generation  uint64
	unsubscribe func()
	log         *log.Logger
}

// NewOutput loads the voice list and follows catalog changes. A nil
// synthesizer gives an unsupported adapter on which every call is a no-op.
func NewOutput(synth Synthesizer) *Output {
	out := &Output{synth: synth, log: logger.WithPrefix("voice-output")}
	if synth != nil {
		out.loadVoices()
		out.unsubscribe = synth.OnVoicesChanged(out.loadVoices)
	}
	return out
}

func (o *Output) Supported() bool { return o.synth != nil }

// Speak cancels whatever is playing and starts text. Blank text is ignored.
func (o *Output) Speak(text string, opts Options) {
	if o.synth == nil || strings.TrimSpace(text) == "" {
		return
	}

	o.synth.Cancel()

	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.state = OutputIdle
	u := Utterance{
		Text:   text,
		Rate:   orOne(opts.Rate),
		Pitch:  orOne(opts.Pitch),
		Volume: orOne(opts.Volume),
		Voice:  opts.Voice,
	}
	if u.Voice == nil {
		u.Voice = firstEnglish(o.voices)
	}
	o.mu.Unlock()

	o.synth.Speak(u, UtteranceEvents{
		OnStart: func() { o.transition(gen, OutputSpeaking) },
		OnEnd:   func() { o.transition(gen, OutputIdle) },
		OnError: func(err error) {
			o.log.Warn("utterance failed", "err", err)
			o.transition(gen, OutputIdle)
		},
	})
}

// Stop cancels immediately.
func (o *Output) Stop() {
	if o.synth == nil {
		return
	}
	o.synth.Cancel()
	o.mu.Lock()
	o.generation++
	o.state = OutputIdle
	o.mu.Unlock()
}

// Pause only has an effect while speaking.
func (o *Output) Pause() {
	if o.synth == nil {
		return
	}
	o.mu.Lock()
	if o.state != OutputSpeaking {
		o.mu.Unlock()
		return
	}
	o.state = OutputPaused
	o.mu.Unlock()
	o.synth.Pause()
}

func (o *Output) Resume() {
	if o.synth == nil {
		return
	}
	o.mu.Lock()
	if o.state != OutputPaused {
		o.mu.Unlock()
		return
	}
	o.state = OutputSpeaking
	o.mu.Unlock()
	o.synth.Resume()
}

// IsSpeaking is true while an utterance is playing or paused.
func (o *Output) IsSpeaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != OutputIdle
}

func (o *Output) State() OutputState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Voices returns a copy of the last loaded catalog.
func (o *Output) Voices() []Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Voice(nil), o.voices...)
}

// Close detaches from the synthesizer's catalog notifications.
func (o *Output) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Output) loadVoices() {
	voices := o.synth.Voices()
	o.mu.Lock()
	o.voices = voices
	o.mu.Unlock()
	o.log.Debug("voices loaded", "count", len(voices))
}

// transition ignores events from utterances that were superseded.
func (o *Output) transition(gen uint64, next OutputState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return
	}
	if next == OutputSpeaking && o.state == OutputPaused {
		return
	}
	o.state = next
}

func firstEnglish(voices []Voice) *Voice {
	for i := range voices {
		if strings.HasPrefix(voices[i].Lang, "en") {
			v := voices[i]
			return &v
		}
	}
	return nil
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
