package voice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSynth struct {
	voices    []Voice
	spoken    []Utterance
	events    []UtteranceEvents
	cancels   int
	pauses    int
	resumes   int
	listeners []func()
	unsubbed  bool
}

func (s *fakeSynth) Speak(u Utterance, ev UtteranceEvents) {
	s.spoken = append(s.spoken, u)
	s.events = append(s.events, ev)
}
func (s *fakeSynth) Cancel()         { s.cancels++ }
func (s *fakeSynth) Pause()          { s.pauses++ }
func (s *fakeSynth) Resume()         { s.resumes++ }
func (s *fakeSynth) Voices() []Voice { return s.voices }
func (s *fakeSynth) OnVoicesChanged(fn func()) func() {
	s.listeners = append(s.listeners, fn)
	return func() { s.unsubbed = true }
}

func (s *fakeSynth) last() UtteranceEvents { return s.events[len(s.events)-1] }

func TestOutputUnsupported(t *testing.T) {
	out := NewOutput(nil)
	out.Speak("hi", Options{})
	out.Pause()
	out.Resume()
	out.Stop()
	assert.False(t, out.Supported())
	assert.False(t, out.IsSpeaking())
	assert.Empty(t, out.Voices())
}

func TestOutputSpeakDefaults(t *testing.T) {
	synth := &fakeSynth{voices: []Voice{
		{ID: "zh", Lang: "zh-CN"},
		{ID: "amy", Lang: "en-US"},
		{ID: "bob", Lang: "en-GB"},
	}}
	out := NewOutput(synth)

	out.Speak("hello", Options{Rate: 1.5})
	require.Len(t, synth.spoken, 1)
	u := synth.spoken[0]
	assert.Equal(t, 1.5, u.Rate)
	assert.Equal(t, 1.0, u.Pitch)
	assert.Equal(t, 1.0, u.Volume)
	require.NotNil(t, u.Voice)
	assert.Equal(t, "amy", u.Voice.ID)
	assert.Equal(t, 1, synth.cancels, "speak cancels first")

	out.Speak("again", Options{Voice: &Voice{ID: "custom"}})
	assert.Equal(t, "custom", synth.spoken[1].Voice.ID)
}

func TestOutputIgnoresBlankText(t *testing.T) {
	synth := &fakeSynth{}
	out := NewOutput(synth)
	out.Speak("   \n", Options{})
	assert.Empty(t, synth.spoken)
	assert.Zero(t, synth.cancels)
}

func TestOutputStateMachine(t *testing.T) {
	synth := &fakeSynth{}
	out := NewOutput(synth)

	out.Pause()
	assert.Zero(t, synth.pauses, "pause is a no-op while idle")

	out.Speak("text", Options{})
	synth.last().OnStart()
	assert.Equal(t, OutputSpeaking, out.State())

	out.Pause()
	assert.Equal(t, OutputPaused, out.State())
	assert.True(t, out.IsSpeaking())

	out.Resume()
	assert.Equal(t, OutputSpeaking, out.State())
	assert.Equal(t, 1, synth.pauses)
	assert.Equal(t, 1, synth.resumes)

	synth.last().OnEnd()
	assert.Equal(t, OutputIdle, out.State())
}

func TestOutputErrorAndStop(t *testing.T) {
	synth := &fakeSynth{}
	out := NewOutput(synth)

	out.Speak("one", Options{})
	synth.last().OnStart()
	synth.last().OnError(errors.New("boom"))
	assert.False(t, out.IsSpeaking())

	out.Speak("two", Options{})
	synth.last().OnStart()
	out.Stop()
	assert.False(t, out.IsSpeaking())
}

func TestOutputIgnoresSupersededEvents(t *testing.T) {
	synth := &fakeSynth{}
	out := NewOutput(synth)

	out.Speak("first", Options{})
	first := synth.last()
	first.OnStart()

	out.Speak("second", Options{})
	second := synth.last()
	second.OnStart()

	first.OnEnd()
	assert.True(t, out.IsSpeaking())

	second.OnEnd()
	assert.False(t, out.IsSpeaking())
}

func TestOutputRefreshesVoices(t *testing.T) {
	synth := &fakeSynth{voices: []Voice{{ID: "a", Lang: "en-US"}}}
	out := NewOutput(synth)
	assert.Len(t, out.Voices(), 1)

	synth.voices = append(synth.voices, Voice{ID: "b", Lang: "fr-FR"})
	for _, fn := range synth.listeners {
		fn()
	}
	assert.Len(t, out.Voices(), 2)

	out.Close()
	assert.True(t, synth.unsubbed)
}

func TestUnsupportedCapabilityError(t *testing.T) {
	err := &UnsupportedCapabilityError{Capability: "speech synthesis"}
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "speech synthesis is not supported in this environment", err.Error())
}
