package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

const (
	msgRecognitionUnsupported = "Speech recognition is not supported in this environment"
	msgMicrophoneDenied       = "Microphone access denied or not available"
)

// InputState 语音输入状态。
type InputState int

const (
	InputIdle InputState = iota
	InputPermissionRequested
	InputRecording
)

func (s InputState) String() string {
	switch s {
	case InputPermissionRequested:
		return "permission-requested"
	case InputRecording:
		return "recording"
	default:
		return "idle"
	}
}

// RecognitionSettings are fixed for the lifetime of a recognizer.
type RecognitionSettings struct {
	Continuous      bool
	InterimResults  bool
	Lang            string
	MaxAlternatives int
}

// DefaultRecognitionSettings 单句、仅最终结果、英文。
func DefaultRecognitionSettings() RecognitionSettings {
	return RecognitionSettings{Continuous: false, InterimResults: false, Lang: "en-US", MaxAlternatives: 1}
}

// RecognitionEvents are invoked by the recognizer, possibly from other
// goroutines.
type RecognitionEvents struct {
	OnStart  func()
	OnResult func(transcript string)
	OnError  func(err error)
	OnEnd    func()
}

// Recognizer is one recognition engine instance. Start returns once the
// capture has been requested; results arrive through RecognitionEvents.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop()
}

// RecognizerFactory builds a recognizer. Returning ErrUnsupported marks the
// capability as absent.
type RecognizerFactory interface {
	NewRecognizer(settings RecognitionSettings, events RecognitionEvents) (Recognizer, error)
}

// PermissionRequester asks the device for microphone access.
type PermissionRequester interface {
	RequestMicrophone(ctx context.Context) error
}

// InputHandlers receive the adapter's user-facing output.
type InputHandlers struct {
	OnTranscript func(text string)
	OnError      func(message string)
}

// Input is the start/stop/toggle state machine over a Recognizer. It never
// restarts recognition on its own.
type Input struct {
	mu         sync.Mutex
	factory    RecognizerFactory
	permission PermissionRequester
	handlers   InputHandlers
	recognizer Recognizer
	state      InputState
	// attempt 每次 Start/Stop 递增，用来识别等待授权期间被取消的启动
	attempt uint64
	log     *log.Logger
}

// NewInput accepts a nil factory (no recognition) and a nil permission
// requester (access always granted).
func NewInput(factory RecognizerFactory, permission PermissionRequester, handlers InputHandlers) *Input {
	return &Input{
		factory:    factory,
		permission: permission,
		handlers:   handlers,
		log:        logger.WithPrefix("voice-input"),
	}
}

// Start requests the microphone and begins recognition. Every failure is
// reported through OnError and also returned.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.factory == nil {
		in.mu.Unlock()
		in.reportError(msgRecognitionUnsupported)
		return &UnsupportedCapabilityError{Capability: "speech recognition"}
	}
	if in.state != InputIdle {
		in.mu.Unlock()
		return nil
	}
	in.state = InputPermissionRequested
	in.attempt++
	attempt := in.attempt
	in.mu.Unlock()

	if in.permission != nil {
		err := in.permission.RequestMicrophone(ctx)
		if !in.stillPending(attempt) {
			in.log.Debug("start cancelled while waiting for microphone permission")
			return nil
		}
		if err != nil {
			in.log.Warn("microphone permission failed", "err", err)
			in.setState(InputIdle)
			in.reportError(msgMicrophoneDenied)
			return err
		}
	}

	rec, err := in.ensureRecognizer()
	if err != nil {
		in.setState(InputIdle)
		if errors.Is(err, ErrUnsupported) {
			in.reportError(msgRecognitionUnsupported)
			return &UnsupportedCapabilityError{Capability: "speech recognition"}
		}
		in.reportError(msgMicrophoneDenied)
		return err
	}

	if err := rec.Start(ctx); err != nil {
		in.setState(InputIdle)
		in.reportError("Speech recognition error: " + err.Error())
		return err
	}
	return nil
}

// Stop ends capture. A pending final result may still be delivered.
func (in *Input) Stop() {
	in.mu.Lock()
	rec := in.recognizer
	in.state = InputIdle
	in.attempt++
	in.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
}

// stillPending reports whether the given Start has not been stopped or
// superseded.
func (in *Input) stillPending(attempt uint64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state == InputPermissionRequested && in.attempt == attempt
}

// Toggle starts when idle and stops otherwise.
func (in *Input) Toggle(ctx context.Context) error {
	if in.IsRecording() {
		in.Stop()
		return nil
	}
	return in.Start(ctx)
}

func (in *Input) IsRecording() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state == InputRecording
}

func (in *Input) State() InputState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Supported reports whether a recognizer has been built.
func (in *Input) Supported() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.recognizer != nil
}

func (in *Input) ensureRecognizer() (Recognizer, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.recognizer != nil {
		return in.recognizer, nil
	}

	rec, err := in.factory.NewRecognizer(DefaultRecognitionSettings(), RecognitionEvents{
		OnStart: func() {
			in.log.Debug("recognition started")
			in.setState(InputRecording)
		},
		OnResult: func(transcript string) {
			in.log.Debug("recognition result", "chars", len(transcript))
			if in.handlers.OnTranscript != nil {
				in.handlers.OnTranscript(transcript)
			}
		},
		OnError: func(err error) {
			in.log.Error("recognition error", "err", err)
			in.setState(InputIdle)
			in.reportError("Speech recognition error: " + err.Error())
		},
		OnEnd: func() {
			in.log.Debug("recognition ended")
			in.setState(InputIdle)
		},
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrUnsupported
	}
	in.recognizer = rec
	return rec, nil
}

func (in *Input) setState(s InputState) {
	in.mu.Lock()
	in.state = s
	in.mu.Unlock()
}

func (in *Input) reportError(msg string) {
	if in.handlers.OnError != nil {
		in.handlers.OnError(msg)
	}
}
