package speech

import (
	"context"
	"time"

	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

// clipPace 上传的录音按约实时速率发送
const clipPace = 200 * time.Millisecond

// Service 组合火山引擎 ASR/TTS 客户端与音色目录，为每个连接构建语音引擎。
type Service struct {
	cfg     Config
	asr     *ASRClient
	tts     *TTSClient
	catalog *VoiceCatalog
}

func NewService(cfg Config, catalog *VoiceCatalog) *Service {
	return &Service{
		cfg:     cfg,
		asr:     NewASRClient(cfg),
		tts:     NewTTSClient(cfg),
		catalog: catalog,
	}
}

// Enabled reports whether credentials are configured.
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled()
}

func (s *Service) Catalog() *VoiceCatalog {
	if s == nil {
		return nil
	}
	return s.catalog
}

// Voices lists the catalog voices, or nil when no catalog is loaded.
func (s *Service) Voices() []voice.Voice {
	if s == nil || s.catalog == nil {
		return nil
	}
	return s.catalog.Voices()
}

// RecognizerFactory returns nil when speech is not configured, which makes
// voice.Input report the capability as unsupported.
func (s *Service) RecognizerFactory(src AudioSource) voice.RecognizerFactory {
	if !s.Enabled() {
		return nil
	}
	client := s.asr
	if _, ok := src.(ClipSource); ok {
		client = client.WithPace(clipPace)
	}
	return RecognizerFactory{Client: client, Source: src}
}

// Synthesizer returns nil when speech is not configured.
func (s *Service) Synthesizer(sink AudioSink) voice.Synthesizer {
	if !s.Enabled() {
		return nil
	}
	return NewSynthesizer(s.tts, s.catalog, sink)
}

// SynthesizeTo synthesizes req and writes it to sink without pacing.
func (s *Service) SynthesizeTo(ctx context.Context, req SynthesisRequest, sink AudioSink) (*Audio, error) {
	audio, err := s.tts.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := Play(ctx, sink, audio, s.cfg.PlaybackChunk, 0); err != nil {
		return nil, err
	}
	return audio, nil
}
