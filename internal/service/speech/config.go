package speech

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	DefaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
)

// Config 火山引擎语音配置
type Config struct {
	AppID          string
	AccessToken    string
	APIKey         string // 兼容旧配置
	ConcurrentMode bool   // ASR并发版，false为小时版

	ASRURL      string
	ASRLanguage string
	ASRFormat   string

	TTSURL      string
	TTSVoice    string
	TTSFormat   string
	TTSLanguage string

	// PlaybackChunk 与 PlaybackPace 控制向 AudioSink 推送音频的节奏
	PlaybackChunk int
	PlaybackPace  time.Duration

	VoiceCatalogPath string
	Timeout          time.Duration
}

// Enabled reports whether credentials are present at all.
func (c Config) Enabled() bool {
	_, _, err := c.credentials()
	return err == nil
}

// credentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func (c Config) credentials() (string, string, error) {
	appID := strings.TrimSpace(c.AppID)
	token := strings.TrimSpace(c.AccessToken)
	if token == "" {
		token = strings.TrimSpace(c.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("volcengine speech config is missing AppID or AccessToken")
	}
	return appID, token, nil
}

func (c Config) asrURL() string {
	if c.ASRURL != "" {
		return c.ASRURL
	}
	return DefaultASRURL
}

func (c Config) ttsURL() string {
	if c.TTSURL != "" {
		return c.TTSURL
	}
	return DefaultTTSURL
}

func (c Config) asrResourceID() string {
	if c.ConcurrentMode {
		return "volc.bigasr.sauc.concurrent"
	}
	return "volc.bigasr.sauc.duration"
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}
