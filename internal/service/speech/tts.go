package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

const (
	resourceDefault = "volc.service_type.10029"
	resourceMega    = "volc.megatts.default"
	resourceSeed    = "seed-tts-2.0"

	DefaultVoice = "en_female_amy_jupiter_bigtts"
)

// SynthesisRequest 一次合成请求
type SynthesisRequest struct {
	Text     string
	Voice    string
	Rate     float64
	Volume   float64
	Pitch    float64
	Language string
}

// Audio 合成结果
type Audio struct {
	Data      []byte
	Format    string
	Duration  time.Duration
	RequestID string
}

// TTSClient 火山引擎单向流式合成客户端
type TTSClient struct {
	cfg    Config
	dialer *dialer
	log    *log.Logger
}

func NewTTSClient(cfg Config) *TTSClient {
	l := logger.WithPrefix("tts")
	return &TTSClient{cfg: cfg, dialer: newDialer(cfg.timeout(), l), log: l}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float64 `json:"speed_ratio,omitempty"`
	VolumeRatio float64 `json:"volume_ratio,omitempty"`
	PitchRatio  float64 `json:"pitch_ratio,omitempty"`
}

type ttsResponse struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition"`
}

// Synthesize tries each speaker and resource id until one is accepted.
func (c *TTSClient) Synthesize(ctx context.Context, req SynthesisRequest) (*Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("tts text is empty")
	}
	appID, token, err := c.cfg.credentials()
	if err != nil {
		return nil, err
	}

	speakers := speakerCandidates(req.Voice, c.cfg.TTSVoice)
	var lastMismatch error
	for _, speaker := range speakers {
		for i, resource := range resourceCandidates(speaker) {
			audio, err := c.synthesizeOnce(ctx, req, appID, token, speaker, resource)
			if err == nil {
				if i > 0 || speaker != speakers[0] {
					c.log.Info("fallback succeeded", "voice", speaker, "resource", resource)
				}
				return audio, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			c.log.Warn("resource mismatch", "voice", speaker, "resource", resource)
			lastMismatch = err
		}
	}
	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts: no usable voice among %v", speakers)
}

func (c *TTSClient) synthesizeOnce(ctx context.Context, req SynthesisRequest, appID, token, speaker, resource string) (*Audio, error) {
	connectID := uuid.NewString()
	conn, err := c.dialer.dial(ctx, c.cfg.ttsURL(), authHeader(appID, token, resource, connectID))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	body, err := json.Marshal(c.buildRequest(req, speaker, connectID))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	first, err := requestFrame(body, NoCompression)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, first); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	audio, err := c.collect(conn)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if audio != nil && audio.RequestID == "" {
		audio.RequestID = connectID
	}
	return audio, err
}

func (c *TTSClient) collect(conn *websocket.Conn) (*Audio, error) {
	var (
		buf   bytes.Buffer
		audio = &Audio{Format: c.format()}
	)
	for {
		f, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read tts response: %w", err)
		}

		switch f.Type {
		case ErrorMessage:
			body, _ := f.Body()
			return nil, fmt.Errorf("tts error %d: %s", f.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			chunk, err := f.Body()
			if err != nil {
				return nil, fmt.Errorf("decode audio chunk: %w", err)
			}
			buf.Write(chunk)
			if !f.IsLast() {
				continue
			}

		case FullServerResponse:
			body, err := f.Body()
			if err != nil {
				return nil, fmt.Errorf("decode tts payload: %w", err)
			}
			var resp ttsResponse
			if len(body) > 0 {
				if err := json.Unmarshal(body, &resp); err != nil {
					c.log.Warn("unparseable tts response", "err", err)
				} else {
					if resp.Code != 0 && resp.Code != 3000 {
						return nil, fmt.Errorf("tts api error %d: %s", resp.Code, resp.Message)
					}
					if resp.ReqID != "" {
						audio.RequestID = resp.ReqID
					}
					if ms, err := strconv.ParseInt(resp.Addition.Duration, 10, 64); err == nil {
						audio.Duration = time.Duration(ms) * time.Millisecond
					}
					if resp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(resp.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio: %w", err)
						}
						buf.Write(chunk)
					}
				}
			}
			finished := (f.hasEvent() && f.Event == EventSessionFinished) || f.IsLast() || resp.Sequence < 0
			if !finished {
				continue
			}

		default:
			c.log.Debug("ignoring frame", "type", f.Type)
			continue
		}

		if buf.Len() == 0 {
			return nil, fmt.Errorf("tts audio is empty")
		}
		audio.Data = buf.Bytes()
		return audio, nil
	}
}

func (c *TTSClient) buildRequest(req SynthesisRequest, speaker, uid string) *ttsRequest {
	r := &ttsRequest{}
	r.User.UID = uid
	r.ReqParams.Speaker = speaker
	r.ReqParams.Text = req.Text
	r.ReqParams.AudioParams.Format = c.format()
	r.ReqParams.AudioParams.SampleRate = 24000
	if req.Rate > 0 && req.Rate != 1 {
		r.ReqParams.AudioParams.SpeedRatio = req.Rate
	}
	if req.Volume > 0 && req.Volume != 1 {
		r.ReqParams.AudioParams.VolumeRatio = req.Volume
	}
	if req.Pitch > 0 && req.Pitch != 1 {
		r.ReqParams.AudioParams.PitchRatio = req.Pitch
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = strings.TrimSpace(c.cfg.TTSLanguage)
	}
	r.ReqParams.Language = lang
	r.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return r
}

func (c *TTSClient) format() string {
	switch f := strings.TrimSpace(c.cfg.TTSFormat); f {
	case "", "wav":
		return "mp3"
	default:
		return f
	}
}

// resourceCandidates 按音色推断资源 ID；克隆音色只能用 mega 资源。
func resourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{resourceMega}
	}
	lower := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(lower, hint) {
			return []string{resourceSeed, resourceDefault}
		}
	}
	return []string{resourceDefault, resourceSeed}
}

var voiceAliases = map[string]string{
	"default":    "",
	"en_default": DefaultVoice,
	"en-us":      DefaultVoice,
	"en-gb":      "en_male_corey_emo_v2_mars_bigtts",
	"zh-cn":      "zh_female_vv_uranus_bigtts",
}

// speakerCandidates returns the requested voice then the fallback, with
// aliases resolved and case-insensitive duplicates removed.
func speakerCandidates(requested, fallback string) []string {
	if fallback == "" {
		fallback = DefaultVoice
	}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if mapped, ok := voiceAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		if s == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		out = append(out, s)
	}
	add(requested)
	add(fallback)
	return out
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
