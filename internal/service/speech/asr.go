package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

// 16kHz, 16bit, 单声道, 200ms
const asrChunkBytes = 6400

// ErrNoSpeech is returned when the service finished without any text.
var ErrNoSpeech = errors.New("no-speech")

// Transcript is the final recognition result.
type Transcript struct {
	Text     string
	Duration time.Duration
	LogID    string
}

// ASRClient 火山引擎大模型流式识别客户端
type ASRClient struct {
	cfg    Config
	dialer *dialer
	// pace 两个音频包之间的最小间隔，录音文件上传时模拟实时流
	pace time.Duration
	log  *log.Logger
}

func NewASRClient(cfg Config) *ASRClient {
	l := logger.WithPrefix("asr")
	return &ASRClient{cfg: cfg, dialer: newDialer(cfg.timeout(), l), log: l}
}

// WithPace returns a copy that sleeps between audio packets.
func (c *ASRClient) WithPace(d time.Duration) *ASRClient {
	cp := *c
	cp.pace = d
	return &cp
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

// Transcribe streams audio until it reaches EOF and returns the final text.
// The reader may block; it is consumed as it produces data.
func (c *ASRClient) Transcribe(ctx context.Context, audio io.Reader, language string) (*Transcript, error) {
	appID, token, err := c.cfg.credentials()
	if err != nil {
		return nil, err
	}

	connectID := uuid.NewString()
	conn, err := c.dialer.dial(ctx, c.cfg.asrURL(), authHeader(appID, token, c.cfg.asrResourceID(), connectID))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	body, err := json.Marshal(c.buildRequest(connectID, language))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	first, err := requestFrame(body, GzipCompression)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, first); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		t   *Transcript
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		t, err := c.receive(conn)
		results <- outcome{t, err}
	}()

	sendErr := make(chan error, 1)
	go func() { sendErr <- c.send(ctx, conn, audio) }()

	// 关闭连接可解除 receive 中阻塞的读取
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		select {
		case err := <-sendErr:
			if err != nil {
				cancel()
				return nil, fmt.Errorf("send audio: %w", err)
			}
			sendErr = nil
		case res := <-results:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, res.err
			}
			if strings.TrimSpace(res.t.Text) == "" {
				return nil, ErrNoSpeech
			}
			return res.t, nil
		}
	}
}

func (c *ASRClient) buildRequest(uid, language string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid

	req.Audio.Format = c.cfg.ASRFormat
	if req.Audio.Format == "" {
		req.Audio.Format = "wav"
	}
	req.Audio.Language = language
	if req.Audio.Language == "" {
		req.Audio.Language = c.cfg.ASRLanguage
	}
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// send 逐包发送音频；完整请求占用序号1，音频从2开始。
// 预读下一包，才能给真正的最后一包打上结束标志。
func (c *ASRClient) send(ctx context.Context, conn *websocket.Conn, audio io.Reader) error {
	seq := int32(2)
	cur, curErr := readChunk(audio)
	for {
		if curErr != nil && !errors.Is(curErr, io.EOF) {
			return curErr
		}
		if curErr != nil {
			return c.sendAudio(conn, cur, seq, true)
		}

		next, nextErr := readChunk(audio)
		if errors.Is(nextErr, io.EOF) && len(next) == 0 {
			return c.sendAudio(conn, cur, seq, true)
		}
		if err := c.sendAudio(conn, cur, seq, false); err != nil {
			return err
		}
		seq++

		if c.pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pace):
			}
		}
		cur, curErr = next, nextErr
	}
}

func (c *ASRClient) sendAudio(conn *websocket.Conn, chunk []byte, seq int32, last bool) error {
	f, err := audioFrame(chunk, seq, last, GzipCompression)
	if err != nil {
		return err
	}
	return writeFrame(conn, f)
}

// readChunk 读满一包；末尾不足一包时返回已读数据与 io.EOF。
func readChunk(r io.Reader) ([]byte, error) {
	buf := make([]byte, asrChunkBytes)
	n, err := io.ReadFull(r, buf)
	// 采集端关闭视为音频结束
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		err = io.EOF
	}
	return buf[:n], err
}

func (c *ASRClient) receive(conn *websocket.Conn) (*Transcript, error) {
	var t Transcript
	for {
		f, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read asr response: %w", err)
		}

		switch f.Type {
		case ErrorMessage:
			body, _ := f.Body()
			return nil, fmt.Errorf("asr error %d: %s", f.ErrorCode, string(body))

		case FullServerResponse:
			body, err := f.Body()
			if err != nil {
				return nil, fmt.Errorf("decode asr payload: %w", err)
			}
			var resp asrResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				c.log.Warn("unparseable asr response", "err", err)
				continue
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				return nil, fmt.Errorf("asr api error %d: %s", resp.Code, resp.Message)
			}

			text := resp.Result.Text
			if text == "" {
				text = joinUtterances(resp.Result.Utterances)
			}
			if text != "" {
				t.Text = text
			}
			if resp.AudioInfo.Duration > 0 {
				t.Duration = time.Duration(resp.AudioInfo.Duration) * time.Millisecond
			}
			if f.IsLast() || resp.Sequence < 0 {
				return &t, nil
			}
		}
	}
}

func joinUtterances(us []asrUtterance) string {
	parts := make([]string, 0, len(us))
	for _, u := range us {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}
