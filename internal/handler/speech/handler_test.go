package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	speechsvc "github.com/zhouzirui/gemini-assistant/backend/internal/service/speech"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

func init() {
	logger.SetOutput(io.Discard)
}

// fakeRecognizer 读完整个采集流后把内容当作识别结果
type fakeRecognizer struct {
	src    speechsvc.AudioSource
	events voice.RecognitionEvents
	fail   error
}

func (r *fakeRecognizer) Start(ctx context.Context) error {
	capture, err := r.src.Open(ctx)
	if err != nil {
		return err
	}
	r.events.OnStart()
	go func() {
		defer r.events.OnEnd()
		defer capture.Close()
		data, err := io.ReadAll(capture)
		if err == nil {
			err = r.fail
		}
		if err != nil {
			r.events.OnError(err)
			return
		}
		r.events.OnResult(string(data))
	}()
	return nil
}

func (r *fakeRecognizer) Stop() {}

type fakeFactory struct {
	src  speechsvc.AudioSource
	fail error
}

func (f fakeFactory) NewRecognizer(_ voice.RecognitionSettings, events voice.RecognitionEvents) (voice.Recognizer, error) {
	return &fakeRecognizer{src: f.src, events: events, fail: f.fail}, nil
}

type fakeSynth struct {
	sink speechsvc.AudioSink
}

func (s *fakeSynth) Speak(u voice.Utterance, ev voice.UtteranceEvents) {
	go func() {
		ev.OnStart()
		if err := s.sink.WriteAudio([]byte("AUDIO:"+u.Text), "mp3", true); err != nil {
			ev.OnError(err)
			return
		}
		ev.OnEnd()
	}()
}
func (s *fakeSynth) Cancel() {}
func (s *fakeSynth) Pause()  {}
func (s *fakeSynth) Resume() {}
func (s *fakeSynth) Voices() []voice.Voice {
	return []voice.Voice{{ID: "amy", Name: "Amy", Lang: "en-US"}}
}
func (s *fakeSynth) OnVoicesChanged(func()) func() { return func() {} }

type fakeSpeechService struct {
	enabled bool
	asrErr  error
	ttsErr  error
}

func (f *fakeSpeechService) Enabled() bool { return f.enabled }

func (f *fakeSpeechService) Voices() []voice.Voice {
	if !f.enabled {
		return nil
	}
	return (&fakeSynth{}).Voices()
}

func (f *fakeSpeechService) RecognizerFactory(src speechsvc.AudioSource) voice.RecognizerFactory {
	if !f.enabled {
		return nil
	}
	return fakeFactory{src: src, fail: f.asrErr}
}

func (f *fakeSpeechService) Synthesizer(sink speechsvc.AudioSink) voice.Synthesizer {
	if !f.enabled {
		return nil
	}
	return &fakeSynth{sink: sink}
}

func (f *fakeSpeechService) SynthesizeTo(_ context.Context, req speechsvc.SynthesisRequest, sink speechsvc.AudioSink) (*speechsvc.Audio, error) {
	if f.ttsErr != nil {
		return nil, f.ttsErr
	}
	data := []byte("ID3" + req.Text)
	if err := sink.WriteAudio(data[:3], "mp3", false); err != nil {
		return nil, err
	}
	if err := sink.WriteAudio(data[3:], "mp3", true); err != nil {
		return nil, err
	}
	return &speechsvc.Audio{Data: data, Format: "mp3"}, nil
}

func newRouter(svc SpeechService) *chi.Mux {
	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r
}

func audioUpload(t *testing.T, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if content != nil {
		fw, err := mw.CreateFormFile("audio", "clip.wav")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTranscribe(t *testing.T) {
	r := newRouter(&fakeSpeechService{enabled: true})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, audioUpload(t, []byte("hello world")))

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "hello world", body["text"])
}

func TestTranscribeRecognitionError(t *testing.T) {
	r := newRouter(&fakeSpeechService{enabled: true, asrErr: errors.New("no-speech")})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, audioUpload(t, []byte("noise")))

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "Speech recognition error: no-speech")
}

func TestTranscribeUnsupported(t *testing.T) {
	r := newRouter(&fakeSpeechService{})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, audioUpload(t, []byte("hello")))

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestTranscribeMissingAudio(t *testing.T) {
	r := newRouter(&fakeSpeechService{enabled: true})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, audioUpload(t, nil))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSynthesizeStreamsAudio(t *testing.T) {
	r := newRouter(&fakeSpeechService{enabled: true})
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(`{"text":"hi there"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "audio/mp3", resp.Header().Get("Content-Type"))
	assert.Equal(t, "ID3hi there", resp.Body.String())
}

func TestSynthesizeValidation(t *testing.T) {
	r := newRouter(&fakeSpeechService{enabled: true})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(`{"text":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSynthesizeFailures(t *testing.T) {
	resp := httptest.NewRecorder()
	newRouter(&fakeSpeechService{}).ServeHTTP(resp,
		httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(`{"text":"hi"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = httptest.NewRecorder()
	newRouter(&fakeSpeechService{enabled: true, ttsErr: errors.New("quota")}).ServeHTTP(resp,
		httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(`{"text":"hi"}`)))
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestVoicesAndHealth(t *testing.T) {
	r := newRouter(&fakeSpeechService{enabled: true})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/speech/voices", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var voices struct {
		Supported bool          `json:"supported"`
		Voices    []voice.Voice `json:"voices"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &voices))
	assert.True(t, voices.Supported)
	require.Len(t, voices.Voices, 1)
	assert.Equal(t, "amy", voices.Voices[0].ID)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/speech/health", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"healthy"`)
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialVoice(t *testing.T, svc SpeechService) *wsClient {
	t.Helper()
	srv := httptest.NewServer(newRouter(svc))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/speech/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) command(kind string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"type": kind, "data": json.RawMessage(raw)}))
}

// next 读取下一条消息，二进制消息以 type=binary 返回
func (c *wsClient) next() (string, map[string]any, []byte) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	if kind == websocket.BinaryMessage {
		return "binary", nil, payload
	}
	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(c.t, json.Unmarshal(payload, &msg))
	return msg.Type, msg.Data, nil
}

func (c *wsClient) waitFor(kind string) (map[string]any, []byte) {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		got, data, raw := c.next()
		if got == kind {
			return data, raw
		}
	}
	c.t.Fatalf("message %q not received", kind)
	return nil, nil
}

func TestWebSocketDictation(t *testing.T) {
	c := dialVoice(t, &fakeSpeechService{enabled: true})

	connected, _ := c.waitFor("connected")
	assert.NotEmpty(t, connected["voices"])
	initial, _ := c.waitFor("state")
	assert.Equal(t, false, initial["recording"])

	c.command("start", nil)
	state, _ := c.waitFor("state")
	assert.Equal(t, true, state["recording"])

	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, []byte("what is go")))
	c.command("end", nil)

	transcript, _ := c.waitFor("transcript")
	assert.Equal(t, "what is go", transcript["text"])
}

func TestWebSocketSpeak(t *testing.T) {
	c := dialVoice(t, &fakeSpeechService{enabled: true})
	c.waitFor("connected")

	c.command("speak", map[string]any{"text": "hello", "voice": "amy"})
	_, audio := c.waitFor("binary")
	assert.Equal(t, "AUDIO:hello", string(audio))

	end, _ := c.waitFor("audio_end")
	assert.Equal(t, "mp3", end["format"])
}

func TestWebSocketUnsupported(t *testing.T) {
	c := dialVoice(t, &fakeSpeechService{})

	state, _ := c.waitFor("state")
	assert.Equal(t, false, state["outputSupported"])

	c.command("start", nil)
	errMsg, _ := c.waitFor("error")
	assert.Equal(t, "Speech recognition is not supported in this environment", errMsg["message"])

	c.command("speak", map[string]any{"text": "hello"})
	errMsg, _ = c.waitFor("error")
	assert.Contains(t, errMsg["message"], "not supported")
}

func TestWebSocketUnknownCommand(t *testing.T) {
	c := dialVoice(t, &fakeSpeechService{enabled: true})
	c.waitFor("connected")

	c.command("dance", nil)
	errMsg, _ := c.waitFor("error")
	assert.Equal(t, "unsupported message type: dance", errMsg["message"])
}
