package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

// fakeVolcengine 模拟火山引擎 WebSocket 服务端
type fakeVolcengine struct {
	t       *testing.T
	handle  func(conn *websocket.Conn, header http.Header)
	server  *httptest.Server
	mu      sync.Mutex
	headers []http.Header
}

func newFakeVolcengine(t *testing.T, handle func(conn *websocket.Conn, header http.Header)) *fakeVolcengine {
	f := &fakeVolcengine{t: t, handle: handle}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.handle(conn, r.Header)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVolcengine) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		AppID:         "app",
		AccessToken:   "token",
		ASRURL:        url,
		TTSURL:        url,
		PlaybackChunk: 4,
		PlaybackPace:  -1,
		Timeout:       2 * time.Second,
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, f *Frame) {
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func asrHandler(t *testing.T, received *bytes.Buffer, transcript string) func(*websocket.Conn, http.Header) {
	return func(conn *websocket.Conn, _ http.Header) {
		first, err := readFrame(conn)
		require.NoError(t, err)
		require.Equal(t, FullClientRequest, first.Type)
		body, err := first.Body()
		require.NoError(t, err)
		var req asrRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "bigmodel", req.Request.ModelName)

		for {
			f, err := readFrame(conn)
			if err != nil {
				return
			}
			chunk, err := f.Body()
			require.NoError(t, err)
			received.Write(chunk)
			if f.IsLast() {
				break
			}
		}

		resp, _ := json.Marshal(map[string]any{"code": 0, "result": map[string]any{"text": transcript}})
		out, err := requestFrame(resp, GzipCompression)
		require.NoError(t, err)
		out.Type = FullServerResponse
		out.Flags = NegativeSequence
		out.Sequence = -1
		sendFrame(t, conn, out)
	}
}

func TestASRTranscribe(t *testing.T) {
	var received bytes.Buffer
	server := newFakeVolcengine(t, asrHandler(t, &received, "hello world"))

	client := NewASRClient(testConfig(server.url()))
	audio := bytes.Repeat([]byte{1, 2, 3, 4}, asrChunkBytes/2) // two full chunks
	got, err := client.Transcribe(context.Background(), bytes.NewReader(audio), "en-US")
	require.NoError(t, err)

	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, audio, received.Bytes())

	require.Len(t, server.headers, 1)
	assert.Equal(t, "app", server.headers[0].Get("X-Api-App-Key"))
	assert.Equal(t, "token", server.headers[0].Get("X-Api-Access-Key"))
	assert.Equal(t, "volc.bigasr.sauc.duration", server.headers[0].Get("X-Api-Resource-Id"))
}

func TestASRNoSpeech(t *testing.T) {
	var received bytes.Buffer
	server := newFakeVolcengine(t, asrHandler(t, &received, ""))

	_, err := NewASRClient(testConfig(server.url())).Transcribe(context.Background(), strings.NewReader("abc"), "")
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestASRMissingCredentials(t *testing.T) {
	_, err := NewASRClient(Config{}).Transcribe(context.Background(), strings.NewReader("abc"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AppID")
}

func TestRecognizerThroughVoiceInput(t *testing.T) {
	var received bytes.Buffer
	server := newFakeVolcengine(t, asrHandler(t, &received, "turn on the lights"))
	svc := NewService(testConfig(server.url()), nil)

	src := &StreamSource{}
	transcripts := make(chan string, 1)
	in := voice.NewInput(svc.RecognizerFactory(src), nil, voice.InputHandlers{
		OnTranscript: func(text string) { transcripts <- text },
		OnError:      func(msg string) { t.Errorf("unexpected error: %s", msg) },
	})

	require.NoError(t, in.Start(context.Background()))
	assert.True(t, in.IsRecording())

	_, err := src.Write([]byte("pcm-audio"))
	require.NoError(t, err)
	in.Stop()

	select {
	case text := <-transcripts:
		assert.Equal(t, "turn on the lights", text)
	case <-time.After(3 * time.Second):
		t.Fatal("no transcript")
	}
	assert.Eventually(t, func() bool { return !in.IsRecording() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "pcm-audio", received.String())
}

func TestServiceWithoutCredentials(t *testing.T) {
	svc := NewService(Config{}, nil)
	assert.False(t, svc.Enabled())
	assert.Nil(t, svc.RecognizerFactory(ClipSource("x")))
	assert.Nil(t, svc.Synthesizer(nil))
}

func ttsHandler(t *testing.T, audio []byte) func(*websocket.Conn, http.Header) {
	return func(conn *websocket.Conn, header http.Header) {
		first, err := readFrame(conn)
		require.NoError(t, err)
		var req ttsRequest
		require.NoError(t, json.Unmarshal(first.Payload, &req))

		if header.Get("X-Api-Resource-Id") != resourceSeed {
			sendFrame(t, conn, &Frame{Type: ErrorMessage, ErrorCode: 3001, Payload: []byte("resource ID is mismatched with speaker related resource")})
			return
		}

		half := len(audio) / 2
		sendFrame(t, conn, &Frame{Type: AudioOnlyServerResponse, Flags: PositiveSequence, Sequence: 1, Payload: audio[:half]})
		body, _ := json.Marshal(map[string]any{
			"reqid":    "req-42",
			"code":     3000,
			"data":     base64.StdEncoding.EncodeToString(audio[half:]),
			"addition": map[string]string{"duration": "1500"},
		})
		sendFrame(t, conn, &Frame{Type: FullServerResponse, Flags: NegativeSequence, Sequence: -2, Serialization: JSONSerialization, Payload: body})
	}
}

func TestTTSSynthesizeFallsBackToMatchingResource(t *testing.T) {
	audio := []byte("0123456789abcdef")
	server := newFakeVolcengine(t, ttsHandler(t, audio))
	cfg := testConfig(server.url())
	cfg.TTSVoice = "en_legacy_voice"

	got, err := NewTTSClient(cfg).Synthesize(context.Background(), SynthesisRequest{Text: "hello", Rate: 1.2})
	require.NoError(t, err)
	assert.Equal(t, audio, got.Data)
	assert.Equal(t, "mp3", got.Format)
	assert.Equal(t, "req-42", got.RequestID)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)

	require.Len(t, server.headers, 2)
	assert.Equal(t, resourceDefault, server.headers[0].Get("X-Api-Resource-Id"))
	assert.Equal(t, resourceSeed, server.headers[1].Get("X-Api-Resource-Id"))
}

func TestTTSRejectsEmptyText(t *testing.T) {
	_, err := NewTTSClient(testConfig("ws://unused")).Synthesize(context.Background(), SynthesisRequest{Text: " "})
	assert.Error(t, err)
}

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	final  bool
}

func (s *recordingSink) WriteAudio(chunk []byte, _ string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	s.final = s.final || final
	return nil
}

func (s *recordingSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

func TestSynthesizerThroughVoiceOutput(t *testing.T) {
	audio := []byte("0123456789abcdef")
	server := newFakeVolcengine(t, ttsHandler(t, audio))
	catalog, err := NewVoiceCatalog("")
	require.NoError(t, err)
	svc := NewService(testConfig(server.url()), catalog)

	sink := &recordingSink{}
	out := voice.NewOutput(svc.Synthesizer(sink))
	assert.True(t, out.Supported())
	assert.NotEmpty(t, out.Voices())

	out.Speak("read this aloud", voice.Options{})
	assert.Eventually(t, func() bool { return bytes.Equal(sink.joined(), audio) }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !out.IsSpeaking() }, time.Second, 10*time.Millisecond)
	assert.True(t, sink.final)
	assert.Len(t, sink.chunks, 4)
}

func TestPlayHonoursGate(t *testing.T) {
	sink := &recordingSink{}
	gate := &playGate{}
	gate.pause()

	done := make(chan error, 1)
	go func() {
		done <- play(context.Background(), sink, &Audio{Data: []byte("abcdefgh"), Format: "mp3"}, 4, 0, gate)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sink.joined())

	gate.release()
	require.NoError(t, <-done)
	assert.Equal(t, []byte("abcdefgh"), sink.joined())
}

func TestPlayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gate := &playGate{}
	gate.pause()
	cancel()
	err := play(ctx, &recordingSink{}, &Audio{Data: []byte("abc")}, 4, 0, gate)
	assert.ErrorIs(t, err, context.Canceled)
}
