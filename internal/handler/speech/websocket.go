package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
	speechsvc "github.com/zhouzirui/gemini-assistant/backend/internal/service/speech"
	"github.com/zhouzirui/gemini-assistant/backend/internal/service/voice"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler 实时语音：客户端推送麦克风音频，服务端回推识别结果与合成音频
type WebSocketHandler struct {
	speechSvc SpeechService
	upgrader  websocket.Upgrader
	log       *log.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(speechSvc SpeechService) *WebSocketHandler {
	return &WebSocketHandler{
		speechSvc: speechSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logger.WithPrefix("websocket"),
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SpeakMessage 朗读请求
type SpeakMessage struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// StateMessage 当前语音状态
type StateMessage struct {
	Recording       bool   `json:"recording"`
	Speaking        bool   `json:"speaking"`
	Paused          bool   `json:"paused"`
	InputSupported  bool   `json:"inputSupported"`
	OutputSupported bool   `json:"outputSupported"`
	InputState      string `json:"inputState"`
	OutputState     string `json:"outputState"`
}

// wsConn 串行化写操作，识别回调、播放与心跳来自不同 goroutine
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// voiceSession 一个连接对应一组语音输入/输出状态机
type voiceSession struct {
	conn   *wsConn
	source *speechsvc.StreamSource
	input  *voice.Input
	output *voice.Output
	log    *log.Logger
}

func (h *WebSocketHandler) newVoiceSession(conn *wsConn) *voiceSession {
	s := &voiceSession{
		conn:   conn,
		source: &speechsvc.StreamSource{},
		log:    h.log,
	}
	s.input = voice.NewInput(h.speechSvc.RecognizerFactory(s.source), nil, voice.InputHandlers{
		OnTranscript: func(text string) {
			s.send("transcript", map[string]any{"text": text, "isFinal": true})
			s.sendState()
		},
		OnError: func(message string) {
			s.sendError(message)
			s.sendState()
		},
	})

	sink := speechsvc.AudioSinkFunc(func(chunk []byte, format string, final bool) error {
		if err := conn.writeMessage(websocket.BinaryMessage, chunk); err != nil {
			return err
		}
		if final {
			s.send("audio_end", map[string]any{"format": format})
		}
		return nil
	})
	s.output = voice.NewOutput(h.speechSvc.Synthesizer(sink))
	return s
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", "err", err)
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw}
	session := h.newVoiceSession(conn)
	defer session.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.log.Info("new connection", "remote", r.RemoteAddr)
	session.send("connected", map[string]any{"voices": session.output.Voices()})
	session.sendState()

	for {
		messageType, payload, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("read error", "err", err)
			}
			return
		}
		raw.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType == websocket.BinaryMessage {
			// 麦克风音频，未在录音时丢弃
			if _, err := session.source.Write(payload); err != nil {
				h.log.Debug("audio dropped", "err", err)
			}
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			session.sendError("invalid message")
			continue
		}
		session.handle(ctx, &msg)
	}
}

func (s *voiceSession) handle(ctx context.Context, msg *inboundMessage) {
	switch msg.Type {
	case "start":
		// 错误已经通过 OnError 回推
		_ = s.input.Start(ctx)
	case "stop":
		s.input.Stop()
	case "end":
		// 客户端音频发送完毕，结束本次采集
		s.source.End()
	case "toggle":
		_ = s.input.Toggle(ctx)
	case "speak":
		var req SpeakMessage
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError("invalid speak payload")
			return
		}
		s.speak(req)
	case "pause":
		s.output.Pause()
	case "resume":
		s.output.Resume()
	case "cancel":
		s.output.Stop()
	case "state":
	default:
		s.sendError("unsupported message type: " + msg.Type)
		return
	}
	s.sendState()
}

func (s *voiceSession) speak(req SpeakMessage) {
	if !s.output.Supported() {
		s.sendError("Speech synthesis is not supported in this environment")
		return
	}
	opts := voice.Options{Rate: req.Rate, Pitch: req.Pitch, Volume: req.Volume}
	if req.Voice != "" {
		opts.Voice = s.findVoice(req.Voice)
	}
	s.output.Speak(req.Text, opts)
}

func (s *voiceSession) findVoice(id string) *voice.Voice {
	for _, v := range s.output.Voices() {
		if v.ID == id {
			return &v
		}
	}
	return &voice.Voice{ID: id}
}

func (s *voiceSession) state() StateMessage {
	return StateMessage{
		Recording:       s.input.IsRecording(),
		Speaking:        s.output.IsSpeaking(),
		Paused:          s.output.State() == voice.OutputPaused,
		InputSupported:  s.input.Supported(),
		OutputSupported: s.output.Supported(),
		InputState:      s.input.State().String(),
		OutputState:     s.output.State().String(),
	}
}

func (s *voiceSession) close() {
	s.input.Stop()
	s.source.End()
	s.output.Stop()
	s.output.Close()
}

func (s *voiceSession) sendState() {
	s.send("state", s.state())
}

func (s *voiceSession) send(kind string, data any) {
	msg := outgoingMessage{Type: kind, Data: data, Timestamp: time.Now().Unix()}
	if err := s.conn.writeJSON(msg); err != nil {
		s.log.Debug("write failed", "type", kind, "err", err)
	}
}

func (s *voiceSession) sendError(message string) {
	s.send("error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
