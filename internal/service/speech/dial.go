package speech

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// dialer 建立到火山引擎的 WebSocket 连接，失败时按次数重试。
type dialer struct {
	ws         *websocket.Dialer
	maxRetries int
	backoff    time.Duration
	log        *log.Logger
}

func newDialer(timeout time.Duration, l *log.Logger) *dialer {
	return &dialer{
		ws:         &websocket.Dialer{HandshakeTimeout: timeout},
		maxRetries: 3,
		backoff:    time.Second,
		log:        l,
	}
}

func (d *dialer) dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		conn, resp, err := d.ws.DialContext(ctx, url, header)
		if err == nil {
			if resp != nil {
				if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
					d.log.Debug("connected", "logid", logid)
				}
			}
			return conn, nil
		}
		lastErr = err

		// 鉴权失败等 HTTP 响应不重试
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		d.log.Warn("dial failed, retrying", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * d.backoff):
		}
	}
	return nil, fmt.Errorf("websocket dial %s: %w", url, lastErr)
}

func authHeader(appID, token, resourceID, connectID string) http.Header {
	h := http.Header{}
	h.Set("X-Api-App-Key", appID)
	h.Set("X-Api-Access-Key", token)
	h.Set("X-Api-Resource-Id", resourceID)
	h.Set("X-Api-Connect-Id", connectID)
	return h
}

func writeFrame(conn *websocket.Conn, f *Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func readFrame(conn *websocket.Conn) (*Frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ParseFrame(data)
}
