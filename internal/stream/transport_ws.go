package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket 전송 상수입니다.
const (
	// MaxMessageSize는 최대 수신 프레임 크기입니다 (1MB).
	MaxMessageSize = 1024 * 1024

	// WriteTimeout은 프레임 쓰기 타임아웃입니다.
	WriteTimeout = 10 * time.Second

	// HandshakeTimeout은 WebSocket 핸드셰이크 타임아웃입니다.
	HandshakeTimeout = 10 * time.Second
)

// WebSocketDialer는 gorilla/websocket 기반 Dialer입니다.
type WebSocketDialer struct {
	// Dialer는 내부 websocket.Dialer입니다. nil이면 기본값을 사용합니다.
	Dialer *websocket.Dialer
}

// NewWebSocketDialer는 기본 설정의 WebSocketDialer를 생성합니다.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout:  HandshakeTimeout,
			EnableCompression: true,
		},
	}
}

// Dial은 WebSocket 연결을 엽니다.
// 핸드셰이크가 401/403으로 거부되면 ErrAuth를 반환합니다.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, auth Auth) (Conn, error) {
	target, header, err := auth.Apply(endpoint)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && authStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: 핸드셰이크 응답 %d", ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: WebSocket 연결 실패: %v", ErrTransport, err)
	}

	conn.SetReadLimit(MaxMessageSize)

	wc := &wsConn{conn: conn}

	// 서버 PING에 PONG으로 응답합니다.
	conn.SetPingHandler(func(appData string) error {
		wc.writeMu.Lock()
		defer wc.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(WriteTimeout))
	})

	return wc, nil
}

// wsConn은 gorilla/websocket 연결을 Conn으로 감쌉니다.
type wsConn struct {
	conn *websocket.Conn
	// gorilla/websocket은 동시 쓰기를 지원하지 않으므로 모든 쓰기를 직렬화합니다.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: 메시지 전송 실패: %v", ErrTransport, err)
	}
	return nil
}

func (c *wsConn) Bidirectional() bool { return true }

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}
