package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
)

// SSEDialer는 text/event-stream 엔드포인트를 수신 전용 Conn으로 엽니다.
// 전송이 단방향이므로 하트비트 송신기는 비활성화되고 워치독만 동작합니다.
type SSEDialer struct {
	client *resty.Client
}

// NewSSEDialer는 resty 클라이언트로 SSEDialer를 생성합니다. nil이면 새 클라이언트를 만듭니다.
func NewSSEDialer(client *resty.Client) *SSEDialer {
	if client == nil {
		client = resty.New()
	}
	return &SSEDialer{client: client}
}

// Dial은 스트림 요청을 보내고 응답 본문을 Conn으로 반환합니다.
// 응답 본문은 ctx에 묶이지 않도록 별도 컨텍스트로 요청하며, Close로 해제합니다.
func (d *SSEDialer) Dial(ctx context.Context, endpoint string, auth Auth) (Conn, error) {
	target, header, err := auth.Apply(endpoint)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req := d.client.R().
		SetContext(streamCtx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache")
	for k, v := range header {
		req.SetHeader(k, strings.Join(v, ","))
	}

	resp, err := req.Get(target)
	// 연결 수립 이후에는 dial 컨텍스트가 스트림을 끊지 않도록 분리합니다.
	stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: SSE 연결 실패: %v", ErrTransport, err)
	}

	body := resp.RawBody()
	if authStatus(resp.StatusCode()) {
		_ = body.Close()
		cancel()
		return nil, fmt.Errorf("%w: SSE 응답 %d", ErrAuth, resp.StatusCode())
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		_ = body.Close()
		cancel()
		return nil, fmt.Errorf("%w: SSE 응답 %d", ErrTransport, resp.StatusCode())
	}

	return &sseConn{
		body:   body,
		reader: bufio.NewReaderSize(body, 64*1024),
		cancel: cancel,
	}, nil
}

// sseConn은 SSE 응답 본문을 프레임 단위로 읽습니다.
type sseConn struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ReadFrame은 다음 이벤트의 data 필드를 반환합니다.
// 여러 data 줄은 줄바꿈으로 이어 붙이며, 주석(":")과 다른 필드는 무시합니다.
func (c *sseConn) ReadFrame() ([]byte, error) {
	var data bytes.Buffer
	hasData := false

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if hasData && err == io.EOF {
				return data.Bytes(), nil
			}
			return nil, fmt.Errorf("%w: SSE 읽기 실패: %v", ErrTransport, err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}
}

func (c *sseConn) WriteFrame([]byte) error {
	return ErrReceiveOnly
}

func (c *sseConn) Bidirectional() bool { return false }

func (c *sseConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.body.Close()
	})
	return err
}
