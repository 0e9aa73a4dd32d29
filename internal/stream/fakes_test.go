package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// manualClock은 Advance 호출 시점에 동기적으로 타이머를 발화시키는 테스트용 시계입니다.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance는 시계를 d만큼 진행하며 기한이 된 타이머를 시각 순서대로 실행합니다.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// pending은 아직 발화하지 않은 타이머 수입니다.
func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeConn은 테스트가 프레임을 주입하고 송신 내용을 검사할 수 있는 Conn입니다.
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	bidi      bool

	mu       sync.Mutex
	written  []Envelope
	writeErr error
}

func newFakeConn(bidi bool) *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
		bidi:   bidi,
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, fmt.Errorf("%w: 연결 종료", ErrTransport)
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	c.written = append(c.written, env)
	return nil
}

func (c *fakeConn) Bidirectional() bool { return c.bidi }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop은 서버 측 연결 끊김을 흉내냅니다.
func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// sent는 전송된 메시지 중 ping을 제외한 messageId 목록입니다.
func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, env := range c.written {
		if env.Type == EventPing {
			continue
		}
		ids = append(ids, env.MessageID)
	}
	return ids
}

func (c *fakeConn) pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, env := range c.written {
		if env.Type == EventPing {
			n++
		}
	}
	return n
}

// push는 수신 프레임 하나를 주입합니다.
func (c *fakeConn) push(t *testing.T, v interface{}) {
	t.Helper()
	var frame []byte
	switch f := v.(type) {
	case []byte:
		frame = f
	case string:
		frame = []byte(f)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("프레임 직렬화 실패: %v", err)
		}
		frame = data
	}
	c.frames <- frame
}

// scriptedDialer는 호출 순서대로 준비된 결과를 반환합니다.
// 준비된 결과를 다 쓰면 마지막 결과를 반복합니다.
type scriptedDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   atomic.Int32
	conns   []*fakeConn
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *scriptedDialer) Dial(_ context.Context, _ string, _ Auth) (Conn, error) {
	n := int(d.calls.Add(1)) - 1

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return nil, fmt.Errorf("%w: 준비된 결과 없음", ErrTransport)
	}
	if n >= len(d.results) {
		n = len(d.results) - 1
	}
	r := d.results[n]
	if r.err != nil {
		return nil, r.err
	}
	d.conns = append(d.conns, r.conn)
	return r.conn, nil
}

// waitFor는 cond가 참이 될 때까지 대기합니다.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("대기 시간 초과: %s", what)
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	waitFor(t, "상태 "+want.String(), func() bool { return m.State() == want })
}

// wireFrame은 유효한 수신 프레임을 만듭니다.
func wireFrame(t EventType, id string, data interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"type":      string(t),
		"timestamp": 1767225600000,
		"messageId": id,
		"taskId":    "task-1",
	}
	if data != nil {
		f["data"] = data
	}
	return f
}
