package stream

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/insajin/pvg-stream/internal/metrics"
)

// fixedBackoff는 지터 없는 테스트용 백오프입니다.
func fixedBackoff() Backoff {
	return Backoff{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Factor:    2,
	}
}

func newTestManager(d Dialer, clock *manualClock, opts ...Option) *Manager {
	base := []Option{
		WithClock(clock),
		WithBackoff(fixedBackoff()),
		WithConnectTimeout(time.Hour),
		WithHeartbeat(HeartbeatConfig{Interval: 10 * time.Second, TimeoutMultiplier: 2}),
	}
	return NewManager("task-1", d, append(base, opts...)...)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateError, "error"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// TestManager_ConnectSuccess는 연결 성공 시 상태 전이와 시도 횟수 초기화를 검증합니다.
func TestManager_ConnectSuccess(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}

	var mu sync.Mutex
	var transitions []string
	m := newTestManager(d, clock, OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	}))
	defer m.Close()

	if m.State() != StateDisconnected {
		t.Fatalf("초기 상태 = %v, want disconnected", m.State())
	}
	if err := m.Connect("ws://example/stream"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitState(t, m, StateConnected)

	// 이미 연결된 상태에서 Connect는 아무것도 하지 않습니다.
	if err := m.Connect(""); err != nil {
		t.Fatalf("두 번째 Connect() error = %v", err)
	}
	if got := d.calls.Load(); got != 1 {
		t.Errorf("dial 호출 = %d, want 1", got)
	}

	info := m.Info()
	if info.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", info.Attempt)
	}
	if info.ConnectedAt.IsZero() {
		t.Error("ConnectedAt이 설정되지 않았습니다")
	}
	if info.Endpoint != "ws://example/stream" {
		t.Errorf("Endpoint = %q", info.Endpoint)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"disconnected->connecting", "connecting->connected"}
	if !reflect.DeepEqual(transitions, want) {
		t.Errorf("전이 = %v, want %v", transitions, want)
	}
}

// TestManager_ConnectWithoutEndpoint는 엔드포인트 없이 Connect하면 오류를 반환하는지 검증합니다.
func TestManager_ConnectWithoutEndpoint(t *testing.T) {
	m := newTestManager(&scriptedDialer{}, newManualClock())
	if err := m.Connect(""); err == nil {
		t.Error("빈 엔드포인트로 Connect가 성공했습니다")
	}
	if m.State() != StateDisconnected {
		t.Errorf("상태 = %v, want disconnected", m.State())
	}
}

// TestManager_ExhaustsAfterMaxAttempts는 최대 5회 재연결 후 Error로 전이하고 6번째 시도가 없는지 검증합니다.
func TestManager_ExhaustsAfterMaxAttempts(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{
		{conn: conn},
		{err: fmt.Errorf("%w: connection refused", ErrTransport)},
	}}

	fatal := make(chan error, 1)
	m := newTestManager(d, clock,
		WithMaxReconnectAttempts(5),
		OnFatal(func(err error) { fatal <- err }),
	)
	defer m.Close()

	if err := m.Connect("ws://example/stream"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitState(t, m, StateConnected)

	conn.drop()
	backoff := fixedBackoff()
	for attempt := 1; attempt <= 5; attempt++ {
		waitFor(t, fmt.Sprintf("재연결 %d 예약", attempt), func() bool {
			info := m.Info()
			return info.State == StateReconnecting && info.Attempt == attempt && info.ReconnectScheduled
		})
		clock.Advance(backoff.Delay(attempt))
		want := int32(attempt + 1)
		waitFor(t, fmt.Sprintf("dial %d회", want), func() bool { return d.calls.Load() == want })
	}

	waitState(t, m, StateError)

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("fatal 오류 = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnFatal이 호출되지 않았습니다")
	}

	clock.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	if got := d.calls.Load(); got != 6 {
		t.Errorf("dial 호출 = %d, want 6 (최초 1 + 재연결 5)", got)
	}
	if n := m.ActiveTimers(); n != 0 {
		t.Errorf("Error 상태에서 활성 타이머 = %d, want 0", n)
	}
}

// TestManager_ReconnectsAndResetsAttempt는 재연결 성공 시 시도 횟수가 0으로 돌아오는지 검증합니다.
func TestManager_ReconnectsAndResetsAttempt(t *testing.T) {
	clock := newManualClock()
	first := newFakeConn(true)
	second := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{
		{conn: first},
		{err: fmt.Errorf("%w: refused", ErrTransport)},
		{conn: second},
	}}
	m := newTestManager(d, clock)
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	first.drop()
	waitFor(t, "재연결 1", func() bool { return m.Info().Attempt == 1 && m.State() == StateReconnecting })
	clock.Advance(fixedBackoff().Delay(1))
	waitFor(t, "재연결 2", func() bool { return m.Info().Attempt == 2 && m.State() == StateReconnecting })
	clock.Advance(fixedBackoff().Delay(2))
	waitState(t, m, StateConnected)

	if got := m.Info().Attempt; got != 0 {
		t.Errorf("Attempt = %d, want 0", got)
	}
}

// TestManager_HeartbeatTimeout은 10s 간격, 배수 2에서 21초 무수신 시 재연결이 시작되는지 검증합니다.
func TestManager_HeartbeatTimeout(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	mt := metrics.NewMetrics()
	m := newTestManager(d, clock, WithMetrics(mt))
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	clock.Advance(19 * time.Second)
	if m.State() != StateConnected {
		t.Fatalf("19초 후 상태 = %v, want connected", m.State())
	}
	if got := conn.pings(); got != 1 {
		t.Errorf("ping 전송 = %d, want 1", got)
	}

	clock.Advance(2 * time.Second)
	if m.State() != StateReconnecting {
		t.Fatalf("21초 후 상태 = %v, want reconnecting", m.State())
	}
	if got := mt.HeartbeatTimeouts.Load(); got != 1 {
		t.Errorf("HeartbeatTimeouts = %d, want 1", got)
	}
	if !errors.Is(m.Info().LastError, ErrTimeout) {
		t.Errorf("LastError = %v, want ErrTimeout", m.Info().LastError)
	}
	waitFor(t, "이전 연결 종료", conn.isClosed)
}

// TestManager_InboundFrameResetsWatchdog은 데이터 프레임도 생존 신호로 취급되는지 검증합니다.
func TestManager_InboundFrameResetsWatchdog(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(false)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(d, clock)
	defer m.Close()

	got := make(chan Envelope, 1)
	m.Handle(EventProgress, func(env Envelope) { got <- env })

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	clock.Advance(15 * time.Second)
	conn.push(t, wireFrame(EventProgress, "m-1", map[string]interface{}{"progress": 10}))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("progress 프레임이 전달되지 않았습니다")
	}

	// 마지막 수신 15s + 제한 20s = 35s 까지 유지
	clock.Advance(19 * time.Second)
	if m.State() != StateConnected {
		t.Fatalf("34초 후 상태 = %v, want connected", m.State())
	}
	clock.Advance(2 * time.Second)
	if m.State() != StateReconnecting {
		t.Fatalf("36초 후 상태 = %v, want reconnecting", m.State())
	}
	// 수신 전용 연결은 ping을 보내지 않습니다.
	if n := conn.pings(); n != 0 {
		t.Errorf("수신 전용 연결의 ping = %d, want 0", n)
	}
}

// TestManager_QueueFlushOrder는 끊긴 동안 보낸 메시지가 재연결 직후 순서대로, 새 메시지보다 먼저 전송되는지 검증합니다.
func TestManager_QueueFlushOrder(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(d, clock)
	defer m.Close()

	for _, id := range []string{"m1", "m2", "m3"} {
		res, err := m.Send(Envelope{Type: "command", MessageID: id})
		if err != nil {
			t.Fatalf("Send(%s) error = %v", id, err)
		}
		if res != SendQueued {
			t.Errorf("Send(%s) = %v, want queued", id, res)
		}
	}
	if got := m.Info().QueuedMessages; got != 3 {
		t.Fatalf("QueuedMessages = %d, want 3", got)
	}

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	res, err := m.Send(Envelope{Type: "command", MessageID: "m4"})
	if err != nil || res != SendSent {
		t.Fatalf("Send(m4) = %v, %v, want sent", res, err)
	}

	want := []string{"m1", "m2", "m3", "m4"}
	if got := conn.sent(); !reflect.DeepEqual(got, want) {
		t.Errorf("전송 순서 = %v, want %v", got, want)
	}
	if got := m.Info().QueuedMessages; got != 0 {
		t.Errorf("QueuedMessages = %d, want 0", got)
	}
}

// TestManager_QueueCapacity는 대기열이 가득 차면 ErrCapacity를 반환하는지 검증합니다.
func TestManager_QueueCapacity(t *testing.T) {
	m := newTestManager(&scriptedDialer{}, newManualClock(), WithQueueCapacity(2))

	for i := 0; i < 2; i++ {
		if _, err := m.Send(Envelope{Type: "command"}); err != nil {
			t.Fatalf("Send %d error = %v", i, err)
		}
	}
	if _, err := m.Send(Envelope{Type: "command"}); !errors.Is(err, ErrCapacity) {
		t.Errorf("가득 찬 대기열 Send error = %v, want ErrCapacity", err)
	}
}

// TestManager_DisconnectRejectsPending는 대기 요청 2개가 동기적으로 거부되고 타이머가 남지 않는지 검증합니다.
func TestManager_DisconnectRejectsPending(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(d, clock)
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	var errs []error
	for i := 0; i < 2; i++ {
		if _, err := m.Request(Envelope{Type: "query"}, 5*time.Second, func(_ Envelope, err error) {
			errs = append(errs, err)
		}); err != nil {
			t.Fatalf("Request %d error = %v", i, err)
		}
	}
	if got := m.Info().PendingRequests; got != 2 {
		t.Fatalf("PendingRequests = %d, want 2", got)
	}

	m.Disconnect()

	// Disconnect가 반환되기 전에 콜백이 호출되어야 합니다.
	if len(errs) != 2 {
		t.Fatalf("거부된 요청 = %d, want 2", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrTransport) {
			t.Errorf("거부 오류 = %v, want ErrTransport", err)
		}
	}
	if n := m.ActiveTimers(); n != 0 {
		t.Errorf("활성 타이머 = %d, want 0", n)
	}
	if n := clock.pending(); n != 0 {
		t.Errorf("시계에 남은 타이머 = %d, want 0", n)
	}
	if m.State() != StateDisconnected {
		t.Errorf("상태 = %v, want disconnected", m.State())
	}

	// 두 번째 Disconnect는 아무 일도 하지 않습니다.
	m.Disconnect()
	if len(errs) != 2 {
		t.Errorf("두 번째 Disconnect 후 콜백 = %d, want 2", len(errs))
	}
}

// TestManager_RequestReply는 correlationId가 같은 응답으로 요청이 완료되는지 검증합니다.
func TestManager_RequestReply(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	mt := metrics.NewMetrics()
	m := newTestManager(d, clock, WithMetrics(mt))
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	replies := make(chan Envelope, 1)
	id, err := m.Request(Envelope{Type: "query"}, 0, func(env Envelope, err error) {
		if err != nil {
			t.Errorf("응답 오류 = %v", err)
		}
		replies <- env
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	reply := wireFrame(EventStatus, "r-1", map[string]interface{}{"status": "running"})
	reply["correlationId"] = id
	conn.push(t, reply)

	select {
	case env := <-replies:
		if env.CorrelationID != id {
			t.Errorf("CorrelationID = %q, want %q", env.CorrelationID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("응답이 전달되지 않았습니다")
	}
	if got := mt.RequestsResolved.Load(); got != 1 {
		t.Errorf("RequestsResolved = %d, want 1", got)
	}
	if n := m.Info().PendingRequests; n != 0 {
		t.Errorf("PendingRequests = %d, want 0", n)
	}
}

// TestManager_RequestTimeout은 응답이 없으면 ErrTimeout으로 종료되는지 검증합니다.
func TestManager_RequestTimeout(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(d, clock)
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	var got error
	if _, err := m.Request(Envelope{Type: "query"}, 3*time.Second, func(_ Envelope, err error) { got = err }); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	clock.Advance(3 * time.Second)
	if !errors.Is(got, ErrTimeout) {
		t.Errorf("요청 오류 = %v, want ErrTimeout", got)
	}
}

// TestManager_DuplicateCorrelation은 같은 correlationId로 두 번 요청할 수 없는지 검증합니다.
func TestManager_DuplicateCorrelation(t *testing.T) {
	m := newTestManager(&scriptedDialer{}, newManualClock())
	msg := Envelope{Type: "query", CorrelationID: "c-1"}
	if _, err := m.Request(msg, time.Second, func(Envelope, error) {}); err != nil {
		t.Fatalf("첫 Request error = %v", err)
	}
	if _, err := m.Request(msg, time.Second, func(Envelope, error) {}); !errors.Is(err, ErrDuplicateCorrelation) {
		t.Errorf("중복 Request error = %v, want ErrDuplicateCorrelation", err)
	}
}

// TestManager_AuthErrorIsTerminal은 인증 거부가 재시도 없이 Error로 전이하는지 검증합니다.
func TestManager_AuthErrorIsTerminal(t *testing.T) {
	clock := newManualClock()
	d := &scriptedDialer{results: []dialResult{{err: fmt.Errorf("%w: 401", ErrAuth)}}}
	mt := metrics.NewMetrics()

	fatal := make(chan error, 1)
	m := newTestManager(d, clock, WithMetrics(mt), OnFatal(func(err error) { fatal <- err }))
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateError)

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrAuth) {
			t.Errorf("fatal 오류 = %v, want ErrAuth", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnFatal이 호출되지 않았습니다")
	}

	clock.Advance(time.Hour)
	if got := d.calls.Load(); got != 1 {
		t.Errorf("dial 호출 = %d, want 1", got)
	}
	if got := mt.AuthFailures.Load(); got != 1 {
		t.Errorf("AuthFailures = %d, want 1", got)
	}
}

// TestManager_ConnectTimeout은 연결 수립 시간 초과가 전송 장애처럼 재연결로 이어지는지 검증합니다.
func TestManager_ConnectTimeout(t *testing.T) {
	clock := newManualClock()
	release := make(chan struct{})
	defer close(release)

	d := DialerFunc(func(ctx context.Context, _ string, _ Auth) (Conn, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return nil, ErrTransport
		}
	})
	m := newTestManager(d, clock, WithConnectTimeout(5*time.Second))
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	if m.State() != StateConnecting {
		t.Fatalf("상태 = %v, want connecting", m.State())
	}
	clock.Advance(5 * time.Second)
	if m.State() != StateReconnecting {
		t.Fatalf("시간 초과 후 상태 = %v, want reconnecting", m.State())
	}
	if !errors.Is(m.Info().LastError, ErrTimeout) {
		t.Errorf("LastError = %v, want ErrTimeout", m.Info().LastError)
	}
}

// TestManager_MalformedFrameKeepsConnection은 잘못된 프레임이 연결을 끊지 않는지 검증합니다.
func TestManager_MalformedFrameKeepsConnection(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	mt := metrics.NewMetrics()
	m := newTestManager(d, clock, WithMetrics(mt))
	defer m.Close()

	got := make(chan Envelope, 1)
	m.Handle(EventStep, func(env Envelope) { got <- env })

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	conn.push(t, "not json")
	conn.push(t, `{"type":"step","timestamp":1}`)
	conn.push(t, wireFrame(EventStep, "s-1", map[string]interface{}{"step": "build"}))

	select {
	case env := <-got:
		if env.MessageID != "s-1" {
			t.Errorf("MessageID = %q, want s-1", env.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("유효한 프레임이 전달되지 않았습니다")
	}
	if got := mt.ProtocolErrors.Load(); got != 2 {
		t.Errorf("ProtocolErrors = %d, want 2", got)
	}
	if m.State() != StateConnected {
		t.Errorf("상태 = %v, want connected", m.State())
	}
}

// TestManager_ReceiveOnlySend는 수신 전용 연결에서 Send가 ErrReceiveOnly를 반환하는지 검증합니다.
func TestManager_ReceiveOnlySend(t *testing.T) {
	clock := newManualClock()
	conn := newFakeConn(false)
	d := &scriptedDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(d, clock)
	defer m.Close()

	_ = m.Connect("http://example/stream")
	waitState(t, m, StateConnected)

	if _, err := m.Send(Envelope{Type: "command"}); !errors.Is(err, ErrReceiveOnly) {
		t.Errorf("Send error = %v, want ErrReceiveOnly", err)
	}
}

// TestManager_PendingSurvivesReconnect는 전송 장애 재연결 중에도 대기 요청이 유지되는지 검증합니다.
func TestManager_PendingSurvivesReconnect(t *testing.T) {
	clock := newManualClock()
	first := newFakeConn(true)
	second := newFakeConn(true)
	d := &scriptedDialer{results: []dialResult{{conn: first}, {conn: second}}}
	m := newTestManager(d, clock)
	defer m.Close()

	_ = m.Connect("ws://example/stream")
	waitState(t, m, StateConnected)

	replies := make(chan error, 1)
	id, _ := m.Request(Envelope{Type: "query"}, time.Minute, func(_ Envelope, err error) { replies <- err })

	first.drop()
	waitState(t, m, StateReconnecting)
	if got := m.Info().PendingRequests; got != 1 {
		t.Fatalf("재연결 중 PendingRequests = %d, want 1", got)
	}
	clock.Advance(fixedBackoff().Delay(1))
	waitState(t, m, StateConnected)

	reply := wireFrame(EventStatus, "r-9", nil)
	reply["requestId"] = id
	second.push(t, reply)

	select {
	case err := <-replies:
		if err != nil {
			t.Errorf("응답 오류 = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("재연결 후 응답이 전달되지 않았습니다")
	}
}

// TestManager_CloseRejectsUse는 Close 이후 API가 ErrClosed를 반환하는지 검증합니다.
func TestManager_CloseRejectsUse(t *testing.T) {
	m := newTestManager(&scriptedDialer{}, newManualClock())
	_, _ = m.Send(Envelope{Type: "command"})
	m.Close()

	if err := m.Connect("ws://example/stream"); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect error = %v, want ErrClosed", err)
	}
	if _, err := m.Send(Envelope{Type: "command"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send error = %v, want ErrClosed", err)
	}
	if got := m.Info().QueuedMessages; got != 0 {
		t.Errorf("Close 후 QueuedMessages = %d, want 0", got)
	}
}

// TestManager_FailedRequestNotSentAfterReconnect는 실패를 통보받은 요청이
// 대기열에 남아 다음 연결 때 전송되지 않는지 검증합니다.
func TestManager_FailedRequestNotSentAfterReconnect(t *testing.T) {
	tests := []struct {
		name    string
		fail    func(m *Manager, clock *manualClock)
		wantErr error
	}{
		{
			name:    "Disconnect로 거부",
			fail:    func(m *Manager, _ *manualClock) { m.Disconnect() },
			wantErr: ErrTransport,
		},
		{
			name:    "응답 시간 초과",
			fail:    func(_ *Manager, clock *manualClock) { clock.Advance(5 * time.Second) },
			wantErr: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newManualClock()
			conn := newFakeConn(true)
			d := &scriptedDialer{results: []dialResult{{conn: conn}}}
			m := newTestManager(d, clock)
			defer m.Close()

			var got error
			if _, err := m.Request(Envelope{Type: "cancel", MessageID: "req-1"}, 5*time.Second, func(_ Envelope, err error) {
				got = err
			}); err != nil {
				t.Fatalf("Request error = %v", err)
			}
			if _, err := m.Send(Envelope{Type: "command", MessageID: "cmd-1"}); err != nil {
				t.Fatalf("Send error = %v", err)
			}

			tt.fail(m, clock)
			if !errors.Is(got, tt.wantErr) {
				t.Fatalf("요청 오류 = %v, want %v", got, tt.wantErr)
			}
			if n := m.Info().QueuedMessages; n != 1 {
				t.Errorf("QueuedMessages = %d, want 1", n)
			}

			_ = m.Connect("ws://example/stream")
			waitState(t, m, StateConnected)

			if sent := conn.sent(); !reflect.DeepEqual(sent, []string{"cmd-1"}) {
				t.Errorf("재연결 후 전송 = %v, want [cmd-1]", sent)
			}
		})
	}
}
