// Package stream은 태스크 진행 스트림 하나의 연결 수명주기를 담당합니다.
// Manager는 백오프, 하트비트, 디스패처, 송신 대기열, 요청 상관기를 하나의 상태 기계로 묶습니다.
//
// 모든 상태 전이는 m.mu로 직렬화된 콜백(수신 프레임, 타이머 발화, 호출자 API) 안에서
// 끝까지 실행됩니다. 외부 콜백은 잠금을 해제한 뒤 호출됩니다.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/insajin/pvg-stream/internal/metrics"
)

// DefaultConnectTimeout은 연결 수립 제한 시간입니다.
const DefaultConnectTimeout = 10 * time.Second

// DefaultMaxReconnectAttempts는 Error 상태로 가기 전 재연결 시도 횟수입니다.
const DefaultMaxReconnectAttempts = 5

// State는 연결 상태입니다.
type State int32

const (
	// StateDisconnected는 연결되지 않은 초기 상태입니다.
	StateDisconnected State = iota
	// StateConnecting은 전송을 여는 중인 상태입니다.
	StateConnecting
	// StateConnected는 연결된 상태입니다.
	StateConnected
	// StateReconnecting은 백오프 대기 중인 상태입니다.
	StateReconnecting
	// StateError는 재시도를 멈춘 상태입니다. 명시적 Connect로만 벗어납니다.
	StateError
)

// String은 State의 문자열 표현을 반환합니다.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SendResult는 Send 결과입니다.
type SendResult int

const (
	// SendSent는 즉시 전송되었음을 뜻합니다.
	SendSent SendResult = iota
	// SendQueued는 대기열에 보관되어 재연결 시 전송됨을 뜻합니다.
	SendQueued
)

// String은 SendResult의 문자열 표현을 반환합니다.
func (r SendResult) String() string {
	if r == SendQueued {
		return "queued"
	}
	return "sent"
}

// ConnectionInfo는 연결 상태의 읽기 전용 사본입니다.
type ConnectionInfo struct {
	ID                 string
	Endpoint           string
	State              State
	Attempt            int
	ConnectedAt        time.Time
	LastLivenessAt     time.Time
	QueuedMessages     int
	PendingRequests    int
	ReconnectScheduled bool
	LastError          error
}

// Manager는 하나의 논리 스트림 수명주기를 소유합니다.
type Manager struct {
	id      string
	dialer  Dialer
	auth    Auth
	clock   Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	backoff              Backoff
	maxReconnectAttempts int
	connectTimeout       time.Duration
	requestTimeout       time.Duration
	heartbeatCfg         HeartbeatConfig
	queueCapacity        int
	dedupeSize           int

	onStateChange func(from, to State)
	onFatal       func(err error)

	mu       sync.Mutex
	deferred []func()

	state       State
	endpoint    string
	attempt     int
	connectedAt time.Time
	conn        Conn
	// gen은 연결 세대입니다. 증가하면 이전 dial/read 콜백은 무시됩니다.
	gen        uint64
	dialCancel context.CancelFunc
	closed     bool
	lastErr    error

	timers         *timerSet
	reconnectTimer *timerHandle
	connectTimer   *timerHandle
	heartbeat      *heartbeatMonitor
	queue          *OutboundQueue
	correlator     *correlator
	dispatcher     *Dispatcher
}

// Option은 Manager 설정 옵션입니다.
type Option func(*Manager)

// WithAuth는 연결 시 첨부할 인증 정보를 설정합니다.
func WithAuth(auth Auth) Option {
	return func(m *Manager) { m.auth = auth }
}

// WithClock은 시계를 설정합니다 (테스트용).
func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics는 공유 메트릭을 설정합니다.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithBackoff는 재연결 백오프를 설정합니다.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMaxReconnectAttempts는 최대 재연결 시도 횟수를 설정합니다 (0 = 무제한).
func WithMaxReconnectAttempts(n int) Option {
	return func(m *Manager) {
		if n < 0 {
			n = 0
		}
		m.maxReconnectAttempts = n
	}
}

// WithConnectTimeout은 연결 수립 제한 시간을 설정합니다.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithRequestTimeout은 Call의 기본 응답 제한 시간을 설정합니다.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// WithHeartbeat는 하트비트 설정을 지정합니다.
func WithHeartbeat(cfg HeartbeatConfig) Option {
	return func(m *Manager) { m.heartbeatCfg = cfg }
}

// WithQueueCapacity는 송신 대기열 용량을 설정합니다.
func WithQueueCapacity(n int) Option {
	return func(m *Manager) { m.queueCapacity = n }
}

// WithDedupeSize는 중복 제거용 messageId 캐시 크기를 설정합니다 (0 = 비활성).
func WithDedupeSize(n int) Option {
	return func(m *Manager) { m.dedupeSize = n }
}

// OnStateChange는 상태 전이 콜백을 설정합니다.
func OnStateChange(fn func(from, to State)) Option {
	return func(m *Manager) { m.onStateChange = fn }
}

// OnFatal은 Error 상태 진입 시 호출되는 콜백을 설정합니다.
func OnFatal(fn func(err error)) Option {
	return func(m *Manager) { m.onFatal = fn }
}

// NewManager는 새 Manager를 생성합니다. 상태는 Disconnected로 시작합니다.
func NewManager(id string, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		id:                   id,
		dialer:               dialer,
		clock:                SystemClock(),
		logger:               zerolog.Nop(),
		backoff:              DefaultBackoff(),
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		connectTimeout:       DefaultConnectTimeout,
		requestTimeout:       DefaultRequestTimeout,
		queueCapacity:        DefaultQueueCapacity,
		dedupeSize:           DefaultDedupeSize,
		state:                StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewMetrics()
	}
	m.logger = m.logger.With().Str("component", "stream").Str("stream_id", id).Logger()

	m.timers = newTimerSet(m.clock, m.run)
	m.queue = NewOutboundQueue(m.queueCapacity)
	m.correlator = newCorrelator(m.timers, m.clock, m.metrics, m.later, func(id string) {
		if m.queue.Remove(id) {
			m.logger.Debug().Str("message_id", id).Msg("실패한 요청을 송신 대기열에서 제거")
		}
	})
	m.dispatcher = NewDispatcher(m.dedupeSize, m.metrics, m.logger)

	m.heartbeat = newHeartbeatMonitor(m.heartbeatCfg, m.timers, m.clock)
	m.heartbeat.ping = m.sendPing
	m.heartbeat.onStale = func() {
		m.metrics.HeartbeatTimeouts.Add(1)
		m.handleFailure(m.gen, fmt.Errorf("%w: %v 동안 생존 신호 없음", ErrTimeout, m.heartbeat.cfg.Timeout()))
	}
	m.heartbeat.onFailure = func(err error) {
		m.handleFailure(m.gen, fmt.Errorf("하트비트 전송 실패: %w", err))
	}

	return m
}

// run은 fn을 직렬화 구간에서 실행하고, 그동안 미뤄진 콜백을 잠금 해제 후 호출합니다.
func (m *Manager) run(fn func()) {
	m.mu.Lock()
	fn()
	deferred := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, f := range deferred {
		f()
	}
}

// later는 외부 콜백을 현재 직렬화 구간이 끝난 뒤로 미룹니다.
func (m *Manager) later(f func()) {
	m.deferred = append(m.deferred, f)
}

// ID는 스트림 식별자를 반환합니다.
func (m *Manager) ID() string {
	return m.id
}

// Handle은 엔벨로프 타입별 핸들러를 등록합니다.
// 핸들러는 매니저 잠금 밖에서, 한 연결의 도착 순서대로 호출됩니다.
func (m *Manager) Handle(t EventType, h Handler) {
	m.dispatcher.Handle(t, h)
}

// Connect는 endpoint로 연결을 시작합니다. endpoint가 비어 있으면 이전 엔드포인트를 재사용합니다.
// 이미 Connected/Connecting이면 아무것도 하지 않습니다.
// Reconnecting/Error 상태에서 호출하면 시도 횟수를 초기화하고 즉시 연결합니다.
func (m *Manager) Connect(endpoint string) error {
	var err error
	m.run(func() {
		if m.closed {
			err = ErrClosed
			return
		}
		if m.state == StateConnected || m.state == StateConnecting {
			return
		}
		if endpoint != "" {
			m.endpoint = endpoint
		}
		if m.endpoint == "" {
			err = errors.New("엔드포인트가 비어 있습니다")
			return
		}

		m.reconnectTimer.stop()
		m.reconnectTimer = nil
		m.attempt = 0
		m.lastErr = nil
		m.beginDial()
	})
	return err
}

// Disconnect는 모든 타이머를 취소하고 전송을 닫은 뒤 Disconnected로 전이합니다.
// 대기 중인 요청은 모두 즉시 거부됩니다. 여러 번 호출해도 안전합니다.
// 송신 대기열은 유지되어 다음 Connect 시 전송됩니다.
func (m *Manager) Disconnect() {
	m.run(func() {
		m.disconnectLocked(fmt.Errorf("%w: 연결이 명시적으로 종료되었습니다", ErrTransport))
	})
}

// Close는 Disconnect 후 송신 대기열을 비우고 매니저를 폐기합니다.
func (m *Manager) Close() {
	m.run(func() {
		m.disconnectLocked(fmt.Errorf("%w: %v", ErrTransport, ErrClosed))
		m.queue.Clear()
		m.closed = true
	})
}

func (m *Manager) disconnectLocked(reason error) {
	m.teardownConn()
	m.reconnectTimer.stop()
	m.reconnectTimer = nil
	m.correlator.rejectAll(reason)
	m.timers.stopAll()
	m.attempt = 0
	m.setState(StateDisconnected)
}

// Send는 연결되어 있으면 즉시 전송하고, 아니면 대기열에 보관합니다.
// 대기열이 가득 차면 ErrCapacity를 반환합니다.
func (m *Manager) Send(msg Envelope) (SendResult, error) {
	var (
		result SendResult
		err    error
	)
	m.run(func() {
		if m.closed {
			err = ErrClosed
			return
		}
		result, err = m.sendLocked(m.prepare(msg))
	})
	return result, err
}

// Request는 응답이 필요한 메시지를 보내고 done으로 결과를 전달합니다.
// CorrelationID가 비어 있으면 새로 할당합니다. timeout이 0이면 기본값을 사용합니다.
// 전송 자체가 실패하면(용량 초과 등) done은 호출되지 않고 오류가 반환됩니다.
func (m *Manager) Request(msg Envelope, timeout time.Duration, done ReplyFunc) (string, error) {
	msg = m.prepare(msg)
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}
	if timeout <= 0 {
		timeout = m.requestTimeout
	}

	var err error
	m.run(func() {
		if m.closed {
			err = ErrClosed
			return
		}
		if _, exists := m.correlator.pending[msg.CorrelationID]; exists {
			err = fmt.Errorf("%w: %s", ErrDuplicateCorrelation, msg.CorrelationID)
			return
		}
		if _, err = m.sendLocked(msg); err != nil {
			return
		}
		err = m.correlator.register(msg.CorrelationID, msg.MessageID, timeout, done)
	})
	return msg.CorrelationID, err
}

// Call은 Request의 동기 버전입니다. ctx의 데드라인이 있으면 응답 제한 시간으로 사용합니다.
func (m *Manager) Call(ctx context.Context, msg Envelope) (Envelope, error) {
	type reply struct {
		env Envelope
		err error
	}
	ch := make(chan reply, 1)

	timeout := m.requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return Envelope{}, ctx.Err()
		}
	}

	id, err := m.Request(msg, timeout, func(env Envelope, err error) {
		ch <- reply{env: env, err: err}
	})
	if err != nil {
		return Envelope{}, err
	}

	select {
	case r := <-ch:
		return r.env, r.err
	case <-ctx.Done():
		m.run(func() { m.correlator.reject(id, ctx.Err()) })
		return Envelope{}, ctx.Err()
	}
}

// State는 현재 연결 상태를 반환합니다.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info는 연결 상태의 사본을 반환합니다.
func (m *Manager) Info() ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionInfo{
		ID:                 m.id,
		Endpoint:           m.endpoint,
		State:              m.state,
		Attempt:            m.attempt,
		ConnectedAt:        m.connectedAt,
		LastLivenessAt:     m.heartbeat.last(),
		QueuedMessages:     m.queue.Len(),
		PendingRequests:    m.correlator.len(),
		ReconnectScheduled: m.reconnectTimer.armed(),
		LastError:          m.lastErr,
	}
}

// ActiveTimers는 현재 대기 중인 타이머 수를 반환합니다.
func (m *Manager) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers.len()
}

// prepare는 비어 있는 messageId와 timestamp를 채웁니다.
func (m *Manager) prepare(msg Envelope) Envelope {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.clock.Now().UnixMilli()
	}
	return msg
}

func (m *Manager) sendLocked(msg Envelope) (SendResult, error) {
	if m.state == StateConnected && m.conn != nil {
		if !m.conn.Bidirectional() {
			return SendSent, ErrReceiveOnly
		}
		if err := m.writeLocked(msg); err != nil {
			// 전송 실패 메시지는 대기열에 보관하고 재연결 경로로 넘깁니다.
			qerr := m.queue.Enqueue(msg)
			m.handleFailure(m.gen, err)
			if qerr != nil {
				return SendQueued, qerr
			}
			m.metrics.MessagesQueued.Add(1)
			return SendQueued, nil
		}
		return SendSent, nil
	}

	if err := m.queue.Enqueue(msg); err != nil {
		return SendQueued, err
	}
	m.metrics.MessagesQueued.Add(1)
	m.logger.Debug().
		Str("message_id", msg.MessageID).
		Int("queued", m.queue.Len()).
		Msg("연결되지 않은 상태, 메시지를 대기열에 보관합니다")
	return SendQueued, nil
}

func (m *Manager) writeLocked(msg Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("메시지 직렬화 실패: %w", err)
	}
	if err := m.conn.WriteFrame(data); err != nil {
		return err
	}
	m.metrics.MessagesSent.Add(1)
	m.metrics.BytesSent.Add(int64(len(data)))
	return nil
}

// sendPing는 하트비트 송신기가 호출합니다.
func (m *Manager) sendPing() error {
	if m.conn == nil {
		return fmt.Errorf("%w: 연결이 없습니다", ErrTransport)
	}
	return m.writeLocked(m.prepare(Envelope{Type: EventPing, TaskID: m.id}))
}

// beginDial은 Connecting으로 전이하고 비동기로 전송을 엽니다.
func (m *Manager) beginDial() {
	m.gen++
	gen := m.gen

	m.setState(StateConnecting)
	m.metrics.ConnectionAttempts.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel

	m.connectTimer = m.timers.after(m.connectTimeout, func() {
		if gen != m.gen || m.state != StateConnecting {
			return
		}
		m.connectTimer = nil
		m.handleFailure(gen, fmt.Errorf("%w: 연결 수립 %v 초과", ErrTimeout, m.connectTimeout))
	})

	endpoint, auth, dialer := m.endpoint, m.auth, m.dialer
	m.logger.Debug().
		Str("endpoint", endpoint).
		Int("attempt", m.attempt).
		Msg("스트림 연결 시도")

	go func() {
		conn, err := dialer.Dial(ctx, endpoint, auth)
		m.run(func() { m.onDialResult(gen, conn, err) })
	}()
}

func (m *Manager) onDialResult(gen uint64, conn Conn, err error) {
	if gen != m.gen || m.state != StateConnecting {
		if conn != nil {
			m.later(func() { _ = conn.Close() })
		}
		return
	}

	m.connectTimer.stop()
	m.connectTimer = nil
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if err != nil {
		if errors.Is(err, ErrAuth) {
			m.metrics.AuthFailures.Add(1)
			m.fail(err)
			return
		}
		m.handleFailure(gen, err)
		return
	}

	m.conn = conn
	m.attempt = 0
	m.lastErr = nil
	m.connectedAt = m.clock.Now()
	m.metrics.ConnectionSuccesses.Add(1)
	m.setState(StateConnected)

	m.logger.Info().
		Str("endpoint", m.endpoint).
		Bool("bidirectional", conn.Bidirectional()).
		Msg("스트림 연결 성공")

	// 대기열은 새 송신보다 먼저, 들어온 순서대로 전송합니다.
	if conn.Bidirectional() && m.queue.Len() > 0 {
		n, err := m.queue.Flush(m.writeLocked)
		if n > 0 {
			m.logger.Info().Int("flushed", n).Msg("대기열 메시지 전송 완료")
		}
		if err != nil {
			m.handleFailure(gen, err)
			return
		}
	}

	m.heartbeat.start(conn.Bidirectional())
	go m.readLoop(gen, conn)
}

// readLoop는 연결이 끊길 때까지 프레임을 읽어 도착 순서대로 처리합니다.
func (m *Manager) readLoop(gen uint64, conn Conn) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("readLoop panic 복구")
			m.run(func() { m.handleFailure(gen, fmt.Errorf("%w: readLoop panic: %v", ErrTransport, r)) })
		}
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			m.run(func() { m.handleFailure(gen, err) })
			return
		}
		stale := false
		m.run(func() {
			if gen != m.gen {
				stale = true
				return
			}
			m.handleFrame(frame)
		})
		if stale {
			return
		}
	}
}

func (m *Manager) handleFrame(frame []byte) {
	if m.state != StateConnected {
		return
	}
	// 하트비트 응답뿐 아니라 모든 수신 프레임이 생존 신호입니다.
	m.heartbeat.touch()

	env, duplicate, err := m.dispatcher.Decode(frame)
	if err != nil || duplicate {
		return
	}
	if env.Type == EventHeartbeat {
		m.metrics.RecordHeartbeat()
		return
	}

	m.correlator.resolve(env)
	m.later(func() { m.dispatcher.Route(env) })
}

// handleFailure는 Connecting/Connected 상태의 전송 장애를 재연결 알고리즘으로 넘깁니다.
func (m *Manager) handleFailure(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if m.state != StateConnected && m.state != StateConnecting {
		return
	}

	m.metrics.ConnectionFailures.Add(1)
	m.logger.Warn().
		Err(err).
		Str("state", m.state.String()).
		Int("attempt", m.attempt).
		Msg("연결 장애 감지")

	m.teardownConn()
	m.lastErr = err
	m.scheduleReconnect()
}

// scheduleReconnect는 다음 시도를 백오프 후에 예약하거나, 시도를 소진했으면 Error로 전이합니다.
func (m *Manager) scheduleReconnect() {
	next := m.attempt + 1
	if m.maxReconnectAttempts > 0 && next > m.maxReconnectAttempts {
		m.fail(fmt.Errorf("%w: %d회 시도 후 중단: %v", ErrReconnectExhausted, m.attempt, m.lastErr))
		return
	}

	m.attempt = next
	delay := m.backoff.Delay(next)
	m.metrics.Reconnections.Add(1)
	m.setState(StateReconnecting)

	m.logger.Info().
		Int("attempt", next).
		Dur("delay", delay).
		Msg("재연결 예약")

	m.reconnectTimer = m.timers.after(delay, func() {
		m.reconnectTimer = nil
		if m.state != StateReconnecting {
			return
		}
		m.beginDial()
	})
}

// fail은 Error 상태로 전이합니다. 더 이상 자동 재시도하지 않습니다.
func (m *Manager) fail(err error) {
	m.teardownConn()
	m.reconnectTimer.stop()
	m.reconnectTimer = nil
	m.correlator.rejectAll(err)
	m.timers.stopAll()
	m.lastErr = err
	m.setState(StateError)

	m.logger.Error().Err(err).Msg("스트림을 복구할 수 없습니다")

	if fn := m.onFatal; fn != nil {
		m.later(func() { fn(err) })
	}
}

// teardownConn은 현재 연결 세대를 무효화하고 연결 관련 자원을 해제합니다.
func (m *Manager) teardownConn() {
	m.gen++
	m.heartbeat.stop()
	m.connectTimer.stop()
	m.connectTimer = nil
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		m.later(func() { _ = conn.Close() })
	}
}

func (m *Manager) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	m.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("연결 상태 전이")

	if fn := m.onStateChange; fn != nil {
		m.later(func() { fn(from, to) })
	}
}
