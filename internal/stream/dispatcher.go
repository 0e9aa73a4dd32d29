package stream

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/insajin/pvg-stream/internal/metrics"
)

// DefaultDedupeSize는 중복 제거용으로 기억하는 최근 messageId 수입니다.
const DefaultDedupeSize = 256

// Handler는 타입별 엔벨로프 처리 함수입니다.
type Handler func(env Envelope)

// Dispatcher는 원시 프레임을 검증하고 분류하여 타입별 핸들러 하나로 전달합니다.
// 잘못된 프레임은 버리고 카운터만 증가시키며 연결에는 영향을 주지 않습니다.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType]Handler

	// seen은 최근 처리한 messageId 캐시입니다 (재전송 중복 제거).
	seen *lru.Cache[string, struct{}]

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewDispatcher는 새 Dispatcher를 생성합니다.
// dedupeSize가 0 이하이면 중복 제거를 하지 않습니다.
func NewDispatcher(dedupeSize int, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[EventType]Handler),
		metrics:  m,
		logger:   logger,
	}
	if dedupeSize > 0 {
		// 양수 크기에서는 오류가 발생하지 않습니다.
		d.seen, _ = lru.New[string, struct{}](dedupeSize)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewMetrics()
	}
	return d
}

// Handle은 타입에 대한 핸들러를 등록합니다. 같은 타입의 기존 핸들러는 교체됩니다.
func (d *Dispatcher) Handle(t EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t.Normalize()] = h
}

// Decode는 프레임을 검증된 엔벨로프로 변환합니다.
// 실패하면 프로토콜 오류 카운터를 증가시키고 ErrProtocol을 반환합니다.
// 최근에 본 messageId면 duplicate=true를 반환합니다.
func (d *Dispatcher) Decode(frame []byte) (env Envelope, duplicate bool, err error) {
	d.metrics.MessagesReceived.Add(1)
	d.metrics.BytesReceived.Add(int64(len(frame)))

	env, err = DecodeEnvelope(frame)
	if err != nil {
		d.metrics.ProtocolErrors.Add(1)
		d.logger.Warn().
			Err(err).
			Int("frame_size", len(frame)).
			Msg("잘못된 프레임을 버립니다")
		return Envelope{}, false, err
	}

	if d.seen != nil && env.Type != EventHeartbeat {
		if ok, _ := d.seen.ContainsOrAdd(env.MessageID, struct{}{}); ok {
			d.metrics.DuplicateMessages.Add(1)
			d.logger.Debug().
				Str("message_id", env.MessageID).
				Str("type", string(env.Type)).
				Msg("중복 전달된 메시지를 버립니다")
			return env, true, nil
		}
	}

	return env, false, nil
}

// Route는 엔벨로프를 타입에 맞는 핸들러 하나로 전달합니다.
// 알 수 없는 타입은 로그만 남기고 무시합니다 (서버 신버전 호환).
func (d *Dispatcher) Route(env Envelope) bool {
	d.mu.RLock()
	h, ok := d.handlers[env.Type]
	d.mu.RUnlock()

	if !ok {
		d.metrics.UnknownMessages.Add(1)
		d.logger.Debug().
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Msg("알 수 없는 메시지 타입, 무시합니다")
		return false
	}

	h(env)
	return true
}

// Dispatch는 Decode와 Route를 한 번에 수행합니다.
// 프로토콜 오류만 반환하며, 중복/미지 타입은 오류가 아닙니다.
func (d *Dispatcher) Dispatch(frame []byte) error {
	env, duplicate, err := d.Decode(frame)
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}
	d.Route(env)
	return nil
}
