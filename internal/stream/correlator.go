package stream

import (
	"fmt"
	"time"

	"github.com/insajin/pvg-stream/internal/metrics"
)

// DefaultRequestTimeout은 응답을 기다리는 요청의 기본 시간 제한입니다.
const DefaultRequestTimeout = 10 * time.Second

// ReplyFunc는 요청의 결과를 받는 콜백입니다. 응답 또는 오류 중 하나만 전달됩니다.
type ReplyFunc func(reply Envelope, err error)

// pendingRequest는 응답을 기다리는 송신 요청입니다.
type pendingRequest struct {
	correlationID string
	messageID     string
	sentAt        time.Time
	timer         *timerHandle
	done          ReplyFunc
}

// correlator는 송신 요청과 수신 응답을 correlation id로 짝짓습니다.
// correlation id마다 대기 중인 요청은 최대 하나입니다.
// 잠금이 없으며 소유한 매니저의 직렬화 구간 안에서만 호출합니다.
type correlator struct {
	timers  *timerSet
	clock   Clock
	pending map[string]*pendingRequest
	metrics *metrics.Metrics
	// notify는 콜백을 소유자의 잠금 밖에서 실행하도록 미룹니다.
	notify func(func())
	// withdraw는 실패로 끝난 요청이 아직 송신 대기열에 있으면 꺼냅니다.
	withdraw func(messageID string)
}

func newCorrelator(timers *timerSet, clock Clock, m *metrics.Metrics, notify func(func()), withdraw func(string)) *correlator {
	if withdraw == nil {
		withdraw = func(string) {}
	}
	return &correlator{
		timers:   timers,
		clock:    clock,
		pending:  make(map[string]*pendingRequest),
		metrics:  m,
		notify:   notify,
		withdraw: withdraw,
	}
}

// register는 대기 요청을 등록하고 시간 제한 타이머를 설정합니다.
// messageID는 요청 엔벨로프의 ID로, 실패 시 대기열에서 꺼낼 때 사용합니다.
func (c *correlator) register(correlationID, messageID string, timeout time.Duration, done ReplyFunc) error {
	if _, exists := c.pending[correlationID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelation, correlationID)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	req := &pendingRequest{
		correlationID: correlationID,
		messageID:     messageID,
		sentAt:        c.clock.Now(),
		done:          done,
	}
	req.timer = c.timers.after(timeout, func() {
		if c.pending[correlationID] != req {
			return
		}
		delete(c.pending, correlationID)
		c.withdraw(req.messageID)
		c.metrics.RequestTimeouts.Add(1)
		err := fmt.Errorf("%w: 요청 %s 응답 대기 %v 초과", ErrTimeout, correlationID, timeout)
		c.notify(func() { req.done(Envelope{}, err) })
	})
	c.pending[correlationID] = req
	return nil
}

// resolve는 응답 엔벨로프를 대기 요청과 매칭합니다. 매칭되면 true를 반환합니다.
func (c *correlator) resolve(env Envelope) bool {
	if env.CorrelationID == "" {
		return false
	}
	req, ok := c.pending[env.CorrelationID]
	if !ok {
		return false
	}
	delete(c.pending, env.CorrelationID)
	req.timer.stop()

	c.metrics.RequestsResolved.Add(1)
	c.metrics.RecordLatency(c.clock.Now().Sub(req.sentAt))
	c.notify(func() { req.done(env, nil) })
	return true
}

// reject는 특정 요청 하나를 오류로 종료합니다.
func (c *correlator) reject(correlationID string, err error) {
	req, ok := c.pending[correlationID]
	if !ok {
		return
	}
	delete(c.pending, correlationID)
	req.timer.stop()
	c.withdraw(req.messageID)
	c.notify(func() { req.done(Envelope{}, err) })
}

// rejectAll은 모든 대기 요청을 err로 종료합니다. 타이머도 모두 해제됩니다.
// 실패를 통보받은 요청은 이후 재연결 때 전송되지 않습니다.
func (c *correlator) rejectAll(err error) {
	for id, req := range c.pending {
		delete(c.pending, id)
		req.timer.stop()
		c.withdraw(req.messageID)
		r := req
		c.notify(func() { r.done(Envelope{}, err) })
	}
}

// len은 대기 중인 요청 수를 반환합니다.
func (c *correlator) len() int {
	return len(c.pending)
}
