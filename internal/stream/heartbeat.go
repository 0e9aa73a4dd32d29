package stream

import (
	"time"
)

// 하트비트 기본값입니다.
const (
	// DefaultHeartbeatInterval은 생존 ping 전송 간격입니다.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultTimeoutMultiplier는 간격 대비 워치독 제한 배수입니다.
	DefaultTimeoutMultiplier = 2.0
)

// HeartbeatConfig는 하트비트 모니터 설정입니다.
type HeartbeatConfig struct {
	// Interval은 ping 전송 간격입니다.
	Interval time.Duration
	// TimeoutMultiplier는 Interval에 곱해 워치독 제한을 만듭니다.
	TimeoutMultiplier float64
}

// Timeout은 생존 신호 없이 버틸 수 있는 최대 시간입니다.
func (c HeartbeatConfig) Timeout() time.Duration {
	return time.Duration(float64(c.Interval) * c.TimeoutMultiplier)
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultHeartbeatInterval
	}
	if c.TimeoutMultiplier <= 1 {
		c.TimeoutMultiplier = DefaultTimeoutMultiplier
	}
	return c
}

// heartbeatMonitor는 연결된 동안에만 동작하는 두 개의 독립 타이머를 가집니다.
//   - emitter: 양방향 전송이면 Interval마다 ping을 보냅니다.
//   - watchdog: Timeout 동안 어떤 프레임도 받지 못하면 연결을 stale로 선언합니다.
//
// 워치독 기한은 하트비트 응답뿐 아니라 모든 수신 프레임으로 갱신됩니다.
type heartbeatMonitor struct {
	cfg    HeartbeatConfig
	timers *timerSet
	clock  Clock

	// ping은 생존 ping을 전송합니다. 실패하면 onFailure가 호출됩니다.
	ping func() error
	// onStale은 워치독 기한 초과 시 호출됩니다.
	onStale func()
	// onFailure는 ping 전송 실패 시 호출됩니다.
	onFailure func(err error)

	emitter      *timerHandle
	watchdog     *timerHandle
	lastLiveness time.Time
	running      bool
}

func newHeartbeatMonitor(cfg HeartbeatConfig, timers *timerSet, clock Clock) *heartbeatMonitor {
	return &heartbeatMonitor{
		cfg:    cfg.withDefaults(),
		timers: timers,
		clock:  clock,
	}
}

// start는 모니터를 (재)가동합니다. bidirectional이 false면 워치독만 동작합니다.
func (h *heartbeatMonitor) start(bidirectional bool) {
	h.stop()
	h.running = true
	h.lastLiveness = h.clock.Now()

	if bidirectional && h.ping != nil {
		h.armEmitter()
	}
	h.armWatchdog(h.cfg.Timeout())
}

// stop은 두 타이머를 모두 해제합니다.
func (h *heartbeatMonitor) stop() {
	h.running = false
	h.emitter.stop()
	h.watchdog.stop()
	h.emitter = nil
	h.watchdog = nil
}

// touch는 생존 신호를 기록합니다.
func (h *heartbeatMonitor) touch() {
	h.lastLiveness = h.clock.Now()
}

// last는 마지막 생존 신호 시각입니다.
func (h *heartbeatMonitor) last() time.Time {
	return h.lastLiveness
}

func (h *heartbeatMonitor) armEmitter() {
	h.emitter = h.timers.after(h.cfg.Interval, func() {
		if !h.running {
			return
		}
		if err := h.ping(); err != nil {
			if h.onFailure != nil {
				h.onFailure(err)
			}
			return
		}
		h.armEmitter()
	})
}

// armWatchdog은 d 후에 기한을 검사합니다.
// 그 사이 생존 신호가 있었다면 남은 시간만큼 다시 대기합니다.
func (h *heartbeatMonitor) armWatchdog(d time.Duration) {
	h.watchdog = h.timers.after(d, func() {
		if !h.running {
			return
		}
		timeout := h.cfg.Timeout()
		elapsed := h.clock.Now().Sub(h.lastLiveness)
		if elapsed < timeout {
			h.armWatchdog(timeout - elapsed)
			return
		}
		if h.onStale != nil {
			h.onStale()
		}
	})
}
