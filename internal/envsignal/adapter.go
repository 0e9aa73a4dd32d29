package envsignal

import (
	"sync"

	"github.com/rs/zerolog"
)

// Target은 환경 신호에 따라 일시 중지/재개되는 대상입니다.
// watch.Aggregator가 이 인터페이스를 만족합니다.
type Target interface {
	// Pause는 모든 연결을 끊습니다.
	Pause()
	// Resume은 구독 중인 모든 태스크를 시도 횟수 0부터 다시 연결합니다.
	Resume()
}

// Adapter는 환경 신호를 Target의 Pause/Resume으로 변환합니다.
// 오프라인이거나 가려진 동안에는 일시 중지하고, 온라인이면서 보이는 상태가 되면 재개합니다.
type Adapter struct {
	target Target
	logger zerolog.Logger

	mu      sync.Mutex
	offline bool
	hidden  bool
	paused  bool
	detach  []func()
}

// NewAdapter는 새 Adapter를 생성합니다.
func NewAdapter(target Target, logger zerolog.Logger) *Adapter {
	return &Adapter{
		target: target,
		logger: logger.With().Str("component", "envsignal").Logger(),
	}
}

// Attach는 신호 소스를 구독합니다. 여러 소스를 함께 연결할 수 있습니다.
func (a *Adapter) Attach(src EnvironmentSignal) {
	unsub := src.Subscribe(a.Handle)
	a.mu.Lock()
	a.detach = append(a.detach, unsub)
	a.mu.Unlock()
}

// Close는 모든 소스 구독을 해제합니다.
func (a *Adapter) Close() {
	a.mu.Lock()
	detach := a.detach
	a.detach = nil
	a.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// Paused는 현재 신호로 인해 일시 중지 상태인지 확인합니다.
func (a *Adapter) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Handle은 신호 하나를 처리합니다.
func (a *Adapter) Handle(sig Signal) {
	a.mu.Lock()
	switch sig {
	case Online:
		a.offline = false
	case Offline:
		a.offline = true
	case Visible:
		a.hidden = false
	case Hidden:
		a.hidden = true
	default:
		a.mu.Unlock()
		return
	}

	shouldPause := a.offline || a.hidden
	if shouldPause == a.paused {
		a.mu.Unlock()
		a.logger.Debug().Str("signal", sig.String()).Msg("환경 신호, 상태 변화 없음")
		return
	}
	a.paused = shouldPause
	a.mu.Unlock()

	if shouldPause {
		a.logger.Info().Str("signal", sig.String()).Msg("환경 신호로 스트림을 일시 중지합니다")
		a.target.Pause()
		return
	}
	a.logger.Info().Str("signal", sig.String()).Msg("환경 신호로 스트림을 재개합니다")
	a.target.Resume()
}
