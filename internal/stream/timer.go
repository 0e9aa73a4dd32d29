package stream

import "time"

// Timer는 취소 가능한 단발성 타이머입니다.
type Timer interface {
	Stop() bool
}

// Clock은 현재 시각과 타이머를 제공합니다.
// 테스트에서 가짜 시계를 주입할 수 있도록 인터페이스로 정의합니다.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// realClock은 time 패키지 기반의 기본 Clock입니다.
type realClock struct{}

// SystemClock은 실제 시간을 사용하는 Clock을 반환합니다.
func SystemClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerSet은 한 매니저가 소유한 모든 타이머를 관리합니다.
// 타이머 콜백은 run을 통해 소유자의 직렬화 구간 안에서 실행되며,
// 이미 취소된 타이머의 콜백은 실행되지 않습니다.
// timerSet 자체는 잠금이 없으므로 항상 소유자의 직렬화 구간 안에서만 호출해야 합니다.
type timerSet struct {
	clock  Clock
	run    func(func())
	active map[*timerHandle]struct{}
}

// timerHandle은 timerSet에 등록된 개별 타이머입니다.
type timerHandle struct {
	owner *timerSet
	t     Timer
}

func newTimerSet(clock Clock, run func(func())) *timerSet {
	return &timerSet{
		clock:  clock,
		run:    run,
		active: make(map[*timerHandle]struct{}),
	}
}

// after는 d 이후 fn을 실행하는 타이머를 등록합니다.
func (s *timerSet) after(d time.Duration, fn func()) *timerHandle {
	h := &timerHandle{owner: s}
	s.active[h] = struct{}{}
	h.t = s.clock.AfterFunc(d, func() {
		s.run(func() {
			if _, ok := s.active[h]; !ok {
				return
			}
			delete(s.active, h)
			fn()
		})
	})
	return h
}

// stop은 타이머를 취소합니다. nil 핸들에도 안전합니다.
func (h *timerHandle) stop() {
	if h == nil {
		return
	}
	if _, ok := h.owner.active[h]; !ok {
		return
	}
	delete(h.owner.active, h)
	if h.t != nil {
		h.t.Stop()
	}
}

// armed는 타이머가 아직 발화하지 않았고 취소되지도 않았는지 확인합니다.
func (h *timerHandle) armed() bool {
	if h == nil {
		return false
	}
	_, ok := h.owner.active[h]
	return ok
}

// stopAll은 등록된 모든 타이머를 취소합니다.
func (s *timerSet) stopAll() {
	for h := range s.active {
		delete(s.active, h)
		if h.t != nil {
			h.t.Stop()
		}
	}
}

// len은 현재 대기 중인 타이머 수를 반환합니다.
func (s *timerSet) len() int {
	return len(s.active)
}
