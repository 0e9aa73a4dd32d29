// Package envsignal은 호스트 환경의 신호(네트워크, 화면 표시 여부)를 스트림 정책으로 연결합니다.
// 신호 출처는 EnvironmentSignal 인터페이스 뒤에 숨겨 어떤 런타임에서도 같은 정책을 사용합니다.
package envsignal

import "sync"

// Signal은 호스트 환경 신호입니다.
type Signal int

const (
	// Online은 네트워크가 연결되었음을 뜻합니다.
	Online Signal = iota
	// Offline은 네트워크가 끊겼음을 뜻합니다.
	Offline
	// Visible은 화면(대시보드)이 다시 보이게 되었음을 뜻합니다.
	Visible
	// Hidden은 화면이 가려졌거나 사용자가 일시 중지했음을 뜻합니다.
	Hidden
)

// String은 Signal의 문자열 표현을 반환합니다.
func (s Signal) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// EnvironmentSignal은 환경 신호 출처입니다.
type EnvironmentSignal interface {
	// Subscribe는 신호 리스너를 등록하고 해제 함수를 반환합니다.
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// broadcaster는 리스너 목록을 관리합니다. 소스 구현에 포함해 사용합니다.
type broadcaster struct {
	mu        sync.Mutex
	listeners map[int]func(Signal)
	nextID    int
}

// Subscribe는 리스너를 등록합니다.
func (b *broadcaster) Subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	if b.listeners == nil {
		b.listeners = make(map[int]func(Signal))
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// emit은 등록 순서와 무관하게 모든 리스너에 신호를 전달합니다. 잠금 밖에서 호출합니다.
func (b *broadcaster) emit(sig Signal) {
	b.mu.Lock()
	fns := make([]func(Signal), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// ManualSource는 호출자가 직접 신호를 보내는 소스입니다.
// 대시보드의 일시 중지 키나 테스트에서 사용합니다.
type ManualSource struct {
	broadcaster
}

// NewManualSource는 ManualSource를 생성합니다.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

// Push는 모든 리스너에 신호를 전달합니다.
func (s *ManualSource) Push(sig Signal) {
	s.emit(sig)
}
