package envsignal

import (
	"context"
	"net"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultNetworkCheckInterval은 네트워크 변경 감지 기본 폴링 간격입니다.
const DefaultNetworkCheckInterval = 5 * time.Second

// NetworkSource는 네트워크 인터페이스 주소를 주기적으로 조회해 Online/Offline 신호를 만듭니다.
//   - 루프백을 제외한 주소가 사라지면 Offline
//   - 주소가 다시 생기면 Online
//   - 온라인 상태에서 주소 목록이 바뀌면(Wi-Fi -> LAN 등) Offline 후 Online을 연달아 보내
//     기존 연결을 처음부터 다시 맺게 합니다.
type NetworkSource struct {
	broadcaster

	checkInterval time.Duration
	logger        zerolog.Logger

	mu        sync.Mutex
	lastAddrs []string
	online    bool

	// getAddrs는 네트워크 주소를 조회하는 함수입니다.
	// 테스트에서 주입 가능하도록 함수 필드로 정의합니다.
	getAddrs func() ([]string, error)
}

// NewNetworkSource는 새 NetworkSource를 생성합니다.
func NewNetworkSource(interval time.Duration, logger zerolog.Logger) *NetworkSource {
	if interval <= 0 {
		interval = DefaultNetworkCheckInterval
	}
	return &NetworkSource{
		checkInterval: interval,
		logger:        logger.With().Str("component", "network").Logger(),
		getAddrs:      defaultGetInterfaceAddrs,
	}
}

// Start는 현재 주소를 기준값으로 기록하고 폴링 고루틴을 시작합니다.
// ctx가 취소되면 폴링을 중지합니다.
func (s *NetworkSource) Start(ctx context.Context) {
	addrs, err := s.getAddrs()
	if err != nil {
		s.logger.Warn().Err(err).Msg("네트워크 주소 초기 조회 실패, 온라인으로 가정합니다")
	}

	s.mu.Lock()
	s.lastAddrs = addrs
	s.online = err != nil || len(addrs) > 0
	online := s.online
	s.mu.Unlock()

	s.logger.Info().
		Int("addr_count", len(addrs)).
		Bool("online", online).
		Dur("interval", s.checkInterval).
		Msg("네트워크 변경 감지 시작")

	go s.loop(ctx)
}

func (s *NetworkSource) loop(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("네트워크 변경 감지 종료")
			return
		case <-ticker.C:
			for _, sig := range s.check() {
				s.emit(sig)
			}
		}
	}
}

// check는 주소를 다시 조회해 보낼 신호 목록을 반환합니다.
func (s *NetworkSource) check() []Signal {
	addrs, err := s.getAddrs()
	if err != nil {
		s.logger.Debug().Err(err).Msg("네트워크 주소 조회 실패, 변경 없음으로 처리")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.lastAddrs
	wasOnline := s.online
	s.lastAddrs = addrs
	s.online = len(addrs) > 0

	switch {
	case wasOnline && !s.online:
		s.logger.Warn().Msg("네트워크 연결 끊김")
		return []Signal{Offline}
	case !wasOnline && s.online:
		s.logger.Info().Strs("addrs", addrs).Msg("네트워크 연결 복구")
		return []Signal{Online}
	case s.online && !slices.Equal(prev, addrs):
		s.logger.Info().
			Strs("prev_addrs", prev).
			Strs("curr_addrs", addrs).
			Msg("네트워크 인터페이스 변경 감지")
		return []Signal{Offline, Online}
	}
	return nil
}

// defaultGetInterfaceAddrs는 루프백을 제외한 인터페이스 주소를 정렬해 반환합니다.
func defaultGetInterfaceAddrs() ([]string, error) {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(ifaces))
	for _, addr := range ifaces {
		a := addr.String()
		if strings.HasPrefix(a, "127.") || strings.HasPrefix(a, "::1") {
			continue
		}
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs, nil
}
