// Package watch는 여러 태스크 스트림을 동시에 구독하고 집계 통계를 유지합니다.
package watch

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/insajin/pvg-stream/internal/metrics"
	"github.com/insajin/pvg-stream/internal/stream"
)

// DefaultConcurrency는 WatchMany가 동시에 준비하는 구독 수입니다.
const DefaultConcurrency = 8

// 구독 오류입니다.
var (
	// ErrDisposed는 폐기된 Context로 구독하려 할 때 반환됩니다.
	ErrDisposed = errors.New("watch 컨텍스트가 폐기되었습니다")
	// ErrNotWatching은 구독하지 않은 태스크를 참조할 때 반환됩니다.
	ErrNotWatching = errors.New("구독 중인 태스크가 아닙니다")
)

// Context는 구독에 필요한 공유 자원(전송, 인증, 시계, 메트릭, 로거)을 소유합니다.
// 프로세스 전역 상태 대신 명시적으로 생성하고 Dispose로 정리합니다.
type Context struct {
	dialer      stream.Dialer
	endpoint    string
	auth        stream.Auth
	clock       stream.Clock
	managerOpts []stream.Option
	fetcher     Fetcher
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	concurrency int

	mu          sync.Mutex
	disposed    bool
	aggregators []*Aggregator
}

// ContextOption은 Context 설정 옵션입니다.
type ContextOption func(*Context)

// WithDialer는 스트림 전송을 설정합니다. 기본값은 WebSocket입니다.
func WithDialer(d stream.Dialer) ContextOption {
	return func(c *Context) { c.dialer = d }
}

// WithEndpoint는 {taskId}를 포함한 스트림 URL 템플릿을 설정합니다.
func WithEndpoint(template string) ContextOption {
	return func(c *Context) { c.endpoint = template }
}

// WithAuth는 스트림 연결 인증 정보를 설정합니다.
func WithAuth(auth stream.Auth) ContextOption {
	return func(c *Context) { c.auth = auth }
}

// WithClock은 모든 연결이 공유할 시계를 설정합니다 (테스트용).
func WithClock(clock stream.Clock) ContextOption {
	return func(c *Context) { c.clock = clock }
}

// WithManagerOptions는 각 연결 매니저에 적용할 옵션을 추가합니다.
func WithManagerOptions(opts ...stream.Option) ContextOption {
	return func(c *Context) { c.managerOpts = append(c.managerOpts, opts...) }
}

// WithFetcher는 초기 스냅샷 조회기를 설정합니다. nil이면 조회하지 않습니다.
func WithFetcher(f Fetcher) ContextOption {
	return func(c *Context) { c.fetcher = f }
}

// WithMetrics는 공유 메트릭을 설정합니다.
func WithMetrics(m *metrics.Metrics) ContextOption {
	return func(c *Context) { c.metrics = m }
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger zerolog.Logger) ContextOption {
	return func(c *Context) { c.logger = logger }
}

// WithConcurrency는 WatchMany의 동시 준비 수를 설정합니다.
func WithConcurrency(n int) ContextOption {
	return func(c *Context) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewContext는 새 Context를 생성합니다.
func NewContext(opts ...ContextOption) (*Context, error) {
	c := &Context{
		clock:       stream.SystemClock(),
		logger:      zerolog.Nop(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.endpoint == "" {
		return nil, errors.New("스트림 엔드포인트 템플릿이 비어 있습니다")
	}
	if !strings.Contains(c.endpoint, "{taskId}") {
		return nil, errors.New("스트림 엔드포인트 템플릿에 {taskId}가 없습니다")
	}
	if c.dialer == nil {
		c.dialer = stream.NewWebSocketDialer()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewMetrics()
	}
	return c, nil
}

// Metrics는 공유 메트릭을 반환합니다.
func (c *Context) Metrics() *metrics.Metrics {
	return c.metrics
}

// Endpoint는 태스크의 스트림 URL을 반환합니다.
func (c *Context) Endpoint(taskID string) string {
	return stream.TaskEndpoint(c.endpoint, taskID)
}

// Dispose는 이 Context로 만든 모든 Aggregator의 구독을 해제합니다.
// 이후의 Watch는 ErrDisposed를 반환합니다. 여러 번 호출해도 안전합니다.
func (c *Context) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	aggs := c.aggregators
	c.aggregators = nil
	c.mu.Unlock()

	for _, a := range aggs {
		a.UnwatchAll()
	}
	c.logger.Debug().Int("aggregators", len(aggs)).Msg("watch 컨텍스트 폐기")
}

// Disposed는 Dispose가 호출되었는지 확인합니다.
func (c *Context) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *Context) register(a *Aggregator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggregators = append(c.aggregators, a)
}
