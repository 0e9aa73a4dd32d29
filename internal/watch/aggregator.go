package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/insajin/pvg-stream/internal/stream"
	"github.com/insajin/pvg-stream/internal/task"
)

// Stats는 구독 중인 태스크 스냅샷에서 계산한 집계 통계입니다.
// 네 상태 카운트의 합은 항상 Total과 같습니다.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	Pending   int `json:"pending" yaml:"pending"`
	Running   int `json:"running" yaml:"running"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`

	AllCompleted bool `json:"allCompleted" yaml:"all_completed"`
	HasErrors    bool `json:"hasErrors" yaml:"has_errors"`
	IsSettled    bool `json:"isSettled" yaml:"is_settled"`
}

// ComputeStats는 스냅샷 목록으로 Stats를 계산합니다.
// pending/queued는 Pending, running/retrying은 Running,
// failed/cancelled는 Failed로 집계합니다.
func ComputeStats(snaps []task.Snapshot) Stats {
	var s Stats
	for _, snap := range snaps {
		s.Total++
		switch snap.Status {
		case task.StatusRunning, task.StatusRetrying:
			s.Running++
		case task.StatusCompleted:
			s.Completed++
		case task.StatusFailed, task.StatusCancelled:
			s.Failed++
		default:
			s.Pending++
		}
	}
	s.AllCompleted = s.Total > 0 && s.Completed == s.Total
	s.HasErrors = s.Failed > 0
	s.IsSettled = s.Total > 0 && s.Completed+s.Failed == s.Total
	return s
}

// Callbacks는 태스크 하나의 구독 콜백입니다. 모든 필드는 선택 사항입니다.
type Callbacks struct {
	// OnSnapshot은 스냅샷이 바뀔 때마다 호출됩니다.
	OnSnapshot func(snap task.Snapshot)
	// OnState는 연결 상태 전이 시 호출됩니다. reconnecting은 일시적 상태입니다.
	OnState func(taskID string, from, to stream.State)
	// OnFatal은 재연결을 포기했거나 인증이 거부되었을 때 호출됩니다.
	OnFatal func(taskID string, err error)
}

// TaskView는 대시보드 표시용 태스크 상태입니다.
type TaskView struct {
	Snapshot   task.Snapshot
	Connection stream.ConnectionInfo
}

// subscription은 태스크 하나의 연결 매니저와 상태 병합기 쌍입니다.
type subscription struct {
	taskID     string
	manager    *stream.Manager
	reconciler *task.Reconciler
	callbacks  Callbacks // a.mu로 보호
}

// Aggregator는 taskId별 구독을 소유하고 집계 통계의 유일한 작성자입니다.
type Aggregator struct {
	c      *Context
	logger zerolog.Logger

	// connMu는 Pause/Resume과 Watch의 연결 결정을 직렬화합니다.
	// 구독 콜백 안에서 Pause/Resume을 호출하면 교착됩니다.
	connMu sync.Mutex

	mu        sync.Mutex
	subs      map[string]*subscription
	stats     Stats
	listeners map[int]func(Stats)
	nextID    int
	paused    bool
}

// NewAggregator는 Context의 자원을 사용하는 Aggregator를 생성합니다.
func NewAggregator(c *Context) *Aggregator {
	a := &Aggregator{
		c:         c,
		logger:    c.logger.With().Str("component", "aggregator").Logger(),
		subs:      make(map[string]*subscription),
		listeners: make(map[int]func(Stats)),
	}
	c.register(a)
	return a
}

// OnStats는 집계 통계가 바뀔 때마다 호출될 리스너를 등록합니다.
// 반환된 함수로 등록을 해제합니다.
func (a *Aggregator) OnStats(fn func(Stats)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Watch는 태스크 스트림을 구독합니다. 이미 구독 중이면 콜백만 cb로 바꾸고 연결은 그대로 둡니다.
// 초기 스냅샷 조회기가 있으면 연결 전에 조회해 반영하며, 조회 실패는 경고만 남깁니다.
// 조회 중에 Pause되면 연결하지 않고 Resume 때 연결합니다.
func (a *Aggregator) Watch(ctx context.Context, taskID string, cb Callbacks) error {
	if taskID == "" {
		return fmt.Errorf("태스크 ID가 비어 있습니다")
	}
	if a.c.Disposed() {
		return ErrDisposed
	}

	a.mu.Lock()
	if existing, ok := a.subs[taskID]; ok {
		existing.callbacks = cb
		a.mu.Unlock()
		return nil
	}
	sub := a.newSubscription(taskID, cb)
	a.subs[taskID] = sub
	a.mu.Unlock()

	a.recompute()

	if f := a.c.fetcher; f != nil {
		snap, err := f.FetchSnapshot(ctx, taskID)
		if err != nil {
			a.logger.Warn().Err(err).Str("task_id", taskID).Msg("초기 스냅샷 조회 실패, 스트림만 사용합니다")
		} else {
			sub.reconciler.Seed(snap)
		}
	}

	a.connMu.Lock()
	a.mu.Lock()
	current := a.subs[taskID] == sub
	paused := a.paused
	a.mu.Unlock()

	if !current || paused || sub.reconciler.Snapshot().Terminal() {
		// 조회 중에 구독이 해제되었거나 일시 중지되었습니다.
		a.connMu.Unlock()
		return nil
	}
	err := sub.manager.Connect(a.c.Endpoint(taskID))
	a.connMu.Unlock()
	if err != nil {
		a.Unwatch(taskID)
		return fmt.Errorf("태스크 %s 스트림 연결 실패: %w", taskID, err)
	}

	a.logger.Info().Str("task_id", taskID).Msg("태스크 구독 시작")
	return nil
}

// WatchMany는 여러 태스크를 동시에 구독합니다. 하나라도 실패하면 첫 오류를 반환하며,
// 이미 성공한 구독은 유지됩니다. 이미 구독 중인 태스크의 콜백은 바꾸지 않습니다.
func (a *Aggregator) WatchMany(ctx context.Context, taskIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.c.concurrency)

	seen := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, watching := a.lookup(id); watching {
			continue
		}

		id := id
		g.Go(func() error {
			return a.Watch(gctx, id, Callbacks{})
		})
	}
	return g.Wait()
}

// Unwatch는 태스크 구독을 해제합니다. 연결을 닫고 스냅샷을 버리며 이후 집계에서 제외합니다.
func (a *Aggregator) Unwatch(taskID string) {
	a.mu.Lock()
	sub, ok := a.subs[taskID]
	if ok {
		delete(a.subs, taskID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	sub.manager.Close()
	a.recompute()
	a.logger.Info().Str("task_id", taskID).Msg("태스크 구독 해제")
}

// UnwatchAll은 모든 구독을 해제합니다.
func (a *Aggregator) UnwatchAll() {
	a.mu.Lock()
	subs := a.subs
	a.subs = make(map[string]*subscription)
	a.mu.Unlock()

	for _, sub := range subs {
		sub.manager.Close()
	}
	a.recompute()
}

// Send는 태스크 스트림으로 메시지를 보냅니다.
func (a *Aggregator) Send(taskID string, msg stream.Envelope) (stream.SendResult, error) {
	sub, ok := a.lookup(taskID)
	if !ok {
		return stream.SendQueued, fmt.Errorf("%w: %s", ErrNotWatching, taskID)
	}
	if msg.TaskID == "" {
		msg.TaskID = taskID
	}
	return sub.manager.Send(msg)
}

// Call은 태스크 스트림으로 요청을 보내고 응답을 기다립니다.
func (a *Aggregator) Call(ctx context.Context, taskID string, msg stream.Envelope) (stream.Envelope, error) {
	sub, ok := a.lookup(taskID)
	if !ok {
		return stream.Envelope{}, fmt.Errorf("%w: %s", ErrNotWatching, taskID)
	}
	if msg.TaskID == "" {
		msg.TaskID = taskID
	}
	return sub.manager.Call(ctx, msg)
}

// Snapshot은 태스크의 현재 스냅샷을 반환합니다.
func (a *Aggregator) Snapshot(taskID string) (task.Snapshot, bool) {
	sub, ok := a.lookup(taskID)
	if !ok {
		return task.Snapshot{}, false
	}
	return sub.reconciler.Snapshot(), true
}

// Snapshots는 모든 스냅샷을 태스크 ID 순으로 반환합니다.
func (a *Aggregator) Snapshots() []task.Snapshot {
	views := a.Tasks()
	snaps := make([]task.Snapshot, len(views))
	for i, v := range views {
		snaps[i] = v.Snapshot
	}
	return snaps
}

// Tasks는 태스크별 스냅샷과 연결 상태를 태스크 ID 순으로 반환합니다.
func (a *Aggregator) Tasks() []TaskView {
	a.mu.Lock()
	subs := make([]*subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		subs = append(subs, sub)
	}
	a.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].taskID < subs[j].taskID })

	views := make([]TaskView, len(subs))
	for i, sub := range subs {
		views[i] = TaskView{
			Snapshot:   sub.reconciler.Snapshot(),
			Connection: sub.manager.Info(),
		}
	}
	return views
}

// Stats는 마지막으로 계산된 집계 통계를 반환합니다.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Pause는 모든 연결을 끊습니다. 구독과 스냅샷은 유지됩니다.
func (a *Aggregator) Pause() {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	a.mu.Lock()
	if a.paused {
		a.mu.Unlock()
		return
	}
	a.paused = true
	subs := a.subscriptions()
	a.mu.Unlock()

	for _, sub := range subs {
		sub.manager.Disconnect()
	}
	a.logger.Info().Int("tasks", len(subs)).Msg("스트림 일시 중지")
}

// Resume은 종료되지 않은 모든 구독을 처음부터(시도 횟수 0) 다시 연결합니다.
func (a *Aggregator) Resume() {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	a.mu.Lock()
	if !a.paused {
		a.mu.Unlock()
		return
	}
	a.paused = false
	subs := a.subscriptions()
	a.mu.Unlock()

	resumed := 0
	for _, sub := range subs {
		if sub.reconciler.Snapshot().Terminal() {
			continue
		}
		if err := sub.manager.Connect(a.c.Endpoint(sub.taskID)); err != nil {
			a.logger.Warn().Err(err).Str("task_id", sub.taskID).Msg("재개 연결 실패")
			continue
		}
		resumed++
	}
	a.logger.Info().Int("tasks", resumed).Msg("스트림 재개")
}

// Paused는 일시 중지 상태인지 확인합니다.
func (a *Aggregator) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

func (a *Aggregator) newSubscription(taskID string, cb Callbacks) *subscription {
	logger := a.c.logger.With().Str("task_id", taskID).Logger()
	sub := &subscription{taskID: taskID, callbacks: cb}

	sub.reconciler = task.NewReconciler(taskID,
		task.WithLogger(logger),
		task.WithMetrics(a.c.metrics),
		task.WithNow(a.c.clock.Now),
		task.OnChange(func(snap task.Snapshot) { a.onSnapshot(sub, snap) }),
	)

	opts := []stream.Option{
		stream.WithAuth(a.c.auth),
		stream.WithClock(a.c.clock),
		stream.WithMetrics(a.c.metrics),
		stream.WithLogger(logger),
	}
	opts = append(opts, a.c.managerOpts...)
	opts = append(opts,
		stream.OnStateChange(func(from, to stream.State) {
			if fn := a.callbacksOf(sub).OnState; fn != nil {
				fn(taskID, from, to)
			}
		}),
		stream.OnFatal(func(err error) {
			a.logger.Error().Err(err).Str("task_id", taskID).Msg("태스크 스트림 복구 불가")
			if fn := a.callbacksOf(sub).OnFatal; fn != nil {
				fn(taskID, err)
			}
		}),
	)
	sub.manager = stream.NewManager(taskID, a.c.dialer, opts...)

	apply := func(env stream.Envelope) { sub.reconciler.Apply(env) }
	for _, t := range []stream.EventType{
		stream.EventProgress,
		stream.EventStatus,
		stream.EventStep,
		stream.EventError,
		stream.EventCompleted,
		stream.EventCancelled,
	} {
		sub.manager.Handle(t, apply)
	}
	return sub
}

// onSnapshot은 스냅샷 변경 시 집계를 동기적으로 다시 계산합니다.
func (a *Aggregator) onSnapshot(sub *subscription, snap task.Snapshot) {
	if !a.isCurrent(sub) {
		return
	}
	a.recompute()

	if cb := a.callbacksOf(sub).OnSnapshot; cb != nil {
		cb(snap)
	}
	if snap.Terminal() {
		// 종료된 태스크는 더 받을 이벤트가 없으므로 연결을 정리합니다.
		sub.manager.Disconnect()
		a.logger.Info().
			Str("task_id", snap.TaskID).
			Str("status", string(snap.Status)).
			Msg("태스크 종료, 스트림을 닫습니다")
	}
}

// recompute는 현재 구독 스냅샷으로 Stats를 다시 계산하고 리스너에 알립니다.
func (a *Aggregator) recompute() {
	a.mu.Lock()
	snaps := make([]task.Snapshot, 0, len(a.subs))
	for _, sub := range a.subs {
		snaps = append(snaps, sub.reconciler.Snapshot())
	}
	stats := ComputeStats(snaps)
	a.stats = stats
	listeners := make([]func(Stats), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(stats)
	}
}

func (a *Aggregator) lookup(taskID string) (*subscription, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.subs[taskID]
	return sub, ok
}

// callbacksOf는 구독의 현재 콜백을 반환합니다. 재구독으로 바뀔 수 있습니다.
func (a *Aggregator) callbacksOf(sub *subscription) Callbacks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sub.callbacks
}

func (a *Aggregator) isCurrent(sub *subscription) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subs[sub.taskID] == sub
}

// subscriptions는 a.mu를 잡은 상태에서 호출합니다.
func (a *Aggregator) subscriptions() []*subscription {
	subs := make([]*subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		subs = append(subs, sub)
	}
	return subs
}
