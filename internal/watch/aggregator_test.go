package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/insajin/pvg-stream/internal/stream"
	"github.com/insajin/pvg-stream/internal/task"
)

// memConn은 테스트가 프레임을 주입하는 메모리 연결입니다.
type memConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newMemConn() *memConn {
	return &memConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *memConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, fmt.Errorf("%w: closed", stream.ErrTransport)
	}
}

func (c *memConn) WriteFrame(f []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, f)
	return nil
}

func (c *memConn) Bidirectional() bool { return true }

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

var seq atomic.Int64

func (c *memConn) push(t *testing.T, typ stream.EventType, taskID string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := json.Marshal(map[string]interface{}{
		"type":      string(typ),
		"data":      json.RawMessage(raw),
		"timestamp": time.Now().UnixMilli(),
		"messageId": fmt.Sprintf("msg-%d", seq.Add(1)),
		"taskId":    taskID,
	})
	c.frames <- frame
}

// memHub은 mem://tasks/{taskId} 엔드포인트마다 새 memConn을 돌려주는 Dialer입니다.
type memHub struct {
	mu    sync.Mutex
	conns map[string]*memConn
	dials map[string]int
}

func newMemHub() *memHub {
	return &memHub{conns: make(map[string]*memConn), dials: make(map[string]int)}
}

func (h *memHub) Dial(_ context.Context, endpoint string, _ stream.Auth) (stream.Conn, error) {
	id := strings.TrimPrefix(endpoint, "mem://tasks/")
	c := newMemConn()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = c
	h.dials[id]++
	return c, nil
}

func (h *memHub) conn(id string) *memConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

func (h *memHub) dialCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials[id]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("대기 시간 초과: %s", what)
}

func newTestAggregator(t *testing.T, hub *memHub, opts ...ContextOption) (*Aggregator, *Context) {
	t.Helper()
	base := []ContextOption{WithEndpoint("mem://tasks/{taskId}"), WithDialer(hub)}
	c, err := NewContext(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	t.Cleanup(c.Dispose)
	return NewAggregator(c), c
}

func connected(a *Aggregator, ids ...string) func() bool {
	return func() bool {
		for _, v := range a.Tasks() {
			if v.Connection.State != stream.StateConnected {
				return false
			}
		}
		return len(a.Tasks()) == len(ids)
	}
}

func TestNewContext_Validation(t *testing.T) {
	if _, err := NewContext(); err == nil {
		t.Error("엔드포인트 없이 NewContext가 성공했습니다")
	}
	if _, err := NewContext(WithEndpoint("ws://host/stream")); err == nil {
		t.Error("{taskId} 없는 템플릿이 허용되었습니다")
	}
	c, err := NewContext(WithEndpoint("ws://host/tasks/{taskId}/stream"))
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if got := c.Endpoint("a b"); got != "ws://host/tasks/a%20b/stream" {
		t.Errorf("Endpoint() = %q", got)
	}
}

func TestComputeStats(t *testing.T) {
	snap := func(s task.Status) task.Snapshot { return task.Snapshot{Status: s} }

	tests := []struct {
		name  string
		snaps []task.Snapshot
		want  Stats
	}{
		{"비어 있음", nil, Stats{}},
		{
			"모든 상태",
			[]task.Snapshot{
				snap(task.StatusPending), snap(task.StatusQueued),
				snap(task.StatusRunning), snap(task.StatusRetrying),
				snap(task.StatusCompleted),
				snap(task.StatusFailed), snap(task.StatusCancelled),
			},
			Stats{Total: 7, Pending: 2, Running: 2, Completed: 1, Failed: 2, HasErrors: true},
		},
		{
			"모두 완료",
			[]task.Snapshot{snap(task.StatusCompleted), snap(task.StatusCompleted)},
			Stats{Total: 2, Completed: 2, AllCompleted: true, IsSettled: true},
		},
		{
			"실패 포함 정착",
			[]task.Snapshot{snap(task.StatusCompleted), snap(task.StatusCancelled)},
			Stats{Total: 2, Completed: 1, Failed: 1, HasErrors: true, IsSettled: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStats(tt.snaps)
			if got != tt.want {
				t.Errorf("ComputeStats() = %+v, want %+v", got, tt.want)
			}
			if sum := got.Pending + got.Running + got.Completed + got.Failed; sum != got.Total {
				t.Errorf("카운트 합 %d != Total %d", sum, got.Total)
			}
		})
	}
}

// TestAggregator_ThreeTasks는 세 태스크의 상태가 집계에 반영되는지 검증합니다.
func TestAggregator_ThreeTasks(t *testing.T) {
	hub := newMemHub()
	a, _ := newTestAggregator(t, hub)

	var mu sync.Mutex
	var history []Stats
	a.OnStats(func(s Stats) {
		mu.Lock()
		history = append(history, s)
		mu.Unlock()
	})

	if err := a.WatchMany(context.Background(), []string{"A", "B", "C", "A"}); err != nil {
		t.Fatalf("WatchMany() error = %v", err)
	}
	waitFor(t, "세 연결", connected(a, "A", "B", "C"))

	if got := a.Stats(); got.Total != 3 || got.Pending != 3 {
		t.Fatalf("초기 Stats = %+v", got)
	}

	hub.conn("A").push(t, stream.EventStatus, "A", map[string]string{"status": "running"})
	hub.conn("B").push(t, stream.EventCompleted, "B", map[string]int{"progress": 100})
	hub.conn("C").push(t, stream.EventError, "C", map[string]string{"message": "boom"})

	want := Stats{Total: 3, Pending: 0, Running: 1, Completed: 1, Failed: 1, HasErrors: true}
	waitFor(t, "집계 반영", func() bool { return a.Stats() == want })

	mu.Lock()
	for _, s := range history {
		if sum := s.Pending + s.Running + s.Completed + s.Failed; sum != s.Total {
			t.Errorf("중간 Stats %+v: 합 %d != Total %d", s, sum, s.Total)
		}
	}
	mu.Unlock()

	snapB, ok := a.Snapshot("B")
	if !ok || snapB.Progress != 100 || snapB.Status != task.StatusCompleted {
		t.Errorf("B 스냅샷 = %+v", snapB)
	}
	snapC, _ := a.Snapshot("C")
	if snapC.ErrorMessage != "boom" {
		t.Errorf("C ErrorMessage = %q", snapC.ErrorMessage)
	}

	// 종료된 태스크의 연결은 정리됩니다.
	waitFor(t, "B 연결 종료", func() bool {
		for _, v := range a.Tasks() {
			if v.Snapshot.TaskID == "B" {
				return v.Connection.State == stream.StateDisconnected
			}
		}
		return false
	})

	a.Unwatch("C")
	if got := a.Stats(); got.Total != 2 || got.Failed != 0 || got.HasErrors {
		t.Errorf("Unwatch 후 Stats = %+v", got)
	}
	if _, ok := a.Snapshot("C"); ok {
		t.Error("Unwatch한 태스크의 스냅샷이 남아 있습니다")
	}
}

// TestAggregator_DuplicateRedelivery는 같은 messageId 재전송이 진행률을 바꾸지 않는지 검증합니다.
func TestAggregator_DuplicateRedelivery(t *testing.T) {
	hub := newMemHub()
	a, c := newTestAggregator(t, hub)

	changes := make(chan task.Snapshot, 8)
	if err := a.Watch(context.Background(), "A", Callbacks{
		OnSnapshot: func(s task.Snapshot) { changes <- s },
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "연결", connected(a, "A"))

	frame := []byte(`{"type":"progress","data":{"progress":40},"timestamp":1,"messageId":"same","taskId":"A"}`)
	hub.conn("A").frames <- frame
	hub.conn("A").frames <- frame

	select {
	case s := <-changes:
		if s.Progress != 40 {
			t.Errorf("Progress = %v, want 40", s.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("스냅샷 변경이 없습니다")
	}
	waitFor(t, "중복 카운트", func() bool { return c.Metrics().DuplicateMessages.Load() == 1 })

	if s, _ := a.Snapshot("A"); s.Progress != 40 {
		t.Errorf("Progress = %v, want 40", s.Progress)
	}
}

func TestAggregator_SeedFromFetcher(t *testing.T) {
	hub := newMemHub()
	fetcher := FetcherFunc(func(_ context.Context, id string) (task.Snapshot, error) {
		switch id {
		case "running":
			return task.Snapshot{TaskID: id, Status: task.StatusRunning, Progress: 35}, nil
		case "done":
			return task.Snapshot{TaskID: id, Status: task.StatusCompleted}, nil
		default:
			return task.Snapshot{}, ErrTaskNotFound
		}
	})
	a, _ := newTestAggregator(t, hub, WithFetcher(fetcher))

	for _, id := range []string{"running", "done", "missing"} {
		if err := a.Watch(context.Background(), id, Callbacks{}); err != nil {
			t.Fatalf("Watch(%s) error = %v", id, err)
		}
	}

	if s, _ := a.Snapshot("running"); s.Status != task.StatusRunning || s.Progress != 35 {
		t.Errorf("running 스냅샷 = %+v", s)
	}
	if s, _ := a.Snapshot("missing"); s.Status != task.StatusPending {
		t.Errorf("missing 스냅샷 = %+v", s)
	}
	// 이미 끝난 태스크는 연결하지 않습니다.
	if n := hub.dialCount("done"); n != 0 {
		t.Errorf("완료된 태스크 dial = %d, want 0", n)
	}
	waitFor(t, "running 연결", func() bool { return hub.dialCount("running") == 1 })
}

func TestAggregator_PauseResume(t *testing.T) {
	hub := newMemHub()
	a, _ := newTestAggregator(t, hub)

	_ = a.WatchMany(context.Background(), []string{"A", "B"})
	waitFor(t, "연결", connected(a, "A", "B"))

	a.Pause()
	for _, v := range a.Tasks() {
		if v.Connection.State != stream.StateDisconnected {
			t.Errorf("Pause 후 %s 상태 = %v", v.Snapshot.TaskID, v.Connection.State)
		}
	}
	if !a.Paused() {
		t.Error("Paused() = false")
	}

	// 일시 중지 중 보낸 메시지는 대기열에 보관됩니다.
	res, err := a.Send("A", stream.Envelope{Type: "command"})
	if err != nil || res != stream.SendQueued {
		t.Errorf("Send() = %v, %v, want queued", res, err)
	}

	a.Resume()
	waitFor(t, "재연결", connected(a, "A", "B"))
	if n := hub.dialCount("A"); n != 2 {
		t.Errorf("A dial = %d, want 2", n)
	}
	for _, v := range a.Tasks() {
		if v.Connection.Attempt != 0 {
			t.Errorf("%s Attempt = %d, want 0", v.Snapshot.TaskID, v.Connection.Attempt)
		}
	}
	waitFor(t, "대기열 전송", func() bool {
		c := hub.conn("A")
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.written) == 1
	})
}

func TestAggregator_DisposeAndUnknown(t *testing.T) {
	hub := newMemHub()
	a, c := newTestAggregator(t, hub)

	if _, err := a.Send("nope", stream.Envelope{Type: "command"}); !errors.Is(err, ErrNotWatching) {
		t.Errorf("Send error = %v, want ErrNotWatching", err)
	}

	_ = a.Watch(context.Background(), "A", Callbacks{})
	c.Dispose()
	c.Dispose()

	if got := a.Stats(); got.Total != 0 {
		t.Errorf("Dispose 후 Total = %d, want 0", got.Total)
	}
	if err := a.Watch(context.Background(), "B", Callbacks{}); !errors.Is(err, ErrDisposed) {
		t.Errorf("Dispose 후 Watch error = %v, want ErrDisposed", err)
	}
}

func TestAggregator_FatalCallback(t *testing.T) {
	authFail := stream.DialerFunc(func(context.Context, string, stream.Auth) (stream.Conn, error) {
		return nil, fmt.Errorf("%w: 401", stream.ErrAuth)
	})
	c, err := NewContext(WithEndpoint("mem://tasks/{taskId}"), WithDialer(authFail))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()
	a := NewAggregator(c)

	fatal := make(chan error, 1)
	_ = a.Watch(context.Background(), "A", Callbacks{
		OnFatal: func(_ string, err error) { fatal <- err },
	})

	select {
	case err := <-fatal:
		if !errors.Is(err, stream.ErrAuth) {
			t.Errorf("fatal = %v, want ErrAuth", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal이 호출되지 않았습니다")
	}
}

// TestAggregator_PauseDuringFetch는 초기 조회 중에 일시 중지되면 연결하지 않고,
// 재개할 때 연결하는지 확인합니다.
func TestAggregator_PauseDuringFetch(t *testing.T) {
	hub := newMemHub()
	fetching := make(chan struct{})
	release := make(chan struct{})
	fetcher := FetcherFunc(func(_ context.Context, id string) (task.Snapshot, error) {
		close(fetching)
		<-release
		return task.Snapshot{TaskID: id, Status: task.StatusRunning, Progress: 10}, nil
	})
	a, _ := newTestAggregator(t, hub, WithFetcher(fetcher))

	done := make(chan error, 1)
	go func() { done <- a.Watch(context.Background(), "A", Callbacks{}) }()

	<-fetching
	a.Pause()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if n := hub.dialCount("A"); n != 0 {
		t.Errorf("일시 중지 중 dial = %d, want 0", n)
	}
	if v := a.Tasks()[0]; v.Connection.State != stream.StateDisconnected {
		t.Errorf("일시 중지 중 상태 = %v, want Disconnected", v.Connection.State)
	}
	if s, _ := a.Snapshot("A"); s.Progress != 10 {
		t.Errorf("초기 스냅샷이 반영되지 않았습니다: %+v", s)
	}

	a.Resume()
	waitFor(t, "재개 후 연결", connected(a, "A"))
	if n := hub.dialCount("A"); n != 1 {
		t.Errorf("재개 후 dial = %d, want 1", n)
	}
}

// TestAggregator_WatchReplacesCallbacks는 같은 태스크를 다시 구독하면
// 연결은 하나로 유지하고 이후 이벤트는 새 콜백으로 전달하는지 확인합니다.
func TestAggregator_WatchReplacesCallbacks(t *testing.T) {
	hub := newMemHub()
	a, _ := newTestAggregator(t, hub)

	var first, second atomic.Int32
	if err := a.Watch(context.Background(), "A", Callbacks{
		OnSnapshot: func(task.Snapshot) { first.Add(1) },
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	waitFor(t, "연결", connected(a, "A"))

	if err := a.Watch(context.Background(), "A", Callbacks{
		OnSnapshot: func(task.Snapshot) { second.Add(1) },
	}); err != nil {
		t.Fatalf("두 번째 Watch() error = %v", err)
	}

	hub.conn("A").push(t, stream.EventProgress, "A", map[string]interface{}{"progress": 20})
	waitFor(t, "새 콜백 호출", func() bool { return second.Load() == 1 })

	if got := first.Load(); got != 0 {
		t.Errorf("이전 콜백 호출 수 = %d, want 0", got)
	}
	if n := hub.dialCount("A"); n != 1 {
		t.Errorf("dial = %d, want 1", n)
	}

	// WatchMany는 이미 구독 중인 태스크의 콜백을 바꾸지 않습니다.
	if err := a.WatchMany(context.Background(), []string{"A"}); err != nil {
		t.Fatalf("WatchMany() error = %v", err)
	}
	hub.conn("A").push(t, stream.EventProgress, "A", map[string]interface{}{"progress": 30})
	waitFor(t, "WatchMany 후 콜백 유지", func() bool { return second.Load() == 2 })
}
