package task

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/insajin/pvg-stream/internal/metrics"
	"github.com/insajin/pvg-stream/internal/stream"
)

// Reconciler는 엔벨로프를 순서대로 받아 태스크 스냅샷 하나를 갱신합니다.
//
// 병합 규칙은 스냅샷이 종료 상태가 아닐 때만 적용됩니다.
// 종료된 스냅샷에 도착한 이벤트는 늦은 이벤트로 기록하고 버립니다.
// 진행률은 retrying 전이를 제외하면 감소하지 않습니다.
type Reconciler struct {
	mu      sync.Mutex
	snap    Snapshot
	applied bool

	now      func() time.Time
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	onChange func(Snapshot)
}

// ReconcilerOption은 Reconciler 설정 옵션입니다.
type ReconcilerOption func(*Reconciler)

// WithNow는 타임스탬프가 없는 이벤트에 사용할 시각 함수를 설정합니다.
func WithNow(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// WithMetrics는 늦은 이벤트 카운터를 기록할 메트릭을 설정합니다.
func WithMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// OnChange는 스냅샷이 바뀔 때마다 사본을 받는 콜백을 설정합니다.
// 콜백은 Reconciler 잠금 밖에서 호출됩니다.
func OnChange(fn func(Snapshot)) ReconcilerOption {
	return func(r *Reconciler) { r.onChange = fn }
}

// NewReconciler는 pending 상태의 스냅샷으로 시작하는 Reconciler를 생성합니다.
func NewReconciler(taskID string, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		snap:   Snapshot{TaskID: taskID, Status: StatusPending},
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewMetrics()
	}
	return r
}

// Snapshot은 현재 스냅샷의 사본을 반환합니다.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone()
}

// Apply는 엔벨로프 하나를 병합합니다. 스냅샷이 바뀌었으면 true를 반환합니다.
func (r *Reconciler) Apply(env stream.Envelope) bool {
	r.mu.Lock()
	changed := r.applyLocked(env)
	if changed {
		r.applied = true
	}
	snap := r.snap.Clone()
	fn := r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(snap)
	}
	return changed
}

// Seed는 REST 조회 등으로 얻은 시점 스냅샷을 반영합니다.
// 아직 적용된 이벤트가 없으면 스냅샷을 그대로 사용하고,
// 이미 이벤트가 적용되었으면 같은 단조 규칙으로 병합합니다.
func (r *Reconciler) Seed(s Snapshot) bool {
	r.mu.Lock()
	changed := r.seedLocked(s)
	snap := r.snap.Clone()
	fn := r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(snap)
	}
	return changed
}

func (r *Reconciler) seedLocked(s Snapshot) bool {
	if s.TaskID != "" && s.TaskID != r.snap.TaskID {
		r.logger.Warn().
			Str("seed_task_id", s.TaskID).
			Msg("다른 태스크의 스냅샷은 반영하지 않습니다")
		return false
	}
	if r.snap.Terminal() {
		return false
	}

	if !r.applied {
		next := s.Clone()
		next.TaskID = r.snap.TaskID
		if next.Status == "" {
			next.Status = StatusPending
		}
		next.Progress = clampProgress(next.Progress)
		if next.Terminal() && next.EndedAt == nil {
			end := r.now()
			next.EndedAt = &end
		}
		r.snap = next
		return true
	}

	changed := false
	if s.Progress > 0 && r.setProgress(s.Progress) {
		changed = true
	}
	if r.snap.CurrentStep == "" && s.CurrentStep != "" {
		r.snap.CurrentStep = s.CurrentStep
		changed = true
	}
	if r.snap.StartedAt == nil && s.StartedAt != nil {
		t := *s.StartedAt
		r.snap.StartedAt = &t
		changed = true
	}
	if s.Status.Terminal() {
		end := r.now()
		if s.EndedAt != nil {
			end = *s.EndedAt
		}
		r.snap.Status = s.Status
		r.snap.EndedAt = &end
		if s.Status == StatusCompleted {
			r.snap.Progress = 100
		}
		if s.ErrorMessage != "" {
			r.snap.ErrorMessage = s.ErrorMessage
		}
		if s.Result != nil {
			r.snap.Result = append(json.RawMessage(nil), s.Result...)
		}
		changed = true
	}
	return changed
}

func (r *Reconciler) applyLocked(env stream.Envelope) bool {
	if env.Type == stream.EventHeartbeat {
		return false
	}
	if env.TaskID != "" && env.TaskID != r.snap.TaskID {
		r.logger.Warn().
			Str("event_task_id", env.TaskID).
			Str("message_id", env.MessageID).
			Msg("다른 태스크의 이벤트를 버립니다")
		return false
	}
	if r.snap.Terminal() {
		r.metrics.LateEvents.Add(1)
		r.logger.Debug().
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Str("status", string(r.snap.Status)).
			Msg("종료된 태스크의 늦은 이벤트를 버립니다")
		return false
	}

	at := r.now()
	if env.Timestamp > 0 {
		at = env.Time()
	}

	switch env.Type {
	case stream.EventProgress:
		return r.applyProgress(env)
	case stream.EventStatus:
		return r.applyStatus(env, at)
	case stream.EventStep:
		var d stream.StepData
		if !r.decode(env, &d) {
			return false
		}
		return r.setStep(d.Name())
	case stream.EventCompleted:
		r.setStatus(StatusCompleted, at)
		r.snap.Progress = 100
		if len(env.Data) > 0 {
			r.snap.Result = append(json.RawMessage(nil), env.Data...)
		}
		return true
	case stream.EventError:
		r.snap.ErrorMessage = errorMessage(env)
		r.setStatus(StatusFailed, at)
		return true
	case stream.EventCancelled:
		return r.setStatus(StatusCancelled, at)
	default:
		return false
	}
}

func (r *Reconciler) applyProgress(env stream.Envelope) bool {
	var d stream.ProgressData
	if !r.decode(env, &d) {
		return false
	}
	changed := false
	if v, ok := d.Value(); ok && r.setProgress(v) {
		changed = true
	}
	if r.setStep(d.Step()) {
		changed = true
	}
	return changed
}

func (r *Reconciler) applyStatus(env stream.Envelope, at time.Time) bool {
	var d stream.StatusData
	if !r.decode(env, &d) {
		return false
	}
	st, ok := ParseStatus(d.Status)
	if !ok {
		r.logger.Warn().
			Str("status", d.Status).
			Str("message_id", env.MessageID).
			Msg("알 수 없는 태스크 상태, 무시합니다")
		return false
	}

	changed := r.setStatus(st, at)
	switch {
	case st == StatusRetrying:
		// 재시도는 진행률을 되돌릴 수 있는 유일한 전이입니다.
		p := 0.0
		if d.Progress != nil {
			p = clampProgress(*d.Progress)
		}
		if r.snap.Progress != p {
			r.snap.Progress = p
			changed = true
		}
	case d.Progress != nil && !st.Terminal():
		if r.setProgress(*d.Progress) {
			changed = true
		}
	}
	if st == StatusFailed && d.Message != "" && r.snap.ErrorMessage == "" {
		r.snap.ErrorMessage = d.Message
		changed = true
	}
	return changed
}

func (r *Reconciler) setStatus(st Status, at time.Time) bool {
	if r.snap.Status == st {
		return false
	}
	r.snap.Status = st
	if st == StatusRunning && r.snap.StartedAt == nil {
		t := at
		r.snap.StartedAt = &t
	}
	if st.Terminal() {
		t := at
		r.snap.EndedAt = &t
		if st == StatusCompleted {
			r.snap.Progress = 100
		}
	}
	return true
}

// setProgress는 더 큰 값일 때만 진행률을 갱신합니다.
func (r *Reconciler) setProgress(v float64) bool {
	v = clampProgress(v)
	if v <= r.snap.Progress {
		return false
	}
	r.snap.Progress = v
	return true
}

func (r *Reconciler) setStep(step string) bool {
	if step == "" || step == r.snap.CurrentStep {
		return false
	}
	r.snap.CurrentStep = step
	return true
}

func (r *Reconciler) decode(env stream.Envelope, v interface{}) bool {
	if err := env.DecodeData(v); err != nil {
		r.logger.Warn().
			Err(err).
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Msg("이벤트 페이로드 파싱 실패")
		return false
	}
	return true
}

// errorMessage는 error 이벤트 페이로드에서 메시지를 꺼냅니다.
// 객체({"message": ...})와 문자열 페이로드를 모두 허용합니다.
func errorMessage(env stream.Envelope) string {
	var d stream.ErrorData
	if err := env.DecodeData(&d); err == nil {
		if d.Message != "" {
			return d.Message
		}
		if d.Code != "" {
			return d.Code
		}
	}
	var s string
	if err := json.Unmarshal(env.Data, &s); err == nil && s != "" {
		return s
	}
	if raw := strings.TrimSpace(string(env.Data)); raw != "" && raw != "null" && raw != "{}" {
		return raw
	}
	return "알 수 없는 오류"
}
