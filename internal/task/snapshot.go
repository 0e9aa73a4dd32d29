// Package task는 스트림 이벤트를 태스크별 권위 있는 스냅샷으로 병합합니다.
package task

import (
	"encoding/json"
	"strings"
	"time"
)

// Status는 태스크 상태입니다.
type Status string

// 태스크 상태 값입니다.
const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// statusAliases는 서버가 보내는 다른 표기를 표준 상태로 매핑합니다.
var statusAliases = map[string]Status{
	"processing":  StatusRunning,
	"in_progress": StatusRunning,
	"canceled":    StatusCancelled,
	"error":       StatusFailed,
}

// ParseStatus는 문자열을 Status로 변환합니다. 알 수 없는 값이면 ok=false입니다.
func ParseStatus(s string) (Status, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := statusAliases[s]; ok {
		return alias, true
	}
	switch st := Status(s); st {
	case StatusPending, StatusQueued, StatusRunning, StatusCompleted,
		StatusFailed, StatusCancelled, StatusRetrying:
		return st, true
	}
	return "", false
}

// Terminal은 더 이상 변경될 수 없는 상태인지 확인합니다.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot은 태스크 하나의 현재 상태입니다.
// Status가 종료 상태가 되면 이후 어떤 이벤트로도 바뀌지 않습니다.
type Snapshot struct {
	TaskID       string          `json:"taskId" yaml:"task_id"`
	Status       Status          `json:"status" yaml:"status"`
	Progress     float64         `json:"progress" yaml:"progress"`
	CurrentStep  string          `json:"currentStep,omitempty" yaml:"current_step,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
	EndedAt      *time.Time      `json:"endedAt,omitempty" yaml:"ended_at,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty" yaml:"-"`
}

// Terminal은 스냅샷이 종료 상태인지 확인합니다.
func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

// Duration은 시작부터 종료(또는 now)까지의 경과 시간입니다. 시작 전이면 0입니다.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(*s.StartedAt) {
		return 0
	}
	return end.Sub(*s.StartedAt)
}

// Clone은 포인터와 슬라이스 필드를 복사한 사본을 반환합니다.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.Result != nil {
		c.Result = append(json.RawMessage(nil), s.Result...)
	}
	return c
}

func clampProgress(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
