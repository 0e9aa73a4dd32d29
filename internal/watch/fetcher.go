package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/insajin/pvg-stream/internal/task"
)

// ErrTaskNotFound는 초기 스냅샷 조회에서 태스크가 없을 때 반환됩니다.
var ErrTaskNotFound = errors.New("태스크를 찾을 수 없습니다")

// Fetcher는 스트림의 첫 이벤트 전에 표시할 시점 스냅샷을 조회합니다.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, taskID string) (task.Snapshot, error)
}

// FetcherFunc는 함수를 Fetcher로 사용할 수 있게 합니다.
type FetcherFunc func(ctx context.Context, taskID string) (task.Snapshot, error)

// FetchSnapshot은 f를 호출합니다.
func (f FetcherFunc) FetchSnapshot(ctx context.Context, taskID string) (task.Snapshot, error) {
	return f(ctx, taskID)
}

// RESTFetcher는 GET {baseURL}/api/v1/tasks/{taskId}로 태스크 상태를 조회합니다.
type RESTFetcher struct {
	client *resty.Client
}

// NewRESTFetcher는 RESTFetcher를 생성합니다. token이 있으면 Bearer 인증을 사용합니다.
func NewRESTFetcher(baseURL, token string, timeout time.Duration) *RESTFetcher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &RESTFetcher{client: client}
}

// taskResponse는 태스크 조회 응답 본문입니다.
type taskResponse struct {
	TaskID             string     `json:"task_id"`
	Status             string     `json:"status"`
	ErrorMessage       *string    `json:"error_message"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	ProgressPercentage *float64   `json:"progress_percentage"`
	CurrentStep        *string    `json:"current_step"`
}

// FetchSnapshot은 태스크 상태를 조회해 Snapshot으로 변환합니다.
func (f *RESTFetcher) FetchSnapshot(ctx context.Context, taskID string) (task.Snapshot, error) {
	var body taskResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/api/v1/tasks/" + url.PathEscape(taskID))
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("태스크 조회 실패: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return task.Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	case resp.IsError():
		return task.Snapshot{}, fmt.Errorf("태스크 조회 실패: HTTP %d", resp.StatusCode())
	}

	return body.snapshot(taskID)
}

func (r taskResponse) snapshot(taskID string) (task.Snapshot, error) {
	status, ok := task.ParseStatus(r.Status)
	if !ok {
		return task.Snapshot{}, fmt.Errorf("알 수 없는 태스크 상태: %q", r.Status)
	}

	s := task.Snapshot{
		TaskID:    taskID,
		Status:    status,
		StartedAt: r.StartedAt,
	}
	if r.TaskID != "" {
		s.TaskID = r.TaskID
	}
	if r.ProgressPercentage != nil {
		s.Progress = *r.ProgressPercentage
	}
	if status == task.StatusCompleted {
		s.Progress = 100
	}
	if r.CurrentStep != nil {
		s.CurrentStep = *r.CurrentStep
	}
	if r.ErrorMessage != nil {
		s.ErrorMessage = *r.ErrorMessage
	}
	if status.Terminal() {
		s.EndedAt = r.CompletedAt
	}
	return s, nil
}
