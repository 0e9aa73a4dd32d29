package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/insajin/pvg-stream/internal/task"
	"github.com/insajin/pvg-stream/internal/watch"
)

func TestCollectStatus(t *testing.T) {
	fetcher := watch.FetcherFunc(func(ctx context.Context, taskID string) (task.Snapshot, error) {
		if taskID == "missing" {
			return task.Snapshot{}, watch.ErrTaskNotFound
		}
		return task.Snapshot{TaskID: taskID, Status: task.StatusRunning, Progress: 40}, nil
	})

	infos := collectStatus(context.Background(), fetcher, []string{"a", "missing", "b"})
	if len(infos) != 3 {
		t.Fatalf("len(infos) = %d, want 3", len(infos))
	}
	if infos[0].TaskID != "a" || infos[2].TaskID != "b" {
		t.Errorf("입력 순서가 유지되지 않았습니다: %+v", infos)
	}
	if infos[1].TaskID != "missing" || infos[1].Error == "" {
		t.Errorf("조회 실패가 기록되지 않았습니다: %+v", infos[1])
	}
	if infos[0].Error != "" || infos[0].Progress != 40 {
		t.Errorf("infos[0] = %+v", infos[0])
	}
}

func TestPrintStatusSimple(t *testing.T) {
	var buf bytes.Buffer
	printStatusSimple(&buf, []StatusInfo{
		{Snapshot: task.Snapshot{TaskID: "a", Status: task.StatusCompleted, Progress: 100}},
		{Snapshot: task.Snapshot{TaskID: "b"}, Error: "not found"},
	})

	want := "a\tcompleted\t100%\nb\terror\tnot found\n"
	if buf.String() != want {
		t.Errorf("출력 = %q, want %q", buf.String(), want)
	}
}

func TestPrintStatusDetail(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	var buf bytes.Buffer
	printStatusDetail(&buf, []StatusInfo{
		{Snapshot: task.Snapshot{
			TaskID:       "a",
			Status:       task.StatusFailed,
			Progress:     30,
			CurrentStep:  "encode",
			StartedAt:    &start,
			EndedAt:      &end,
			ErrorMessage: "disk full",
		}},
		{Snapshot: task.Snapshot{TaskID: "b"}, Error: errors.New("timeout").Error()},
	}, end.Add(time.Hour))

	out := buf.String()
	for _, want := range []string{"태스크 a", "failed", "30%", "encode", "1m30s", "disk full", "태스크 b", "조회 실패: timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("출력에 %q가 없습니다:\n%s", want, out)
		}
	}
}
