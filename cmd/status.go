// Package cmd는 pvgstream CLI의 명령어를 정의합니다.
// status.go는 스트림 없이 태스크 상태를 한 번 조회하는 명령을 구현합니다.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/insajin/pvg-stream/internal/config"
	"github.com/insajin/pvg-stream/internal/task"
	"github.com/insajin/pvg-stream/internal/watch"
)

// StatusInfo는 태스크 하나의 조회 결과입니다.
type StatusInfo struct {
	task.Snapshot
	// Error는 조회 실패 사유입니다. 성공하면 비어 있습니다.
	Error string `json:"error,omitempty"`
}

// statusCmd는 REST API로 태스크 상태를 조회하는 명령어입니다.
var statusCmd = &cobra.Command{
	Use:   "status <task-id>...",
	Short: "태스크 상태를 한 번 조회합니다",
	Long: `server.api_url의 REST API로 태스크 상태를 조회해 표시합니다.
스트림에 연결하지 않으므로 진행 중인 태스크의 현재 값만 보여줍니다.

표시 항목:
  - 상태 (pending, running, completed, failed ...)
  - 진행률과 현재 단계
  - 시작/종료 시각과 경과 시간
  - 오류 메시지`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatus,
}

var (
	statusJSON   bool
	statusSimple bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON 형식으로 출력")
	statusCmd.Flags().BoolVarP(&statusSimple, "simple", "s", false, "간단한 형식으로 출력")
}

// runStatus는 status 명령의 실행 로직입니다.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	if cfg.Server.APIURL == "" {
		return errors.New("server.api_url이 설정되지 않았습니다")
	}
	token, err := cfg.Auth.ResolveToken()
	if err != nil {
		return err
	}

	fetcher := watch.NewRESTFetcher(cfg.Server.APIURL, token, cfg.Server.Timeout())
	infos := collectStatus(cmd.Context(), fetcher, args)

	out := cmd.OutOrStdout()
	switch {
	case statusJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			return err
		}
	case statusSimple:
		printStatusSimple(out, infos)
	default:
		printStatusDetail(out, infos, time.Now())
	}

	for _, info := range infos {
		if info.Error != "" {
			return fmt.Errorf("%s 조회 실패: %s", info.TaskID, info.Error)
		}
	}
	return nil
}

// collectStatus는 태스크를 동시에 조회합니다. 결과 순서는 입력 순서와 같습니다.
func collectStatus(ctx context.Context, fetcher watch.Fetcher, taskIDs []string) []StatusInfo {
	infos := make([]StatusInfo, len(taskIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(watch.DefaultConcurrency)
	for i, id := range taskIDs {
		i, id := i, id
		g.Go(func() error {
			snap, err := fetcher.FetchSnapshot(gctx, id)
			if err != nil {
				infos[i] = StatusInfo{Snapshot: task.Snapshot{TaskID: id}, Error: err.Error()}
				return nil
			}
			infos[i] = StatusInfo{Snapshot: snap}
			return nil
		})
	}
	_ = g.Wait()
	return infos
}

// printStatusSimple은 태스크마다 한 줄로 출력합니다.
func printStatusSimple(w io.Writer, infos []StatusInfo) {
	for _, info := range infos {
		if info.Error != "" {
			fmt.Fprintf(w, "%s\terror\t%s\n", info.TaskID, info.Error)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\n", info.TaskID, info.Status, info.Progress)
	}
}

// printStatusDetail은 태스크별 상세 정보를 출력합니다.
func printStatusDetail(w io.Writer, infos []StatusInfo, now time.Time) {
	for i, info := range infos {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "태스크 %s\n", info.TaskID)
		if info.Error != "" {
			fmt.Fprintf(w, "  조회 실패: %s\n", info.Error)
			continue
		}
		fmt.Fprintf(w, "  상태:       %s\n", info.Status)
		fmt.Fprintf(w, "  진행률:     %.0f%%\n", info.Progress)
		if info.CurrentStep != "" {
			fmt.Fprintf(w, "  현재 단계:  %s\n", info.CurrentStep)
		}
		if info.StartedAt != nil {
			fmt.Fprintf(w, "  시작:       %s\n", info.StartedAt.Local().Format(time.DateTime))
		}
		if info.EndedAt != nil {
			fmt.Fprintf(w, "  종료:       %s\n", info.EndedAt.Local().Format(time.DateTime))
		}
		if d := info.Duration(now); d > 0 {
			fmt.Fprintf(w, "  경과:       %s\n", d.Round(time.Second))
		}
		if info.ErrorMessage != "" {
			fmt.Fprintf(w, "  오류:       %s\n", info.ErrorMessage)
		}
	}
}
