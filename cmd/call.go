package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insajin/pvg-stream/internal/config"
	"github.com/insajin/pvg-stream/internal/stream"
	"github.com/insajin/pvg-stream/internal/watch"
)

// callCmd는 태스크 스트림으로 요청을 보내고 응답을 출력합니다.
var callCmd = &cobra.Command{
	Use:   "call <task-id> <type> [json-data]",
	Short: "태스크 스트림으로 요청을 보내고 응답을 기다립니다",
	Long: `태스크 스트림에 연결한 뒤 correlationId가 붙은 요청을 보내고
같은 correlationId의 응답을 JSON으로 출력합니다.

양방향 전송(websocket)에서만 동작합니다. 응답이 request.timeout_ms 안에
오지 않으면 시간 초과 오류로 종료합니다.

예시:
  pvgstream call 3f2a9c cancel
  pvgstream call 3f2a9c set_priority '{"priority": 5}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	taskID, eventType := args[0], stream.EventType(args[1])

	var payload interface{}
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("유효하지 않은 JSON 데이터: %s", args[2])
		}
		payload = json.RawMessage(args[2])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("설정 검증 실패: %w", err)
	}

	wc, err := newWatchContext(cfg)
	if err != nil {
		return err
	}
	defer wc.Dispose()

	agg := watch.NewAggregator(wc)
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.Timeout()+cfg.Request.Timeout())
	defer cancel()

	if err := agg.Watch(ctx, taskID, watch.Callbacks{}); err != nil {
		return err
	}

	msg, err := stream.NewEnvelope(eventType, taskID, payload)
	if err != nil {
		return err
	}
	reply, err := agg.Call(ctx, taskID, msg)
	if err != nil {
		return fmt.Errorf("요청 실패: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
