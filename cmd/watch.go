package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/insajin/pvg-stream/internal/config"
	"github.com/insajin/pvg-stream/internal/envsignal"
	"github.com/insajin/pvg-stream/internal/logger"
	"github.com/insajin/pvg-stream/internal/metrics"
	"github.com/insajin/pvg-stream/internal/stream"
	"github.com/insajin/pvg-stream/internal/task"
	"github.com/insajin/pvg-stream/internal/tui"
	"github.com/insajin/pvg-stream/internal/watch"
)

var (
	watchDashboard     bool
	watchMetricsAddr   string
	watchOutput        string
	watchNetworkCheck  time.Duration
	watchNoNetworkWait bool
)

// watchCmd는 하나 이상의 태스크 스트림을 구독합니다.
var watchCmd = &cobra.Command{
	Use:   "watch <task-id>...",
	Short: "태스크 진행 상황을 구독합니다",
	Long: `하나 이상의 태스크 스트림을 구독하고 모든 태스크가 종료될 때까지 진행 상황을 기록합니다.

종료 시 최종 집계와 태스크별 스냅샷을 --output 포맷으로 표준 출력에 씁니다.
실패하거나 취소된 태스크가 있으면 0이 아닌 코드로 종료합니다.

예시:
  pvgstream watch 3f2a9c
  pvgstream watch a1 b2 c3 --output json
  pvgstream watch a1 --dashboard
  pvgstream watch a1 b2 --metrics-addr :9090`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchDashboard, "dashboard", false, "TUI 대시보드로 표시합니다")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Prometheus 메트릭 주소 (예: :9090)")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "yaml", "최종 결과 포맷 (yaml, json, none)")
	watchCmd.Flags().DurationVar(&watchNetworkCheck, "network-check", envsignal.DefaultNetworkCheckInterval,
		"네트워크 변경 감지 간격")
	watchCmd.Flags().BoolVar(&watchNoNetworkWait, "no-network-watch", false, "네트워크 변경 감지를 끕니다")
}

// watchResult는 종료 시 출력하는 최종 결과입니다.
type watchResult struct {
	Stats watch.Stats     `json:"stats" yaml:"stats"`
	Tasks []task.Snapshot `json:"tasks" yaml:"tasks"`
}

// runWatch는 태스크를 구독하고 종료될 때까지 기다립니다.
func runWatch(cmd *cobra.Command, args []string) error {
	if err := validateOutput(watchOutput); err != nil {
		return err
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := watch.NewAggregator(wc)
	tracker := newSettleTracker(agg)
	defer tracker.close()

	// 환경 신호: 네트워크 변경과 대시보드 일시 중지 키
	adapter := envsignal.NewAdapter(agg, logger.WithComponent("envsignal"))
	defer adapter.Close()
	if !watchNoNetworkWait {
		network := envsignal.NewNetworkSource(watchNetworkCheck, logger.WithComponent("network"))
		adapter.Attach(network)
		network.Start(ctx)
	}
	manual := envsignal.NewManualSource()
	adapter.Attach(manual)

	if watchMetricsAddr != "" {
		shutdown := serveMetrics(watchMetricsAddr, wc.Metrics(), agg)
		defer shutdown()
	}

	if err := watchAll(ctx, agg, args, tracker); err != nil {
		return err
	}

	if watchDashboard {
		provider := tui.NewAggregatorProvider(agg, wc.Metrics(), cfg.Server.StreamURL)
		p := tea.NewProgram(tui.NewModel(provider, manual), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("대시보드 오류: %w", err)
		}
	} else {
		select {
		case <-tracker.done:
		case <-ctx.Done():
			logger.Warn().Msg("중단 신호를 받았습니다")
		}
	}

	result := watchResult{Stats: agg.Stats(), Tasks: agg.Snapshots()}
	if err := writeResult(cmd.OutOrStdout(), watchOutput, result); err != nil {
		return err
	}
	return resultError(result, tracker.fatalCount())
}

// newWatchContext는 설정으로 watch.Context를 구성합니다.
func newWatchContext(cfg *config.Config) (*watch.Context, error) {
	token, err := cfg.Auth.ResolveToken()
	if err != nil {
		return nil, err
	}

	var dialer stream.Dialer
	switch cfg.Transport.Kind {
	case "sse":
		dialer = stream.NewSSEDialer(nil)
	default:
		dialer = stream.NewWebSocketDialer()
	}

	opts := []watch.ContextOption{
		watch.WithEndpoint(cfg.Server.StreamURL),
		watch.WithDialer(dialer),
		watch.WithAuth(stream.Auth{
			Token:      token,
			Mode:       stream.AuthMode(cfg.Auth.Mode),
			QueryParam: cfg.Auth.QueryParam,
		}),
		watch.WithLogger(logger.WithComponent("watch")),
		watch.WithManagerOptions(
			stream.WithBackoff(stream.Backoff{
				BaseDelay: cfg.Reconnection.InitialDelay(),
				MaxDelay:  cfg.Reconnection.MaxDelay(),
				Factor:    cfg.Reconnection.BackoffMultiplier,
				Jitter:    cfg.Reconnection.Jitter,
			}),
			stream.WithMaxReconnectAttempts(cfg.Reconnection.MaxAttempts),
			stream.WithConnectTimeout(cfg.Server.Timeout()),
			stream.WithRequestTimeout(cfg.Request.Timeout()),
			stream.WithHeartbeat(stream.HeartbeatConfig{
				Interval:          cfg.Heartbeat.Interval(),
				TimeoutMultiplier: cfg.Heartbeat.TimeoutMultiplier,
			}),
			stream.WithQueueCapacity(cfg.Queue.Capacity),
			stream.WithDedupeSize(cfg.Dedupe.Size),
		),
	}
	if cfg.Server.APIURL != "" {
		opts = append(opts, watch.WithFetcher(
			watch.NewRESTFetcher(cfg.Server.APIURL, token, cfg.Server.Timeout())))
	}
	return watch.NewContext(opts...)
}

// watchAll은 태스크마다 로그 콜백을 붙여 구독합니다.
func watchAll(ctx context.Context, agg *watch.Aggregator, taskIDs []string, tracker *settleTracker) error {
	cb := watch.Callbacks{
		OnSnapshot: func(snap task.Snapshot) {
			l := logger.WithTask(snap.TaskID)
			l.Info().
				Str("status", string(snap.Status)).
				Float64("progress", snap.Progress).
				Str("step", snap.CurrentStep).
				Str("error", snap.ErrorMessage).
				Msg("태스크 상태 변경")
		},
		OnState: func(taskID string, from, to stream.State) {
			l := logger.WithTask(taskID)
			l.Debug().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("스트림 상태 전이")
		},
		OnFatal: func(taskID string, err error) {
			tracker.markFatal(taskID)
		},
	}

	seen := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := agg.Watch(ctx, id, cb); err != nil {
			return err
		}
	}
	tracker.check()
	return nil
}

// settleTracker는 모든 태스크가 종료되었거나 복구 불가가 되면 done을 닫습니다.
type settleTracker struct {
	agg   *watch.Aggregator
	done  chan struct{}
	unsub func()

	mu     sync.Mutex
	fatal  map[string]bool
	closed bool
}

func newSettleTracker(agg *watch.Aggregator) *settleTracker {
	t := &settleTracker{
		agg:   agg,
		done:  make(chan struct{}),
		fatal: make(map[string]bool),
	}
	t.unsub = agg.OnStats(func(watch.Stats) { t.check() })
	return t
}

func (t *settleTracker) markFatal(taskID string) {
	t.mu.Lock()
	t.fatal[taskID] = true
	t.mu.Unlock()
	t.check()
}

func (t *settleTracker) fatalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fatal)
}

// check는 종료되지 않은 태스크가 모두 복구 불가 상태인지 확인합니다.
func (t *settleTracker) check() {
	snaps := t.agg.Snapshots()
	if len(snaps) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, s := range snaps {
		if !s.Terminal() && !t.fatal[s.TaskID] {
			return
		}
	}
	t.closed = true
	close(t.done)
}

func (t *settleTracker) close() {
	t.unsub()
}

// serveMetrics는 Prometheus 엔드포인트를 띄우고 종료 함수를 반환합니다.
func serveMetrics(addr string, m *metrics.Metrics, agg *watch.Aggregator) func() {
	gauge := func(status string, value func(watch.Stats) int) metrics.GaugeFunc {
		return metrics.GaugeFunc{
			Name:   "tasks",
			Help:   "Watched tasks by aggregate status.",
			Labels: prometheus.Labels{"status": status},
			Value:  func() float64 { return float64(value(agg.Stats())) },
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(m,
		gauge("pending", func(s watch.Stats) int { return s.Pending }),
		gauge("running", func(s watch.Stats) int { return s.Running }),
		gauge("completed", func(s watch.Stats) int { return s.Completed }),
		gauge("failed", func(s watch.Stats) int { return s.Failed }),
	))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("addr", addr).Msg("메트릭 서버 시작")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("메트릭 서버 오류")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func validateOutput(format string) error {
	switch format {
	case "yaml", "json", "none":
		return nil
	default:
		return fmt.Errorf("유효하지 않은 출력 포맷: %s (yaml, json, none 중 하나)", format)
	}
}

// writeResult는 최종 결과를 지정한 포맷으로 씁니다.
func writeResult(w io.Writer, format string, result watchResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(result)
	default:
		return nil
	}
}

// resultError는 실패한 태스크나 복구 불가 스트림이 있으면 오류를 반환합니다.
func resultError(result watchResult, fatal int) error {
	switch {
	case result.Stats.HasErrors:
		return fmt.Errorf("%d개 태스크가 실패했거나 취소되었습니다", result.Stats.Failed)
	case fatal > 0:
		return fmt.Errorf("%d개 태스크 스트림을 복구하지 못했습니다", fatal)
	case !result.Stats.IsSettled:
		return fmt.Errorf("종료되지 않은 태스크가 있습니다 (%d/%d)",
			result.Stats.Completed+result.Stats.Failed, result.Stats.Total)
	}
	return nil
}
