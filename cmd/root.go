// Package cmd는 pvgstream CLI의 명령어를 정의합니다.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/insajin/pvg-stream/internal/config"
	"github.com/insajin/pvg-stream/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// 전역 플래그
	cfgFile string
	verbose bool

	// 버전 정보 (main에서 주입)
	appVersion   string
	appCommit    string
	appBuildDate string
)

// rootCmd는 CLI의 루트 명령어입니다.
var rootCmd = &cobra.Command{
	Use:   "pvgstream",
	Short: "태스크 진행 상황 스트림 클라이언트",
	Long: `pvgstream은 서버의 태스크 진행 상황 스트림(WebSocket 또는 SSE)을 구독하여
여러 태스크의 상태를 하나의 집계로 보여줍니다.

연결이 끊기면 지수 백오프로 재연결하고, 하트비트로 죽은 연결을 감지하며,
중복·지연 이벤트를 걸러 태스크별 스냅샷을 일관되게 유지합니다.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
}

// Execute는 루트 명령어를 실행합니다.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo는 버전 정보를 설정합니다.
func SetVersionInfo(version, commit, buildDate string) {
	appVersion = version
	appCommit = commit
	appBuildDate = buildDate
}

// GetVersionInfo는 버전 정보를 반환합니다.
func GetVersionInfo() (version, commit, buildDate string) {
	return appVersion, appCommit, appBuildDate
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"설정 파일 경로 (기본값: ~/.config/pvgstream/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"상세 로그 출력 (debug 레벨)")
}

// initConfig는 설정 파일을 초기화합니다.
// 설정 우선순위: 환경변수 > 설정파일 > 기본값
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir := config.ConfigDir()
		if configDir == "" {
			fmt.Fprintln(os.Stderr, "홈 디렉토리를 찾을 수 없습니다")
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// 환경변수 자동 바인딩 (PVG_ 접두사, PVG_SERVER_STREAM_URL 형태)
	viper.SetEnvPrefix("PVG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// 설정 파일 읽기 (없어도 오류 아님)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "설정 파일 읽기 실패: %v\n", err)
		}
	}
}

// setDefaults는 기본 설정값을 정의합니다.
func setDefaults() {
	// 서버 설정
	viper.SetDefault("server.stream_url", "wss://localhost:8000/ws/tasks/{taskId}")
	viper.SetDefault("server.api_url", "")
	viper.SetDefault("server.timeout_seconds", 10)

	// 인증 설정
	viper.SetDefault("auth.token", "")
	viper.SetDefault("auth.token_file", "~/.config/pvgstream/token")
	viper.SetDefault("auth.mode", "query")
	viper.SetDefault("auth.query_param", "token")

	// 로깅 설정
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")

	// 재연결 설정
	viper.SetDefault("reconnection.max_attempts", 5)
	viper.SetDefault("reconnection.initial_delay_ms", 3000)
	viper.SetDefault("reconnection.max_delay_ms", 30000)
	viper.SetDefault("reconnection.backoff_multiplier", 1.5)
	viper.SetDefault("reconnection.jitter", 0.2)

	// 하트비트 설정
	viper.SetDefault("heartbeat.interval_ms", 30000)
	viper.SetDefault("heartbeat.timeout_multiplier", 2.0)

	// 송신 대기열, 요청, 중복 제거
	viper.SetDefault("queue.capacity", 100)
	viper.SetDefault("request.timeout_ms", 10000)
	viper.SetDefault("dedupe.size", 256)

	// 전송 방식
	viper.SetDefault("transport.kind", "websocket")
}

// initLogger는 로거를 초기화합니다.
func initLogger() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}

	// verbose 플래그가 설정되면 debug 레벨로 오버라이드
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger.Setup(cfg.Logging)
	return nil
}
