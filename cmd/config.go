// Package cmd는 pvgstream CLI의 명령어를 정의합니다.
// config.go는 설정 관리 명령을 구현합니다.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/insajin/pvg-stream/internal/auth"
	"github.com/insajin/pvg-stream/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd는 설정 관리를 위한 상위 명령어입니다.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "설정을 관리합니다",
	Long: `설정 파일의 값을 조회하거나 수정합니다.

설정 파일 위치: ~/.config/pvgstream/config.yaml

주의: 인증 토큰은 환경변수나 토큰 파일로 설정하는 것을 권장합니다.
  - PVG_AUTH_TOKEN: 스트림 인증 토큰
  - auth.token_file: 토큰 파일 경로 (기본값 ~/.config/pvgstream/token)`,
}

// configSetCmd는 설정 값을 저장하는 명령어입니다.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "설정 값을 저장합니다",
	Long: `설정 파일에 값을 저장합니다.

키는 점(.)으로 구분된 경로를 사용합니다.
예시:
  pvgstream config set server.stream_url wss://api.example.com/ws/tasks/{taskId}
  pvgstream config set transport.kind sse
  pvgstream config set reconnection.max_attempts 0

지원하는 설정 키:
  server.stream_url       - 스트림 URL 템플릿 ({taskId} 필수)
  server.api_url          - 초기 스냅샷 REST API 주소
  server.timeout_seconds  - 연결/조회 타임아웃(초)
  auth.token_file         - 토큰 파일 경로
  auth.mode               - 토큰 전달 방식 (query, header)
  auth.query_param        - query 방식 파라미터 이름
  logging.level           - 로그 레벨 (debug, info, warn, error)
  logging.format          - 로그 포맷 (json, text)
  logging.file            - 로그 파일 경로 (비어있으면 stderr)
  reconnection.max_attempts       - 최대 재연결 시도 횟수 (0 = 무제한)
  reconnection.initial_delay_ms   - 백오프 기준 지연(밀리초)
  reconnection.max_delay_ms       - 최대 재연결 지연(밀리초)
  reconnection.backoff_multiplier - 지수 백오프 배수
  reconnection.jitter             - 지터 비율 (0.2 = ±20%)
  heartbeat.interval_ms           - 하트비트 간격(밀리초)
  heartbeat.timeout_multiplier    - 워치독 제한 배수
  queue.capacity                  - 송신 대기열 용량
  request.timeout_ms              - 요청 응답 제한 시간(밀리초)
  dedupe.size                     - 중복 제거 윈도우 (0 = 비활성)
  transport.kind                  - 전송 방식 (websocket, sse)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

// configGetCmd는 설정 값을 조회하는 명령어입니다.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "설정 값을 조회합니다",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

// configListCmd는 전체 설정을 출력하는 명령어입니다.
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "전체 설정을 출력합니다",
	Long: `현재 적용된 모든 설정을 YAML 포맷으로 출력합니다.
인증 토큰은 마스킹 처리되어 표시됩니다.`,
	RunE: runConfigList,
}

// configPathCmd는 설정 파일 경로를 출력하는 명령어입니다.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "설정 파일 경로를 출력합니다",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.DefaultConfigPath())
		return nil
	},
}

// configInitCmd는 기본 설정 파일을 생성하는 명령어입니다.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "기본 설정 파일을 생성합니다",
	Long: `기본 설정 파일을 ~/.config/pvgstream/config.yaml에 생성합니다.

이미 파일이 존재하면 덮어쓰지 않습니다.
강제로 덮어쓰려면 --force 플래그를 사용하세요.`,
	RunE: runConfigInit,
}

var forceInit bool

// validConfigKeys는 config set으로 바꿀 수 있는 키 목록입니다.
var validConfigKeys = map[string]bool{
	"server.stream_url":               true,
	"server.api_url":                  true,
	"server.timeout_seconds":          true,
	"auth.token_file":                 true,
	"auth.mode":                       true,
	"auth.query_param":                true,
	"logging.level":                   true,
	"logging.format":                  true,
	"logging.file":                    true,
	"reconnection.max_attempts":       true,
	"reconnection.initial_delay_ms":   true,
	"reconnection.max_delay_ms":       true,
	"reconnection.backoff_multiplier": true,
	"reconnection.jitter":             true,
	"heartbeat.interval_ms":           true,
	"heartbeat.timeout_multiplier":    true,
	"queue.capacity":                  true,
	"request.timeout_ms":              true,
	"dedupe.size":                     true,
	"transport.kind":                  true,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "기존 파일을 덮어씁니다")
}

// runConfigSet은 설정 값을 저장합니다.
func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	if !validConfigKeys[key] {
		return fmt.Errorf("알 수 없는 설정 키: %s", key)
	}

	parsedValue := parseConfigValue(value)
	viper.Set(key, parsedValue)

	// 저장 전에 전체 설정이 여전히 유효한지 확인합니다.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("설정 검증 실패: %w", err)
	}

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("설정 파일 저장 실패: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s = %v\n", key, parsedValue)
	fmt.Fprintf(out, "설정이 저장되었습니다: %s\n", configPath)
	return nil
}

// runConfigGet은 설정 값을 조회합니다.
func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	value := viper.Get(key)
	if value == nil {
		return fmt.Errorf("설정 키를 찾을 수 없습니다: %s", key)
	}

	if key == "auth.token" {
		if strVal, ok := value.(string); ok && strVal != "" {
			value = auth.MaskToken(strVal)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
	return nil
}

// runConfigList는 전체 설정을 출력합니다.
func runConfigList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	if cfg.Auth.Token != "" {
		cfg.Auth.Token = auth.MaskToken(cfg.Auth.Token)
	}

	out := cmd.OutOrStdout()
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(out, "# 설정 파일: %s\n", configFile)
	} else {
		fmt.Fprintf(out, "# 설정 파일: (기본값 사용 중)\n")
	}
	fmt.Fprintln(out)

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("YAML 직렬화 실패: %w", err)
	}
	fmt.Fprintln(out, string(yamlData))

	fmt.Fprintln(out, "# 인증 상태:")
	token, err := cfg.Auth.ResolveToken()
	switch {
	case err != nil:
		fmt.Fprintf(out, "  토큰: 읽기 실패 (%v)\n", err)
	case token == "":
		fmt.Fprintln(out, "  토큰: 설정되지 않음 (익명 연결)")
	default:
		fmt.Fprintf(out, "  토큰: 설정됨 (%s)\n", auth.MaskToken(token))
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "# 경고: %v\n", err)
	}
	return nil
}

// runConfigInit은 기본 설정 파일을 생성합니다.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := config.DefaultConfigPath()

	if !forceInit {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("설정 파일이 이미 존재합니다: %s\n--force 플래그로 덮어쓸 수 있습니다", configPath)
		}
	}

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	defaultConfig := `# pvgstream 설정 파일
# 생성됨: pvgstream config init

server:
  stream_url: "wss://localhost:8000/ws/tasks/{taskId}"
  api_url: ""          # 비어있으면 초기 스냅샷을 조회하지 않습니다
  timeout_seconds: 10

auth:
  # 토큰은 PVG_AUTH_TOKEN 환경변수나 토큰 파일로 설정하세요
  token_file: "~/.config/pvgstream/token"
  mode: "query"        # query, header
  query_param: "token"

logging:
  level: "info"        # debug, info, warn, error
  format: "json"       # json, text
  file: ""             # 비어있으면 stderr

reconnection:
  max_attempts: 5      # 0 = 무제한
  initial_delay_ms: 3000
  max_delay_ms: 30000
  backoff_multiplier: 1.5
  jitter: 0.2

heartbeat:
  interval_ms: 30000
  timeout_multiplier: 2

queue:
  capacity: 100

request:
  timeout_ms: 10000

dedupe:
  size: 256            # 0 = 비활성

transport:
  kind: "websocket"    # websocket, sse
`

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("설정 파일 생성 실패: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "설정 파일이 생성되었습니다: %s\n", configPath)
	fmt.Fprintln(out, "\n인증이 필요하면 다음 중 하나를 설정하세요:")
	fmt.Fprintln(out, "  export PVG_AUTH_TOKEN=<your-token>")
	fmt.Fprintf(out, "  echo <your-token> > %s\n", strings.TrimSuffix(configPath, "config.yaml")+"token")
	return nil
}

// parseConfigValue는 문자열 값을 적절한 타입으로 변환합니다.
func parseConfigValue(value string) interface{} {
	if value == "true" || value == "false" {
		return value == "true"
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
