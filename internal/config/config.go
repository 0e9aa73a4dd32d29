// Package config는 pvgstream의 설정 관리를 담당합니다.
// 설정 우선순위: 환경변수(PVG_*) > 설정파일 > 기본값
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/insajin/pvg-stream/internal/auth"
)

// Config는 전체 애플리케이션 설정을 나타냅니다.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Auth         AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Reconnection ReconnectionConfig `mapstructure:"reconnection" yaml:"reconnection"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat" yaml:"heartbeat"`
	Queue        QueueConfig        `mapstructure:"queue" yaml:"queue"`
	Request      RequestConfig      `mapstructure:"request" yaml:"request"`
	Dedupe       DedupeConfig       `mapstructure:"dedupe" yaml:"dedupe"`
	Transport    TransportConfig    `mapstructure:"transport" yaml:"transport"`
}

// ServerConfig는 서버 연결 설정입니다.
type ServerConfig struct {
	// StreamURL은 태스크 스트림 URL 템플릿입니다. {taskId}가 태스크 ID로 치환됩니다.
	StreamURL string `mapstructure:"stream_url" yaml:"stream_url"`
	// APIURL은 초기 스냅샷을 조회할 REST API 주소입니다. 비어 있으면 조회하지 않습니다.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	// TimeoutSeconds는 연결 수립 및 REST 조회 타임아웃(초)입니다.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// AuthConfig는 인증 설정입니다.
type AuthConfig struct {
	// Token은 스트림 인증 토큰입니다. 가능하면 PVG_AUTH_TOKEN 환경변수를 사용하세요.
	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// TokenFile은 토큰을 읽을 파일 경로입니다. Token이 비어 있을 때 사용합니다.
	TokenFile string `mapstructure:"token_file" yaml:"token_file"`
	// Mode는 토큰 전달 방식입니다 (query, header).
	Mode string `mapstructure:"mode" yaml:"mode"`
	// QueryParam은 query 방식에서 사용할 파라미터 이름입니다.
	QueryParam string `mapstructure:"query_param" yaml:"query_param"`
}

// LoggingConfig는 로깅 설정입니다.
type LoggingConfig struct {
	// Level은 로그 레벨입니다 (debug, info, warn, error).
	Level string `mapstructure:"level" yaml:"level"`
	// Format은 로그 포맷입니다 (json, text).
	Format string `mapstructure:"format" yaml:"format"`
	// File은 로그 파일 경로입니다. 비어있으면 stderr로 출력합니다.
	File string `mapstructure:"file" yaml:"file"`
}

// ReconnectionConfig는 재연결 설정입니다.
type ReconnectionConfig struct {
	// MaxAttempts는 최대 재연결 시도 횟수입니다 (0 = 무제한).
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// InitialDelayMs는 백오프 기준 지연 시간(밀리초)입니다.
	InitialDelayMs int `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms"`
	// MaxDelayMs는 최대 재연결 지연 시간(밀리초)입니다.
	MaxDelayMs int `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	// BackoffMultiplier는 지수 백오프 배수입니다.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	// Jitter는 곱셈 지터 비율입니다 (0.2 = ±20%).
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
}

// HeartbeatConfig는 하트비트 설정입니다.
type HeartbeatConfig struct {
	// IntervalMs는 생존 ping 간격(밀리초)입니다.
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms"`
	// TimeoutMultiplier는 간격 대비 워치독 제한 배수입니다.
	TimeoutMultiplier float64 `mapstructure:"timeout_multiplier" yaml:"timeout_multiplier"`
}

// QueueConfig는 송신 대기열 설정입니다.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// RequestConfig는 요청/응답 설정입니다.
type RequestConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

// DedupeConfig는 재전송 중복 제거 설정입니다.
type DedupeConfig struct {
	// Size는 기억할 최근 messageId 수입니다 (0 = 비활성).
	Size int `mapstructure:"size" yaml:"size"`
}

// TransportConfig는 스트림 전송 방식 설정입니다.
type TransportConfig struct {
	// Kind는 전송 방식입니다 (websocket, sse).
	Kind string `mapstructure:"kind" yaml:"kind"`
}

// Load는 설정을 로드하고 Config 구조체를 반환합니다.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("설정 파싱 실패: %w", err)
	}

	// 홈 디렉토리 경로 확장
	cfg.Auth.TokenFile = expandPath(cfg.Auth.TokenFile)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// ResolveToken은 인증 토큰을 반환합니다. Token이 비어 있으면 TokenFile에서 읽습니다.
// 둘 다 없으면 빈 문자열을 반환합니다 (익명 연결).
func (a *AuthConfig) ResolveToken() (string, error) {
	if a.Token != "" {
		return a.Token, nil
	}
	return auth.Load(a.TokenFile)
}

// Timeout은 서버 타임아웃을 반환합니다.
func (s *ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// InitialDelay는 백오프 기준 지연을 반환합니다.
func (r *ReconnectionConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay는 최대 재연결 지연을 반환합니다.
func (r *ReconnectionConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Interval은 하트비트 간격을 반환합니다.
func (h *HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMs) * time.Millisecond
}

// Timeout은 요청 응답 제한 시간을 반환합니다.
func (r *RequestConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Validate는 설정의 유효성을 검사합니다.
func (c *Config) Validate() error {
	if c.Server.StreamURL == "" {
		return fmt.Errorf("server.stream_url이 설정되지 않았습니다")
	}
	if !strings.Contains(c.Server.StreamURL, "{taskId}") {
		return fmt.Errorf("server.stream_url에 {taskId} 자리표시자가 없습니다: %s", c.Server.StreamURL)
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds는 1 이상이어야 합니다")
	}

	validModes := map[string]bool{
		"query":  true,
		"header": true,
	}
	if !validModes[c.Auth.Mode] {
		return fmt.Errorf("유효하지 않은 인증 방식: %s (query, header 중 하나)", c.Auth.Mode)
	}

	// 로그 레벨 검증
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("유효하지 않은 로그 레벨: %s (debug, info, warn, error 중 하나)", c.Logging.Level)
	}

	// 로그 포맷 검증
	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("유효하지 않은 로그 포맷: %s (json, text 중 하나)", c.Logging.Format)
	}

	// 재연결 설정 검증 (0 = 무제한)
	if c.Reconnection.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts는 0 이상이어야 합니다 (0 = 무제한)")
	}
	if c.Reconnection.InitialDelayMs <= 0 || c.Reconnection.MaxDelayMs <= 0 {
		return fmt.Errorf("재연결 지연 시간은 0보다 커야 합니다")
	}
	if c.Reconnection.InitialDelayMs > c.Reconnection.MaxDelayMs {
		return fmt.Errorf("initial_delay_ms(%d)가 max_delay_ms(%d)보다 큽니다",
			c.Reconnection.InitialDelayMs, c.Reconnection.MaxDelayMs)
	}
	if c.Reconnection.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier는 1 이상이어야 합니다")
	}
	if c.Reconnection.Jitter < 0 || c.Reconnection.Jitter >= 1 {
		return fmt.Errorf("jitter는 0 이상 1 미만이어야 합니다")
	}

	if c.Heartbeat.IntervalMs <= 0 {
		return fmt.Errorf("heartbeat.interval_ms는 0보다 커야 합니다")
	}
	if c.Heartbeat.TimeoutMultiplier <= 1 {
		return fmt.Errorf("heartbeat.timeout_multiplier는 1보다 커야 합니다")
	}

	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity는 1 이상이어야 합니다")
	}
	if c.Request.TimeoutMs <= 0 {
		return fmt.Errorf("request.timeout_ms는 0보다 커야 합니다")
	}
	if c.Dedupe.Size < 0 {
		return fmt.Errorf("dedupe.size는 0 이상이어야 합니다 (0 = 비활성)")
	}

	validTransports := map[string]bool{
		"websocket": true,
		"sse":       true,
	}
	if !validTransports[c.Transport.Kind] {
		return fmt.Errorf("유효하지 않은 전송 방식: %s (websocket, sse 중 하나)", c.Transport.Kind)
	}

	return nil
}

// expandPath는 ~를 홈 디렉토리로 확장합니다.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ConfigDir는 설정 디렉토리 경로를 반환합니다.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pvgstream")
}

// EnsureConfigDir는 설정 디렉토리가 존재하는지 확인하고 없으면 생성합니다.
func EnsureConfigDir() error {
	dir := ConfigDir()
	if dir == "" {
		return fmt.Errorf("홈 디렉토리를 찾을 수 없습니다")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("설정 디렉토리 생성 실패: %w", err)
	}
	return nil
}

// DefaultConfigPath는 기본 설정 파일 경로를 반환합니다.
func DefaultConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}
