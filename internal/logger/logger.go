// Package logger는 구조화된 로깅을 제공합니다.
// 모든 출력은 민감 정보(토큰, 비밀번호)를 마스킹한 뒤 기록됩니다.
package logger

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/insajin/pvg-stream/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maskRule은 민감 정보 패턴과 일치 부분을 가리는 방법입니다.
// mask는 FindStringSubmatch 결과(0번은 전체 일치)를 받습니다.
type maskRule struct {
	pattern *regexp.Regexp
	mask    func(groups []string) string
}

// 민감 정보 규칙. 앞 규칙의 결과에 뒤 규칙이 다시 적용됩니다.
var maskRules = []maskRule{
	{
		// JWT 토큰 (eyJ로 시작하는 Base64 세 조각)
		pattern: regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`),
		mask:    func(g []string) string { return maskValue(g[0]) },
	},
	{
		// Authorization: Bearer 헤더 값
		pattern: regexp.MustCompile(`(Bearer\s+)([a-zA-Z0-9\-_\.]+)`),
		mask:    func(g []string) string { return g[1] + maskValue(g[2]) },
	},
	{
		// 키-값 (token=, access_token=, secret: ...). 스트림 URL의 쿼리 파라미터 포함
		pattern: regexp.MustCompile(`((?:api[_-]?key|apikey|token|secret|password)\s*[=:]\s*)([a-zA-Z0-9\-_\.]{10,})`),
		mask:    func(g []string) string { return g[1] + maskValue(g[2]) },
	},
}

// maskedWriter는 민감 정보를 마스킹하는 io.Writer입니다.
type maskedWriter struct {
	underlying io.Writer
}

// Write는 민감 정보를 마스킹한 후 기록합니다.
func (w *maskedWriter) Write(p []byte) (n int, err error) {
	masked := MaskSensitive(string(p))
	if _, err := w.underlying.Write([]byte(masked)); err != nil {
		return 0, err
	}
	// 마스킹으로 길이가 달라져도 호출자에게는 원본 길이를 보고합니다.
	return len(p), nil
}

// Setup은 전역 로거를 초기화합니다.
// 표준 출력은 명령 결과(YAML/JSON)에 쓰이므로 로그는 stderr로 보냅니다.
func Setup(cfg config.LoggingConfig) {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// 타임스탬프 포맷 설정 (RFC3339)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stderr
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("로그 파일을 열 수 없어 stderr를 사용합니다")
		} else {
			output = file
		}
	}

	log.Logger = New(output, cfg.Format)
}

// New는 주어진 출력으로 마스킹 로거를 만듭니다. format이 "text"면 콘솔 포맷을 사용합니다.
func New(output io.Writer, format string) zerolog.Logger {
	maskedOutput := &maskedWriter{underlying: output}

	if format == "text" {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        maskedOutput,
			TimeFormat: time.RFC3339,
		}
		return zerolog.New(consoleWriter).With().Timestamp().Logger()
	}
	return zerolog.New(maskedOutput).With().Timestamp().Caller().Logger()
}

// parseLevel은 문자열 레벨을 zerolog.Level로 변환합니다.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// MaskSensitive는 문자열에서 민감 정보를 마스킹합니다.
// 키 이름과 구분자, 그 뒤의 공백은 그대로 두고 값만 가립니다.
func MaskSensitive(input string) string {
	result := input
	for _, rule := range maskRules {
		rule := rule
		result = rule.pattern.ReplaceAllStringFunc(result, func(match string) string {
			groups := rule.pattern.FindStringSubmatch(match)
			if groups == nil {
				return match
			}
			return rule.mask(groups)
		})
	}
	return result
}

// maskValue는 앞 4자와 뒤 4자만 남기고 나머지는 ***로 대체합니다.
func maskValue(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// Info, Warn, Error는 전역 로거의 이벤트를 시작합니다.
func Info() *zerolog.Event { return log.Info() }
func Warn() *zerolog.Event { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }

// WithComponent는 컴포넌트 이름을 붙인 로거를 반환합니다.
func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithTask는 태스크 ID를 붙인 로거를 반환합니다.
func WithTask(taskID string) zerolog.Logger {
	return log.With().Str("task_id", taskID).Logger()
}
