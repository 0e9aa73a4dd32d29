package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Conn은 하나의 물리 연결입니다.
// ReadFrame은 한 고루틴에서만 호출하고, WriteFrame은 동시 호출에 안전해야 합니다.
type Conn interface {
	// ReadFrame은 다음 프레임을 받을 때까지 대기합니다.
	ReadFrame() ([]byte, error)
	// WriteFrame은 프레임 하나를 전송합니다.
	WriteFrame(frame []byte) error
	// Bidirectional은 송신이 가능한 전송인지 알려줍니다.
	Bidirectional() bool
	// Close는 연결을 닫고 대기 중인 ReadFrame을 깨웁니다.
	Close() error
}

// Dialer는 엔드포인트에 대한 연결을 엽니다.
// 서버가 인증을 거부하면 ErrAuth를 감싼 오류를 반환해야 합니다.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, auth Auth) (Conn, error)
}

// DialerFunc는 함수를 Dialer로 사용할 수 있게 합니다.
type DialerFunc func(ctx context.Context, endpoint string, auth Auth) (Conn, error)

// Dial은 f를 호출합니다.
func (f DialerFunc) Dial(ctx context.Context, endpoint string, auth Auth) (Conn, error) {
	return f(ctx, endpoint, auth)
}

// AuthMode는 토큰 전달 방식입니다.
type AuthMode string

const (
	// AuthQuery는 토큰을 쿼리 파라미터로 전달합니다.
	AuthQuery AuthMode = "query"
	// AuthHeader는 토큰을 Authorization 헤더로 전달합니다.
	AuthHeader AuthMode = "header"
)

// Auth는 연결 수립 시 첨부할 인증 정보입니다.
type Auth struct {
	Token string
	Mode  AuthMode
	// QueryParam은 AuthQuery일 때 사용할 파라미터 이름입니다 (기본값 "token").
	QueryParam string
}

// Apply는 인증 정보를 엔드포인트와 헤더에 반영합니다.
func (a Auth) Apply(endpoint string) (string, http.Header, error) {
	header := http.Header{}
	if a.Token == "" {
		return endpoint, header, nil
	}

	switch a.Mode {
	case AuthHeader:
		header.Set("Authorization", "Bearer "+a.Token)
		return endpoint, header, nil
	case AuthQuery, "":
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", nil, fmt.Errorf("엔드포인트 URL 파싱 실패: %w", err)
		}
		param := a.QueryParam
		if param == "" {
			param = "token"
		}
		q := u.Query()
		q.Set(param, a.Token)
		u.RawQuery = q.Encode()
		return u.String(), header, nil
	default:
		return "", nil, fmt.Errorf("지원하지 않는 인증 방식: %s", a.Mode)
	}
}

// TaskEndpoint는 URL 템플릿의 {taskId}를 실제 태스크 ID로 치환합니다.
func TaskEndpoint(template, taskID string) string {
	return strings.ReplaceAll(template, "{taskId}", url.PathEscape(taskID))
}

// authStatus는 HTTP 상태 코드가 인증 거부인지 확인합니다.
func authStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
