// Package auth는 스트림 인증 토큰의 파일 저장소를 제공합니다.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyToken은 빈 토큰을 저장하려 할 때 반환됩니다.
var ErrEmptyToken = errors.New("토큰이 비어 있습니다")

// Save는 토큰을 path에 저장합니다. 파일은 0600 권한으로 생성됩니다.
func Save(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("토큰 디렉토리 생성 실패: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("토큰 파일 저장 실패: %w", err)
	}
	// umask로 권한이 완화되지 않도록 명시적으로 설정
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("토큰 파일 권한 설정 실패: %w", err)
	}
	return nil
}

// Load는 path에서 토큰을 읽습니다. 파일이 없으면 빈 문자열을 반환합니다.
func Load(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("토큰 파일 읽기 실패: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Clear는 저장된 토큰 파일을 삭제합니다.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("토큰 파일 삭제 실패: %w", err)
	}
	return nil
}

// Exists는 토큰 파일이 존재하는지 확인합니다.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// MaskToken은 로그와 화면 출력을 위해 토큰을 가립니다.
// 8자 이하 토큰은 전부 가립니다.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}
