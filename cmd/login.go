// Package cmd는 pvgstream CLI의 명령어를 정의합니다.
// login.go는 스트림 인증 토큰을 저장/삭제하는 명령을 구현합니다.
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/insajin/pvg-stream/internal/auth"
	"github.com/insajin/pvg-stream/internal/config"
	"github.com/insajin/pvg-stream/internal/logger"
)

// loginCmd는 인증 토큰을 토큰 파일에 저장합니다.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "스트림 인증 토큰을 저장합니다",
	Long: `인증 토큰을 auth.token_file (기본값 ~/.config/pvgstream/token)에 저장합니다.

--token 플래그가 없으면 표준 입력의 첫 줄을 토큰으로 사용합니다.
이후 watch, call, status 명령은 저장된 토큰을 자동으로 사용합니다.

예시:
  pvgstream login --token eyJhbGciOi...
  echo $TOKEN | pvgstream login`,
	RunE: runLogin,
}

// logoutCmd는 저장된 토큰을 삭제합니다.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "저장된 인증 토큰을 삭제합니다",
	RunE:  runLogout,
}

var loginToken string

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringVar(&loginToken, "token", "", "저장할 인증 토큰")
}

// runLogin은 토큰을 저장합니다.
func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	if cfg.Auth.TokenFile == "" {
		return errors.New("auth.token_file이 설정되지 않았습니다")
	}

	token := loginToken
	if token == "" {
		token, err = readTokenLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	if err := auth.Save(cfg.Auth.TokenFile, token); err != nil {
		return fmt.Errorf("토큰 저장 실패: %w", err)
	}

	logger.Info().
		Str("token_file", cfg.Auth.TokenFile).
		Msg("인증 토큰 저장 완료")
	fmt.Fprintf(cmd.OutOrStdout(), "토큰이 저장되었습니다: %s (%s)\n",
		cfg.Auth.TokenFile, auth.MaskToken(strings.TrimSpace(token)))
	if cfg.Auth.Token != "" {
		fmt.Fprintln(cmd.OutOrStdout(), "참고: PVG_AUTH_TOKEN(auth.token)이 설정되어 있으면 저장된 토큰보다 우선합니다.")
	}
	return nil
}

// runLogout은 저장된 토큰을 삭제합니다.
func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}

	out := cmd.OutOrStdout()
	if !auth.Exists(cfg.Auth.TokenFile) {
		fmt.Fprintln(out, "저장된 인증 토큰이 없습니다.")
		return nil
	}
	if err := auth.Clear(cfg.Auth.TokenFile); err != nil {
		return err
	}

	fmt.Fprintln(out, "로그아웃 완료. 인증 토큰이 삭제되었습니다.")
	return nil
}

// readTokenLine은 r의 첫 줄을 토큰으로 읽습니다.
func readTokenLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("토큰 읽기 실패: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", auth.ErrEmptyToken
	}
	return line, nil
}
