// Package main은 pvgstream CLI의 진입점입니다.
// 서버의 태스크 진행 상황 스트림을 구독하여 여러 태스크의 상태를 집계합니다.
package main

import (
	"os"

	"github.com/insajin/pvg-stream/cmd"
)

// 빌드 시 ldflags로 주입되는 버전 정보
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
