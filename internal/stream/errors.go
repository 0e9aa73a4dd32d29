package stream

import "errors"

// 스트림 오류 분류입니다. 호출자는 errors.Is로 종류를 판별합니다.
var (
	// ErrTransport는 소켓/스트림 수준의 장애입니다. 자동 재연결 대상입니다.
	ErrTransport = errors.New("전송 계층 오류")

	// ErrProtocol은 형식이 잘못된 엔벨로프입니다. 해당 프레임만 버려집니다.
	ErrProtocol = errors.New("프로토콜 오류")

	// ErrTimeout은 하트비트 또는 대기 중 요청의 시간 초과입니다.
	ErrTimeout = errors.New("시간 초과")

	// ErrCapacity는 송신 대기열이 가득 찼을 때 Send가 반환합니다.
	ErrCapacity = errors.New("송신 대기열 용량 초과")

	// ErrAuth는 연결 수립 중 인증이 거부된 경우입니다. 재시도하지 않습니다.
	ErrAuth = errors.New("인증 거부")

	// ErrReconnectExhausted는 최대 재연결 시도 횟수를 소진했을 때 보고됩니다.
	ErrReconnectExhausted = errors.New("최대 재연결 시도 소진")

	// ErrClosed는 Close 이후 매니저를 사용하려 할 때 반환됩니다.
	ErrClosed = errors.New("연결 매니저가 닫혔습니다")

	// ErrDuplicateCorrelation은 같은 correlation id의 요청이 이미 대기 중일 때 반환됩니다.
	ErrDuplicateCorrelation = errors.New("이미 대기 중인 correlation id입니다")

	// ErrReceiveOnly는 수신 전용 전송(SSE)으로 메시지를 보내려 할 때 반환됩니다.
	ErrReceiveOnly = errors.New("수신 전용 연결입니다")
)
