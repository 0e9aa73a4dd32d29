package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// EventType은 엔벨로프의 종류입니다.
type EventType string

// 수신 엔벨로프 타입입니다.
const (
	EventProgress  EventType = "progress"
	EventStatus    EventType = "status"
	EventStep      EventType = "step"
	EventHeartbeat EventType = "heartbeat"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
)

// 송신 전용 타입입니다.
const (
	// EventPing은 하트비트 송신기가 보내는 생존 ping입니다.
	EventPing EventType = "ping"
)

// typeAliases는 서버 구버전이 보내는 타입 이름을 표준 이름으로 매핑합니다.
var typeAliases = map[EventType]EventType{
	"task_progress":  EventProgress,
	"task_status":    EventStatus,
	"task_update":    EventStatus,
	"task_step":      EventStep,
	"task_completed": EventCompleted,
	"task_failed":    EventError,
	"task_cancelled": EventCancelled,
	"pong":           EventHeartbeat,
}

// Normalize는 별칭 타입을 표준 타입으로 변환합니다.
func (t EventType) Normalize() EventType {
	if canonical, ok := typeAliases[t]; ok {
		return canonical
	}
	return t
}

// Envelope는 스트림으로 전달되는 데이터 한 단위입니다.
type Envelope struct {
	// Type은 엔벨로프 종류입니다.
	Type EventType `json:"type"`
	// Data는 타입별 페이로드입니다.
	Data json.RawMessage `json:"data,omitempty"`
	// Timestamp는 epoch 밀리초입니다.
	Timestamp int64 `json:"timestamp"`
	// MessageID는 메시지 식별자입니다. 재전송 중복 제거에 사용됩니다.
	MessageID string `json:"messageId"`
	// TaskID는 대상 태스크 ID입니다.
	TaskID string `json:"taskId,omitempty"`
	// CorrelationID는 요청/응답을 짝짓는 식별자입니다.
	CorrelationID string `json:"correlationId,omitempty"`
}

// Time은 Timestamp를 time.Time으로 변환합니다.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// DecodeData는 페이로드를 v로 역직렬화합니다.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// NewEnvelope는 새 messageId와 현재 시각으로 송신용 엔벨로프를 생성합니다.
func NewEnvelope(t EventType, taskID string, payload interface{}) (Envelope, error) {
	env := Envelope{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		MessageID: uuid.New().String(),
		TaskID:    taskID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("페이로드 직렬화 실패: %w", err)
		}
		env.Data = data
	}
	return env, nil
}

// wireEnvelope는 필수 필드 누락을 구분하기 위한 디코딩 전용 구조체입니다.
type wireEnvelope struct {
	Type          *string         `json:"type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     *json.Number    `json:"timestamp"`
	MessageID     *string         `json:"messageId"`
	TaskID        string          `json:"taskId"`
	CorrelationID string          `json:"correlationId"`
	RequestID     string          `json:"requestId"`
}

// DecodeEnvelope는 원시 프레임을 엔벨로프로 역직렬화합니다.
// type, timestamp, messageId 중 하나라도 없으면 ErrProtocol을 반환합니다.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return Envelope{}, fmt.Errorf("%w: JSON 파싱 실패: %v", ErrProtocol, err)
	}

	switch {
	case w.Type == nil || *w.Type == "":
		return Envelope{}, fmt.Errorf("%w: type 필드 누락", ErrProtocol)
	case w.Timestamp == nil:
		return Envelope{}, fmt.Errorf("%w: timestamp 필드 누락", ErrProtocol)
	case w.MessageID == nil || *w.MessageID == "":
		return Envelope{}, fmt.Errorf("%w: messageId 필드 누락", ErrProtocol)
	}

	ts, err := parseTimestamp(*w.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	env := Envelope{
		Type:          EventType(*w.Type).Normalize(),
		Data:          w.Data,
		Timestamp:     ts,
		MessageID:     *w.MessageID,
		TaskID:        w.TaskID,
		CorrelationID: w.CorrelationID,
	}
	if env.CorrelationID == "" {
		env.CorrelationID = w.RequestID
	}
	return env, nil
}

// parseTimestamp는 epoch 밀리초를 파싱합니다. 소수점 값은 버림 처리합니다.
func parseTimestamp(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("유효하지 않은 timestamp: %s", n.String())
	}
	return int64(f), nil
}

// ProgressData는 progress 이벤트 페이로드입니다.
type ProgressData struct {
	Progress           *float64 `json:"progress"`
	ProgressPercentage *float64 `json:"progress_percentage"`
	CurrentStep        string   `json:"currentStep"`
	CurrentStepSnake   string   `json:"current_step"`
	Message            string   `json:"message,omitempty"`
}

// Value는 진행률을 반환합니다. 값이 없으면 ok=false입니다.
func (p ProgressData) Value() (float64, bool) {
	if p.Progress != nil {
		return *p.Progress, true
	}
	if p.ProgressPercentage != nil {
		return *p.ProgressPercentage, true
	}
	return 0, false
}

// Step은 현재 단계 이름을 반환합니다.
func (p ProgressData) Step() string {
	if p.CurrentStep != "" {
		return p.CurrentStep
	}
	return p.CurrentStepSnake
}

// StatusData는 status 이벤트 페이로드입니다.
type StatusData struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// StepData는 step 이벤트 페이로드입니다.
type StepData struct {
	Step        string `json:"step"`
	CurrentStep string `json:"currentStep"`
}

// Name은 단계 이름을 반환합니다.
func (s StepData) Name() string {
	if s.Step != "" {
		return s.Step
	}
	return s.CurrentStep
}

// ErrorData는 error 이벤트 페이로드입니다.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
