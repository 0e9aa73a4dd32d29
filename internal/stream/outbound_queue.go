package stream

import "fmt"

// DefaultQueueCapacity는 송신 대기열의 기본 용량입니다.
const DefaultQueueCapacity = 100

// OutboundQueue는 연결이 끊긴 동안 보낸 메시지를 보관하는 고정 용량 FIFO입니다.
// 가득 차면 가장 오래된 메시지를 버리지 않고 새 메시지를 거부합니다.
// 잠금이 없으며 소유한 매니저의 직렬화 구간 안에서만 사용합니다.
type OutboundQueue struct {
	items    []Envelope
	capacity int
}

// NewOutboundQueue는 지정한 용량의 대기열을 생성합니다.
// capacity가 0 이하이면 DefaultQueueCapacity를 사용합니다.
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &OutboundQueue{
		items:    make([]Envelope, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue는 메시지를 대기열 끝에 추가합니다.
// 대기열이 가득 차면 ErrCapacity를 반환하고 메시지는 보관되지 않습니다.
func (q *OutboundQueue) Enqueue(msg Envelope) error {
	if len(q.items) >= q.capacity {
		return fmt.Errorf("%w: %d/%d (message_id=%s)", ErrCapacity, len(q.items), q.capacity, msg.MessageID)
	}
	q.items = append(q.items, msg)
	return nil
}

// Peek은 가장 먼저 들어온 메시지를 제거하지 않고 반환합니다.
func (q *OutboundQueue) Peek() (Envelope, bool) {
	if len(q.items) == 0 {
		return Envelope{}, false
	}
	return q.items[0], true
}

// Pop은 가장 먼저 들어온 메시지를 제거합니다.
func (q *OutboundQueue) Pop() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = Envelope{}
	q.items = q.items[1:]
}

// Flush는 대기열의 메시지를 들어온 순서대로 send에 전달합니다.
// send가 실패하면 해당 메시지와 나머지는 대기열에 남기고 오류를 반환합니다.
func (q *OutboundQueue) Flush(send func(Envelope) error) (int, error) {
	sent := 0
	for {
		msg, ok := q.Peek()
		if !ok {
			return sent, nil
		}
		if err := send(msg); err != nil {
			return sent, err
		}
		q.Pop()
		sent++
	}
}

// Remove는 messageID가 같은 메시지를 대기열에서 빼고 나머지 순서는 유지합니다.
// 찾지 못하면 false를 반환합니다.
func (q *OutboundQueue) Remove(messageID string) bool {
	if messageID == "" {
		return false
	}
	for i, msg := range q.items {
		if msg.MessageID != messageID {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = Envelope{}
		q.items = q.items[:len(q.items)-1]
		return true
	}
	return false
}

// Len은 대기 중인 메시지 수를 반환합니다.
func (q *OutboundQueue) Len() int {
	return len(q.items)
}

// Cap은 대기열 용량을 반환합니다.
func (q *OutboundQueue) Cap() int {
	return q.capacity
}

// Clear는 대기 중인 메시지를 모두 버립니다.
func (q *OutboundQueue) Clear() {
	q.items = make([]Envelope, 0, q.capacity)
}
