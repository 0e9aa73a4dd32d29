package stream

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff는 지터가 적용된 지수 백오프 재연결 지연을 계산합니다.
// 기본값:
// - 초기 지연: 3초
// - 최대 지연: 30초
// - 배수: 1.5
// - 지터: ±20%
type Backoff struct {
	// BaseDelay는 지수 계산의 기준 지연입니다.
	BaseDelay time.Duration
	// MaxDelay는 지터 적용 후에도 넘지 않는 상한입니다.
	MaxDelay time.Duration
	// Factor는 지수 백오프 배수입니다.
	Factor float64
	// Jitter는 곱셈 지터 비율입니다 (0.2 = ±20%). 0이면 지터 없음.
	Jitter float64
	// Rand는 [0, 1) 범위의 난수 소스입니다. nil이면 전역 소스를 사용합니다.
	Rand func() float64
}

// DefaultBackoff는 기본값을 사용하는 Backoff를 반환합니다.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay: 3 * time.Second,
		MaxDelay:  30 * time.Second,
		Factor:    1.5,
		Jitter:    0.2,
	}
}

// NewJitterSource는 시드로 결정되는 난수 소스를 생성합니다.
// 같은 시드와 같은 시도 순서는 항상 같은 지연을 만듭니다.
func NewJitterSource(seed uint64) func() float64 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return r.Float64
}

// Nominal은 지터를 적용하지 않은 지연을 반환합니다.
// delay = min(BaseDelay * Factor^attempt, MaxDelay)
func (b Backoff) Nominal(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.BaseDelay) * math.Pow(factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Delay는 attempt번째 재시도 전 대기 시간을 반환합니다. attempt는 1부터 시작합니다.
// 지터는 곱셈으로 적용되며 결과는 항상 MaxDelay 이하입니다.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Nominal(attempt)
	if b.Jitter <= 0 {
		return d
	}

	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	// [1-Jitter, 1+Jitter) 범위의 배율
	scale := 1 + b.Jitter*(2*rnd()-1)
	jittered := time.Duration(float64(d) * scale)

	if jittered > b.MaxDelay {
		jittered = b.MaxDelay
	}
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}
