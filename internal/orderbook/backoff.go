package orderbook

import (
	"math/rand/v2"
	"time"
)

// Backoff 重连退避：min(Base·2^attempt, Max) + [0, Jitter) 随机抖动，重试次数不设上限
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	// randN 返回 [0,n)，测试时可替换
	randN func(n int64) int64
}

// DefaultBackoff 800ms 起步，翻倍到 10s 封顶，抖动 300ms
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   800 * time.Millisecond,
		Max:    10 * time.Second,
		Jitter: 300 * time.Millisecond,
	}
}

// Step 不含抖动的退避时长
func (b Backoff) Step(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Delay 第 attempt 次重连（从 0 开始）前的等待时长
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Step(attempt)
	if b.Jitter > 0 {
		randN := b.randN
		if randN == nil {
			randN = rand.Int64N
		}
		d += time.Duration(randN(int64(b.Jitter)))
	}
	return d
}
