package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_MonotoneAndCapped(t *testing.T) {
	b := DefaultBackoff()
	b.randN = func(n int64) int64 { return 0 }

	want := []time.Duration{
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		6400 * time.Millisecond,
		10 * time.Second,
		10 * time.Second,
	}
	prev := time.Duration(0)
	for i, w := range want {
		d := b.Delay(i)
		assert.Equal(t, w, d, "attempt %d", i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
	assert.Equal(t, 10*time.Second, b.Step(1000))
}

func TestBackoff_JitterRange(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 0; attempt < 50; attempt++ {
		d := b.Delay(attempt)
		step := b.Step(attempt)
		assert.GreaterOrEqual(t, d, step)
		assert.Less(t, d, step+300*time.Millisecond)
		assert.LessOrEqual(t, d, 10*time.Second+300*time.Millisecond)
	}
}

func TestBackoff_MaxJitterStillBelowBound(t *testing.T) {
	b := DefaultBackoff()
	b.randN = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 10*time.Second+300*time.Millisecond-1, b.Delay(20))
}
