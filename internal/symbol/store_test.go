package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_SetNotifiesInOrder(t *testing.T) {
	s := NewStore("btcusdt")
	assert.Equal(t, "BTCUSDT", s.Get())

	var got []string
	unsubA := s.On(func(sym string) { got = append(got, "a:"+sym) })
	s.On(func(sym string) { got = append(got, "b:"+sym+":"+s.Get()) })

	assert.True(t, s.Set("ethusdt"))
	assert.Equal(t, []string{"a:ETHUSDT", "b:ETHUSDT:ETHUSDT"}, got)

	// 相同值和空值不通知
	assert.False(t, s.Set("ETHUSDT"))
	assert.False(t, s.Set("  "))
	assert.Len(t, got, 2)

	unsubA()
	unsubA()
	s.Set("SOLUSDT")
	assert.Equal(t, []string{"a:ETHUSDT", "b:ETHUSDT:ETHUSDT", "b:SOLUSDT:SOLUSDT"}, got)
}
