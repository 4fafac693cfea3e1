package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_CapNewestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Add(FillRecord{Filled: decimal.NewFromInt(int64(i))})
	}
	require.Equal(t, 3, h.Len())
	assert.Equal(t, 3, h.Cap())

	recs := h.Records()
	require.Len(t, recs, 3)
	assert.True(t, recs[0].Filled.Equal(decimal.NewFromInt(5)))
	assert.True(t, recs[1].Filled.Equal(decimal.NewFromInt(4)))
	assert.True(t, recs[2].Filled.Equal(decimal.NewFromInt(3)))

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.True(t, latest.Filled.Equal(decimal.NewFromInt(5)))
}

func TestHistory_DefaultCap(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistoryCap, h.Cap())
	_, ok := h.Latest()
	assert.False(t, ok)
	assert.Empty(t, h.Records())
}

func TestOrderBook_BestPrice(t *testing.T) {
	b := &OrderBook{
		Bids: []PriceLevel{{Price: 99, Size: 1}},
		Asks: []PriceLevel{{Price: 101, Size: 1}},
	}
	p, ok := b.BestPrice()
	require.True(t, ok)
	assert.Equal(t, 100.0, p)

	b.Asks = nil
	p, ok = b.BestPrice()
	require.True(t, ok)
	assert.Equal(t, 99.0, p)

	b.Bids = nil
	_, ok = b.BestPrice()
	assert.False(t, ok)

	var nilBook *OrderBook
	_, ok = nilBook.BestPrice()
	assert.False(t, ok)
}

func TestOrderBook_CloneIsDeep(t *testing.T) {
	b := &OrderBook{Symbol: "BTCUSDT", Bids: []PriceLevel{{Price: 1, Size: 1}}}
	c := b.Clone()
	c.Bids[0].Size = 9
	assert.Equal(t, 1.0, b.Bids[0].Size)
}

func TestOrder_Crosses(t *testing.T) {
	long := &Order{Side: SideLong, Price: decimal.NewFromInt(60000)}
	assert.False(t, long.Crosses(decimal.NewFromInt(61000)))
	assert.True(t, long.Crosses(decimal.NewFromInt(60000)))
	assert.True(t, long.Crosses(decimal.NewFromInt(59000)))

	short := &Order{Side: SideShort, Price: decimal.NewFromInt(60000)}
	assert.False(t, short.Crosses(decimal.NewFromInt(59000)))
	assert.True(t, short.Crosses(decimal.NewFromInt(60000)))
}

func TestParseSideAndMode(t *testing.T) {
	s, err := ParseSide("BUY")
	require.NoError(t, err)
	assert.Equal(t, SideLong, s)
	_, err = ParseSide("up")
	assert.Error(t, err)

	m, err := ParseMarginMode("Isolated")
	require.NoError(t, err)
	assert.Equal(t, MarginIsolated, m)
	_, err = ParseMarginMode("portfolio")
	assert.Error(t, err)
}

func TestAccountState_SnapshotIsDeep(t *testing.T) {
	a := NewAccountState(decimal.NewFromInt(1000), 10, MarginCross, 10, time.Unix(0, 0))
	a.Positions = append(a.Positions, &Position{ID: "p1", Amount: decimal.NewFromInt(1)})
	a.SetMark("BTCUSDT", decimal.NewFromInt(100))

	s := a.Snapshot()
	a.Positions[0].Amount = decimal.NewFromInt(2)
	a.SetMark("BTCUSDT", decimal.NewFromInt(200))

	assert.True(t, s.Positions[0].Amount.Equal(decimal.NewFromInt(1)))
	assert.True(t, s.Marks["BTCUSDT"].Equal(decimal.NewFromInt(100)))
	assert.True(t, a.MarkFor("ETHUSDT").Equal(decimal.NewFromInt(200)), "未知交易对退回 LastPrice")

	_, ok := a.RemovePosition("p1")
	assert.True(t, ok)
	_, ok = a.RemovePosition("p1")
	assert.False(t, ok)
}
