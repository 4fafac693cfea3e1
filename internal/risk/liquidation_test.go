package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/perpsim/internal/domain"
)

func sweepEngine() *Engine {
	return New(Config{
		TakerFee:       d("0.0005"),
		LiquidationFee: d("0.0005"),
		Brackets:       []Bracket{{Cap: d("0"), MMR: d("0.005")}},
	})
}

func TestCheckLiquidations_IsolatedSweep(t *testing.T) {
	e := sweepEngine()
	acct := newAccount("500")
	acct.MarginMode = domain.MarginIsolated
	p := pos("iso", domain.SideLong, domain.MarginIsolated, "100", "10", "100", 10)
	acct.Positions = append(acct.Positions, p)

	// 强平线 900/9.945 ≈ 90.4977
	for _, mark := range []string{"99", "95", "91", "90.5"} {
		acct.SetMark("BTCUSDT", d(mark))
		assert.Empty(t, e.CheckLiquidations(acct), "mark=%s 不应强平", mark)
		require.Len(t, acct.Positions, 1)
	}

	acct.SetMark("BTCUSDT", d("90.4"))
	liqs := e.CheckLiquidations(acct)
	require.Len(t, liqs, 1)
	assert.Empty(t, acct.Positions)

	// credit = 100 + 10×(90.4-100) - 904×0.0005 = 3.548
	assert.True(t, liqs[0].Credit.Equal(d("3.548")), liqs[0].Credit.String())
	assert.True(t, liqs[0].PnL.Equal(d("-96")))
	assert.True(t, acct.BalanceUSDT.Equal(d("503.548")), acct.BalanceUSDT.String())

	// 只会强平一次
	assert.Empty(t, e.CheckLiquidations(acct))
	assert.True(t, acct.BalanceUSDT.Equal(d("503.548")))
}

func TestCheckLiquidations_CreditFlooredAtZero(t *testing.T) {
	e := sweepEngine()
	acct := newAccount("0")
	acct.Positions = append(acct.Positions, pos("iso", domain.SideShort, domain.MarginIsolated, "100", "10", "100", 10))
	acct.SetMark("BTCUSDT", d("150"))

	liqs := e.CheckLiquidations(acct)
	require.Len(t, liqs, 1)
	assert.True(t, liqs[0].Credit.IsZero())
	assert.True(t, acct.BalanceUSDT.IsZero())
}

func TestCheckLiquidations_CrossLargestLossFirst(t *testing.T) {
	e := sweepEngine()
	acct := newAccount("30")
	// 同一标记价下亏损：big 亏 100，small 亏 10
	small := pos("small", domain.SideLong, domain.MarginCross, "100", "1", "10", 10)
	big := pos("big", domain.SideLong, domain.MarginCross, "100", "10", "100", 10)
	acct.Positions = append(acct.Positions, small, big)
	acct.SetMark("BTCUSDT", d("90"))

	// total pnl = -110，available = 30 - 110 - fee < 0，两个都不健康；先平 big
	// big credit = 100 - 100 - 0.45 → 0；之后 available = 30 - 10 - 0.045 = 19.955 > 0.45，small 保留
	liqs := e.CheckLiquidations(acct)
	require.Len(t, liqs, 1)
	assert.Equal(t, "big", liqs[0].Position.ID)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, "small", acct.Positions[0].ID)
}

func TestCheckLiquidations_CrossReevaluatesAfterEachClose(t *testing.T) {
	e := sweepEngine()
	acct := newAccount("0")
	a := pos("a", domain.SideLong, domain.MarginCross, "100", "1", "10", 10)
	b := pos("b", domain.SideShort, domain.MarginCross, "100", "2", "20", 10)
	acct.Positions = append(acct.Positions, a, b)
	acct.SetMark("BTCUSDT", d("120"))

	// a 盈利 20，b 亏损 40；余额 0，total = -20
	// b 先平：credit = 20 - 40 - ... → 0；剩下 a：available = 0 + 20 - 0.06 > 0.6，保留
	liqs := e.CheckLiquidations(acct)
	require.Len(t, liqs, 1)
	assert.Equal(t, "b", liqs[0].Position.ID)
	assert.Len(t, acct.Positions, 1)
}

func TestCheckLiquidations_IsolatedBeforeCross(t *testing.T) {
	e := sweepEngine()
	acct := newAccount("0")
	cross := pos("cross", domain.SideLong, domain.MarginCross, "100", "10", "100", 10)
	iso := pos("iso", domain.SideLong, domain.MarginIsolated, "100", "10", "100", 10)
	acct.Positions = append(acct.Positions, cross, iso)
	acct.SetMark("BTCUSDT", d("80"))

	liqs := e.CheckLiquidations(acct)
	require.Len(t, liqs, 2)
	assert.Equal(t, "iso", liqs[0].Position.ID)
	assert.Equal(t, "cross", liqs[1].Position.ID)
	assert.Empty(t, acct.Positions)
}

func TestCheckLiquidations_EmptyNoop(t *testing.T) {
	e := sweepEngine()
	assert.Empty(t, e.CheckLiquidations(newAccount("100")))
	assert.Empty(t, e.CheckLiquidations(nil))
}
