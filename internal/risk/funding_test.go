package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/perpsim/internal/domain"
)

func TestApplyFundingIfDue_NotDue(t *testing.T) {
	e := New(DefaultConfig())
	acct := newAccount("1000")
	acct.FundingRate = d("0.001")
	acct.Positions = append(acct.Positions, pos("p", domain.SideLong, domain.MarginCross, "100", "1", "10", 10))
	start := acct.LastFundingTs

	res := e.ApplyFundingIfDue(acct, start.Add(8*time.Hour-time.Second))
	assert.False(t, res.Applied)
	assert.True(t, acct.BalanceUSDT.Equal(d("1000")))
	assert.Equal(t, start, acct.LastFundingTs)
}

func TestApplyFundingIfDue_PositiveRateLongsPayShorts(t *testing.T) {
	e := New(DefaultConfig())
	acct := newAccount("1000")
	acct.FundingRate = d("0.001")
	acct.SetMark("BTCUSDT", d("200"))
	long := pos("l", domain.SideLong, domain.MarginIsolated, "100", "2", "20", 10)
	short := pos("s", domain.SideShort, domain.MarginCross, "100", "1", "10", 10)
	acct.Positions = append(acct.Positions, long, short)

	now := acct.LastFundingTs.Add(8 * time.Hour)
	res := e.ApplyFundingIfDue(acct, now)
	require.True(t, res.Applied)
	require.Len(t, res.Settlements, 2)

	// 多单逐仓：名义 400 × 0.001 = 0.4 从 margin 扣
	assert.True(t, long.Margin.Equal(d("19.6")), long.Margin.String())
	// 空单全仓：名义 200 × 0.001 = 0.2 加到余额
	assert.True(t, acct.BalanceUSDT.Equal(d("1000.2")), acct.BalanceUSDT.String())
	assert.True(t, res.Net().Equal(d("-0.2")))
	assert.Equal(t, now, acct.LastFundingTs)

	// 同一时刻再次调用不会重复结算
	res = e.ApplyFundingIfDue(acct, now)
	assert.False(t, res.Applied)
}

func TestApplyFundingIfDue_NegativeRateShortsPay(t *testing.T) {
	e := New(DefaultConfig())
	acct := newAccount("1000")
	acct.FundingRate = d("-0.01")
	acct.SetMark("BTCUSDT", d("100"))
	long := pos("l", domain.SideLong, domain.MarginCross, "100", "1", "10", 10)
	short := pos("s", domain.SideShort, domain.MarginIsolated, "100", "1", "0.5", 10)
	acct.Positions = append(acct.Positions, long, short)

	e.ApplyFundingIfDue(acct, acct.LastFundingTs.Add(9*time.Hour))
	assert.True(t, acct.BalanceUSDT.Equal(d("1001")))
	assert.True(t, short.Margin.Equal(d("0")), "逐仓 margin 不低于 0")
}

func TestApplyFundingIfDue_EmptyStillAdvances(t *testing.T) {
	e := New(DefaultConfig())
	acct := newAccount("1000")
	acct.FundingRate = d("0.001")
	now := acct.LastFundingTs.Add(24 * time.Hour)

	res := e.ApplyFundingIfDue(acct, now)
	assert.True(t, res.Applied)
	assert.Empty(t, res.Settlements)
	assert.Equal(t, now, acct.LastFundingTs)
	assert.True(t, acct.BalanceUSDT.Equal(d("1000")))
}
