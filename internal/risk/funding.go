package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpsim/internal/domain"
)

// FundingSettlement 单个仓位的资金费，Amount 为正表示收到，为负表示支付
type FundingSettlement struct {
	PositionID string
	Symbol     string
	Side       domain.Side
	Mode       domain.MarginMode
	Notional   decimal.Decimal
	Amount     decimal.Decimal
}

// FundingResult 一次资金费检查的结果
type FundingResult struct {
	Applied     bool // 是否到期并结算（无仓位时也为 true）
	Rate        decimal.Decimal
	Settlements []FundingSettlement
}

// Net 账户净资金费
func (r FundingResult) Net() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Settlements {
		total = total.Add(s.Amount)
	}
	return total
}

// ApplyFundingIfDue 距上次结算不足一个周期时什么都不做；
// 否则按 rate>0 多付空、rate<0 空付多结算每个仓位：逐仓改 margin，全仓改余额（都不低于 0），
// 并且无论有没有仓位都把 LastFundingTs 推进到 now，避免反复补结算
func (e *Engine) ApplyFundingIfDue(acct *domain.AccountState, now time.Time) FundingResult {
	if acct == nil || now.Sub(acct.LastFundingTs) < e.cfg.FundingInterval {
		return FundingResult{}
	}
	rate := acct.FundingRate
	res := FundingResult{Applied: true, Rate: rate}
	acct.LastFundingTs = now

	if rate.IsZero() {
		return res
	}
	absRate := rate.Abs()
	longsPay := rate.IsPositive()

	for _, p := range acct.Positions {
		notional := p.Notional(markOf(p, acct))
		flow := notional.Mul(absRate)
		payer := (p.Side == domain.SideLong) == longsPay
		if payer {
			flow = flow.Neg()
		}

		if p.Mode == domain.MarginIsolated {
			p.Margin = floorZero(p.Margin.Add(flow))
		} else {
			acct.BalanceUSDT = floorZero(acct.BalanceUSDT.Add(flow))
		}
		res.Settlements = append(res.Settlements, FundingSettlement{
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Mode:       p.Mode,
			Notional:   notional,
			Amount:     flow,
		})
	}
	return res
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
