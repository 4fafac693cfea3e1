package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpsim/internal/domain"
)

// Liquidation 一次强平
type Liquidation struct {
	Position    domain.Position // 被移除的仓位
	Mark        decimal.Decimal
	PnL         decimal.Decimal
	Fee         decimal.Decimal // 强平手续费
	Credit      decimal.Decimal // 退回余额的部分 max(0, margin+pnl-fee)
	Available   decimal.Decimal
	Maintenance decimal.Decimal
}

// health 单个仓位的强平检查
type health struct {
	mark        decimal.Decimal
	pnl         decimal.Decimal
	available   decimal.Decimal
	maintenance decimal.Decimal
}

func (e *Engine) evaluate(p *domain.Position, acct *domain.AccountState, totalPnL decimal.Decimal) health {
	mark := markOf(p, acct)
	notional := p.Notional(mark)
	h := health{
		mark:        mark,
		pnl:         e.CalcPnL(p, mark),
		maintenance: notional.Mul(e.MaintenanceRate(p, mark)),
	}
	feeEstimate := e.TakerFee(notional)
	if p.Mode == domain.MarginIsolated {
		h.available = p.Margin.Add(h.pnl).Sub(feeEstimate)
	} else {
		h.available = acct.BalanceUSDT.Add(totalPnL).Sub(feeEstimate)
	}
	return h
}

func (e *Engine) breached(h health) bool {
	return h.available.Sub(h.maintenance).LessThan(e.cfg.Epsilon.Neg())
}

// totalPnL 账户全部仓位的未实现盈亏之和（全仓共享保证金检查用）
func (e *Engine) totalPnL(acct *domain.AccountState) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range acct.Positions {
		sum = sum.Add(e.CalcPnL(p, markOf(p, acct)))
	}
	return sum
}

// CheckLiquidations 强平扫描，返回被强平的仓位（数量即 len）。
// 顺序固定：先按插入顺序处理逐仓仓位，再处理全仓仓位；全仓每次强平亏损最大的一个，
// 强平后余额变化，重新评估剩余全仓仓位
func (e *Engine) CheckLiquidations(acct *domain.AccountState) []Liquidation {
	if acct == nil || len(acct.Positions) == 0 {
		return nil
	}
	var out []Liquidation

	// 逐仓
	for _, p := range append([]*domain.Position(nil), acct.Positions...) {
		if p.Mode != domain.MarginIsolated {
			continue
		}
		h := e.evaluate(p, acct, decimal.Zero)
		if e.breached(h) {
			out = append(out, e.liquidate(acct, p, h))
		}
	}

	// 全仓
	for {
		total := e.totalPnL(acct)
		type candidate struct {
			p *domain.Position
			h health
		}
		var cands []candidate
		for _, p := range acct.Positions {
			if p.Mode == domain.MarginIsolated {
				continue
			}
			h := e.evaluate(p, acct, total)
			if e.breached(h) {
				cands = append(cands, candidate{p: p, h: h})
			}
		}
		if len(cands) == 0 {
			break
		}
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].h.pnl.LessThan(cands[j].h.pnl)
		})
		worst := cands[0]
		out = append(out, e.liquidate(acct, worst.p, worst.h))
	}
	return out
}

func (e *Engine) liquidate(acct *domain.AccountState, p *domain.Position, h health) Liquidation {
	fee := p.Notional(h.mark).Mul(e.cfg.LiquidationFee)
	credit := floorZero(p.Margin.Add(h.pnl).Sub(fee))
	acct.BalanceUSDT = acct.BalanceUSDT.Add(credit)
	acct.RemovePosition(p.ID)
	return Liquidation{
		Position:    *p,
		Mark:        h.mark,
		PnL:         h.pnl,
		Fee:         fee,
		Credit:      credit,
		Available:   h.available,
		Maintenance: h.maintenance,
	}
}
