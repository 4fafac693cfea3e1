package risk

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpsim/internal/domain"
)

// Bracket 维持保证金阶梯：名义价值不超过 Cap 时使用 MMR；Cap<=0 表示无上限（最高档）
type Bracket struct {
	Cap decimal.Decimal
	MMR decimal.Decimal
}

// Config 风险参数，全部由构造方注入
type Config struct {
	TakerFee        decimal.Decimal
	MakerFee        decimal.Decimal
	LiquidationFee  decimal.Decimal // 强平手续费率，按名义价值收取
	FundingInterval time.Duration
	Brackets        []Bracket // 按 Cap 升序，无上限档放最后
	Epsilon         decimal.Decimal
}

// DefaultConfig 默认参数：taker 0.05%，maker 0.02%，8 小时资金费，无阶梯表
func DefaultConfig() Config {
	return Config{
		TakerFee:        decimal.RequireFromString("0.0005"),
		MakerFee:        decimal.RequireFromString("0.0002"),
		LiquidationFee:  decimal.RequireFromString("0.0005"),
		FundingInterval: 8 * time.Hour,
		Epsilon:         decimal.RequireFromString("0.000000001"),
	}
}

var (
	minSyntheticMMR = decimal.RequireFromString("0.0025")
	maxSyntheticMMR = decimal.RequireFromString("0.008")
	syntheticFactor = decimal.RequireFromString("0.6")
)

// Engine 纯计算：维持保证金率、盈亏、强平价、资金费结算、强平扫描。
// 除 ApplyFundingIfDue / CheckLiquidations 修改传入的账户外不持有任何可变状态
type Engine struct {
	cfg Config
}

// New 创建风险引擎，阶梯表按 Cap 排序（无上限档排最后）
func New(cfg Config) *Engine {
	brackets := append([]Bracket(nil), cfg.Brackets...)
	sort.SliceStable(brackets, func(i, j int) bool {
		a, b := brackets[i].Cap, brackets[j].Cap
		if !a.IsPositive() {
			return false
		}
		if !b.IsPositive() {
			return true
		}
		return a.LessThan(b)
	})
	cfg.Brackets = brackets
	if cfg.Epsilon.IsZero() {
		cfg.Epsilon = DefaultConfig().Epsilon
	}
	return &Engine{cfg: cfg}
}

// TakerFee 名义价值 × taker 费率
func (e *Engine) TakerFee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(e.cfg.TakerFee)
}

// MakerFee 名义价值 × maker 费率
func (e *Engine) MakerFee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(e.cfg.MakerFee)
}

// MaintenanceRate 维持保证金率。
// 有阶梯表时取第一个 Cap<=0 或 Cap>=名义价值 的档位；否则 max(0.0025, min(0.008, 0.6/leverage))
func (e *Engine) MaintenanceRate(p *domain.Position, mark decimal.Decimal) decimal.Decimal {
	if len(e.cfg.Brackets) > 0 {
		notional := p.Notional(mark)
		for _, b := range e.cfg.Brackets {
			if !b.Cap.IsPositive() || b.Cap.GreaterThanOrEqual(notional) {
				return b.MMR
			}
		}
		// 表里没有无上限档且名义价值超过所有档位时用最高档
		return e.cfg.Brackets[len(e.cfg.Brackets)-1].MMR
	}
	return SyntheticMMR(p.Leverage)
}

// SyntheticMMR 没有阶梯表时按杠杆估算的维持保证金率
func SyntheticMMR(leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	r := syntheticFactor.Div(decimal.NewFromInt(int64(leverage)))
	return decimal.Max(minSyntheticMMR, decimal.Min(maxSyntheticMMR, r))
}

// CalcPnL 未实现盈亏：多 (price-entry)×amount，空 (entry-price)×amount
func (e *Engine) CalcPnL(p *domain.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.Entry)
	if p.Side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Amount)
}

// markOf 仓位的标记价格，没有行情时退回开仓价
func markOf(p *domain.Position, acct *domain.AccountState) decimal.Decimal {
	if acct != nil {
		if m := acct.MarkFor(p.Symbol); m.IsPositive() {
			return m
		}
	}
	return p.Entry
}

// LiqPrice 强平价：可用保证金等于维持保证金时的价格。
// 逐仓基数 = margin，全仓基数 = margin + 可用余额；
// 多: (entry·amount − base) / (amount·(1 − f − mmr))，空: (base + entry·amount) / (amount·(1 + f + mmr))。
// 分母 <= 0 或结果 <= 0 时退回 entry·(1 ∓ 1/leverage)，第二个返回值为 true 表示是近似值
func (e *Engine) LiqPrice(p *domain.Position, acct *domain.AccountState) (decimal.Decimal, bool) {
	mmr := e.MaintenanceRate(p, markOf(p, acct))
	base := p.Margin
	if p.Mode == domain.MarginCross && acct != nil {
		base = base.Add(acct.BalanceUSDT)
	}
	one := decimal.NewFromInt(1)
	entryNotional := p.Entry.Mul(p.Amount)

	var num, den decimal.Decimal
	if p.Side == domain.SideLong {
		num = entryNotional.Sub(base)
		den = p.Amount.Mul(one.Sub(e.cfg.TakerFee).Sub(mmr))
	} else {
		num = base.Add(entryNotional)
		den = p.Amount.Mul(one.Add(e.cfg.TakerFee).Add(mmr))
	}
	if den.IsPositive() {
		if price := num.Div(den); price.IsPositive() {
			return price, false
		}
	}
	return e.approxLiqPrice(p), true
}

func (e *Engine) approxLiqPrice(p *domain.Position) decimal.Decimal {
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	step := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(lev)))
	if p.Side == domain.SideLong {
		return p.Entry.Mul(decimal.NewFromInt(1).Sub(step))
	}
	return p.Entry.Mul(decimal.NewFromInt(1).Add(step))
}
