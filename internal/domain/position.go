package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 永续合约仓位。同方向多次开仓不合并，各自一条记录
type Position struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Entry    decimal.Decimal `json:"entry"`
	Amount   decimal.Decimal `json:"amount"`
	Leverage int             `json:"leverage"`
	Margin   decimal.Decimal `json:"margin"` // 开仓时分配的保证金，逐仓模式下会被资金费调整
	Mode     MarginMode      `json:"mode"`
	OpenedAt time.Time       `json:"opened_at"`
}

// Notional 名义价值 = mark × amount
func (p *Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(p.Amount)
}

// Clone 复制仓位
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
