package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction 成交方向
type Direction string

const (
	DirectionOpenLong   Direction = "Open Long"
	DirectionOpenShort  Direction = "Open Short"
	DirectionCloseLong  Direction = "Close Long"
	DirectionCloseShort Direction = "Close Short"
)

// OpenDirection 开仓方向
func OpenDirection(side Side) Direction {
	if side == SideLong {
		return DirectionOpenLong
	}
	return DirectionOpenShort
}

// CloseDirection 平仓方向
func CloseDirection(side Side) Direction {
	if side == SideLong {
		return DirectionCloseLong
	}
	return DirectionCloseShort
}

// OrderType 成交类型
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// FillRecord 成交记录，只追加不修改。开仓记录的 PnL 为 nil
type FillRecord struct {
	Ts          time.Time        `json:"ts"`
	Symbol      string           `json:"symbol"`
	Mode        MarginMode       `json:"mode"`
	Leverage    int              `json:"leverage"`
	Direction   Direction        `json:"direction"`
	Type        OrderType        `json:"type"`
	AvgPrice    decimal.Decimal  `json:"avg_price"`
	OrderPrice  decimal.Decimal  `json:"order_price"`
	Filled      decimal.Decimal  `json:"filled"`
	Fee         decimal.Decimal  `json:"fee"`
	PnL         *decimal.Decimal `json:"pnl"`
	Liquidation bool             `json:"liquidation,omitempty"`
}
