package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 持仓/订单方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide 解析方向，兼容 buy/sell
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return "", fmt.Errorf("未知方向: %q", s)
	}
}

// MarginMode 保证金模式
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// ParseMarginMode 解析保证金模式
func ParseMarginMode(s string) (MarginMode, error) {
	switch MarginMode(strings.ToLower(strings.TrimSpace(s))) {
	case MarginCross:
		return MarginCross, nil
	case MarginIsolated:
		return MarginIsolated, nil
	default:
		return "", fmt.Errorf("未知保证金模式: %q", s)
	}
}

// OrderStatus 挂单状态；挂单只会处于 Unfilled，成交后直接从列表移除
type OrderStatus string

const OrderStatusUnfilled OrderStatus = "Unfilled"

// Order 限价挂单
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Leverage  int             `json:"leverage"`
	Mode      MarginMode      `json:"mode"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Crosses 标记价格是否穿越挂单价：多单 mark <= price，空单 mark >= price
func (o *Order) Crosses(mark decimal.Decimal) bool {
	if o.Side == SideLong {
		return mark.LessThanOrEqual(o.Price)
	}
	return mark.GreaterThanOrEqual(o.Price)
}
