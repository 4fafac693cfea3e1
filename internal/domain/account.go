package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountState 模拟账户，唯一的可变聚合，只由交易引擎所在的 goroutine 修改
type AccountState struct {
	BalanceUSDT   decimal.Decimal
	Leverage      int
	MarginMode    MarginMode
	Positions     []*Position
	OpenOrders    []*Order
	History       *History
	LastPrice     decimal.Decimal
	Marks         map[string]decimal.Decimal // 每个交易对最近一次标记价格
	FundingRate   decimal.Decimal
	LastFundingTs time.Time
}

// NewAccountState 创建账户
func NewAccountState(balance decimal.Decimal, leverage int, mode MarginMode, historyCap int, now time.Time) *AccountState {
	if leverage < 1 {
		leverage = 1
	}
	return &AccountState{
		BalanceUSDT:   balance,
		Leverage:      leverage,
		MarginMode:    mode,
		History:       NewHistory(historyCap),
		Marks:         make(map[string]decimal.Decimal),
		LastFundingTs: now,
	}
}

// MarkFor 仓位的标记价格：优先该交易对最近的标记价，没有则退回 LastPrice
func (a *AccountState) MarkFor(symbol string) decimal.Decimal {
	if m, ok := a.Marks[symbol]; ok && m.IsPositive() {
		return m
	}
	return a.LastPrice
}

// SetMark 记录标记价格
func (a *AccountState) SetMark(symbol string, mark decimal.Decimal) {
	if a.Marks == nil {
		a.Marks = make(map[string]decimal.Decimal)
	}
	a.Marks[symbol] = mark
	a.LastPrice = mark
}

// RemovePosition 按 ID 移除仓位
func (a *AccountState) RemovePosition(id string) (*Position, bool) {
	for i, p := range a.Positions {
		if p.ID == id {
			a.Positions = append(a.Positions[:i], a.Positions[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

// FindPosition 按 ID 查找仓位
func (a *AccountState) FindPosition(id string) (*Position, bool) {
	for _, p := range a.Positions {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// AccountSnapshot 账户的只读快照，可以安全地交给其他 goroutine
type AccountSnapshot struct {
	BalanceUSDT   decimal.Decimal            `json:"balance_usdt"`
	Leverage      int                        `json:"leverage"`
	MarginMode    MarginMode                 `json:"margin_mode"`
	Positions     []Position                 `json:"positions"`
	OpenOrders    []Order                    `json:"open_orders"`
	History       []FillRecord               `json:"history"`
	LastPrice     decimal.Decimal            `json:"last_price"`
	Marks         map[string]decimal.Decimal `json:"marks"`
	FundingRate   decimal.Decimal            `json:"funding_rate"`
	LastFundingTs time.Time                  `json:"last_funding_ts"`
}

// Snapshot 深拷贝账户
func (a *AccountState) Snapshot() AccountSnapshot {
	s := AccountSnapshot{
		BalanceUSDT:   a.BalanceUSDT,
		Leverage:      a.Leverage,
		MarginMode:    a.MarginMode,
		Positions:     make([]Position, 0, len(a.Positions)),
		OpenOrders:    make([]Order, 0, len(a.OpenOrders)),
		LastPrice:     a.LastPrice,
		Marks:         make(map[string]decimal.Decimal, len(a.Marks)),
		FundingRate:   a.FundingRate,
		LastFundingTs: a.LastFundingTs,
	}
	for _, p := range a.Positions {
		s.Positions = append(s.Positions, *p)
	}
	for _, o := range a.OpenOrders {
		s.OpenOrders = append(s.OpenOrders, *o)
	}
	for k, v := range a.Marks {
		s.Marks[k] = v
	}
	if a.History != nil {
		s.History = a.History.Records()
	}
	return s
}
