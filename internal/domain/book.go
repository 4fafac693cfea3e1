package domain

import "time"

// PriceLevel 订单簿价位（行情数据保持 float64，进入交易引擎时再转 decimal）
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSource 订单簿数据来源
type BookSource string

const (
	BookSourceSnapshot BookSource = "snapshot" // 连接建立时的 REST 快照
	BookSourceStream   BookSource = "stream"   // 推送流
	BookSourceResync   BookSource = "resync"   // 周期性 REST 校正
)

// OrderBook 归一化后的订单簿：bids 降序、asks 升序，同价合并，按深度截断
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Source    BookSource   `json:"source"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BestBid 最优买价
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk 最优卖价
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice 买一卖一中间价，任一侧为空时返回 false
func (b *OrderBook) MidPrice() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// BestPrice 标记价格：优先中间价，否则取存在的一侧
func (b *OrderBook) BestPrice() (float64, bool) {
	if mid, ok := b.MidPrice(); ok {
		return mid, true
	}
	if bid, ok := b.BestBid(); ok {
		return bid.Price, true
	}
	if ask, ok := b.BestAsk(); ok {
		return ask.Price, true
	}
	return 0, false
}

// Clone 深拷贝，跨 goroutine 传递前使用
func (b *OrderBook) Clone() *OrderBook {
	if b == nil {
		return nil
	}
	out := *b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return &out
}
