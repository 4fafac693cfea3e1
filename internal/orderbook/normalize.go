package orderbook

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/betbot/perpsim/internal/domain"
)

const (
	MinDepth     = 5
	MaxDepth     = 100
	DefaultDepth = 20
)

// ClampDepth 深度限制在 [5,100]
func ClampDepth(n int) int {
	if n < MinDepth {
		return MinDepth
	}
	if n > MaxDepth {
		return MaxDepth
	}
	return n
}

// parseNumber 支持字符串和 JSON 数字
func parseNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseLevels 把 [[price, size], ...] 解析成价位，丢弃无法解析、非有限或 <=0 的项
func ParseLevels(raw [][]any) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, ok := parseNumber(pair[0])
		if !ok || price <= 0 {
			continue
		}
		size, ok := parseNumber(pair[1])
		if !ok || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// NormalizeLevels 同价合并、排序、截断。desc=true 为 bids（降序）
func NormalizeLevels(levels []domain.PriceLevel, desc bool, limit int) []domain.PriceLevel {
	limit = ClampDepth(limit)

	merged := make(map[float64]float64, len(levels))
	for _, lv := range levels {
		if lv.Price <= 0 || lv.Size <= 0 || math.IsNaN(lv.Size) || math.IsInf(lv.Size, 0) ||
			math.IsNaN(lv.Price) || math.IsInf(lv.Price, 0) {
			continue
		}
		merged[lv.Price] += lv.Size
	}

	out := make([]domain.PriceLevel, 0, len(merged))
	for price, size := range merged {
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NormalizeBids 解析并归一化买盘
func NormalizeBids(raw [][]any, limit int) []domain.PriceLevel {
	return NormalizeLevels(ParseLevels(raw), true, limit)
}

// NormalizeAsks 解析并归一化卖盘
func NormalizeAsks(raw [][]any, limit int) []domain.PriceLevel {
	return NormalizeLevels(ParseLevels(raw), false, limit)
}

// NewBook 由原始价位构造归一化订单簿
func NewBook(symbol string, bids, asks [][]any, limit int, source domain.BookSource, now time.Time) *domain.OrderBook {
	return &domain.OrderBook{
		Symbol:    symbol,
		Bids:      NormalizeBids(bids, limit),
		Asks:      NormalizeAsks(asks, limit),
		Source:    source,
		UpdatedAt: now,
	}
}

// truncate 按当前深度截断已归一化的订单簿
func truncate(book *domain.OrderBook, limit int) {
	limit = ClampDepth(limit)
	if len(book.Bids) > limit {
		book.Bids = book.Bids[:limit]
	}
	if len(book.Asks) > limit {
		book.Asks = book.Asks[:limit]
	}
}
