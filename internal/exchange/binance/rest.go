package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/orderbook"
	sdkhttp "github.com/betbot/perpsim/pkg/sdk/http"
)

// depthSnapshot GET /api/v3/depth 响应
type depthSnapshot struct {
	LastUpdateID int64   `json:"lastUpdateId"`
	Bids         [][]any `json:"bids"`
	Asks         [][]any `json:"asks"`
}

// FetchSnapshot 拉取订单簿快照
func (a *Adapter) FetchSnapshot(ctx context.Context, symbol string, limit int) (*domain.OrderBook, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待 REST 限速: %w", err)
	}

	var snap depthSnapshot
	err := a.rest.Get(ctx, "/api/v3/depth", &sdkhttp.RequestOptions{
		Params: map[string]any{
			"symbol": symbol,
			"limit":  SnapshotLimit(limit),
		},
	}, &snap)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 订单簿快照失败: %w", symbol, err)
	}

	return orderbook.NewBook(symbol, snap.Bids, snap.Asks, limit, domain.BookSourceSnapshot, time.Now()), nil
}
