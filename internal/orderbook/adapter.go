package orderbook

import (
	"context"

	"github.com/betbot/perpsim/internal/domain"
)

// Adapter 交易所订单簿适配器：把某个交易所的 REST 快照和推送流翻译成归一化的订单簿。
// 重连、退避、合帧等生命周期策略都在 Service 里，适配器只负责协议转换。
type Adapter interface {
	// Name 交易所名称（日志用）
	Name() string

	// FetchSnapshot 一次性拉取订单簿快照，ctx 取消时必须尽快返回
	FetchSnapshot(ctx context.Context, symbol string, limit int) (*domain.OrderBook, error)

	// OpenStream 建立推送流。返回后 OnMessage 可能在任意 goroutine 上被调用；
	// 格式错误的单条消息直接丢弃，不能中断连接
	OpenStream(ctx context.Context, symbol string, opts StreamOptions) (StreamHandle, error)
}

// LevelAdapter 可选接口：推送流按固定档位订阅（例如 depth5/10/20）。
// 深度换到另一档时 Service 重连推送流，同一档内只在归一化时截断
type LevelAdapter interface {
	StreamLevels(limit int) int
}

// StreamOptions 推送流回调
type StreamOptions struct {
	OnMessage func(*domain.OrderBook)
	OnError   func(error)
	OnClose   func()
	// Limit 每次归一化时读取，运行时修改深度不需要重连
	Limit func() int
}

// StreamHandle 推送流句柄
type StreamHandle interface {
	Close() error
}

// CurrentLimit 读取 opts.Limit，未设置时使用默认深度
func (o StreamOptions) CurrentLimit() int {
	if o.Limit == nil {
		return DefaultDepth
	}
	return ClampDepth(o.Limit())
}
