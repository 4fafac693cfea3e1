package metrics

import "expvar"

// 订单簿同步
var (
	BookEmits      = expvar.NewInt("book_emits")
	StreamMessages = expvar.NewInt("book_stream_messages")
	StreamDropped  = expvar.NewInt("book_stream_dropped")
	Snapshots      = expvar.NewInt("book_snapshots")
	SnapshotErrors = expvar.NewInt("book_snapshot_errors")
	Reconnects     = expvar.NewInt("book_reconnects")
	Resyncs        = expvar.NewInt("book_resyncs")
)

// 模拟交易
var (
	Fills              = expvar.NewInt("trade_fills")
	Rejections         = expvar.NewInt("trade_rejections")
	Closes             = expvar.NewInt("trade_closes")
	Liquidations       = expvar.NewInt("trade_liquidations")
	FundingSettlements = expvar.NewInt("trade_funding_settlements")
	NotifyDropped      = expvar.NewInt("notify_dropped")
)
