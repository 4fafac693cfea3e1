// Package session 把订单簿推送和外部指令串到同一个 goroutine 上驱动模拟交易引擎。
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/orderbook"
	"github.com/betbot/perpsim/internal/trading"
	"github.com/betbot/perpsim/pkg/sigchan"
)

var log = logrus.WithField("component", "session")

var (
	// ErrClosed Run 已退出
	ErrClosed = errors.New("session: closed")
	// ErrNoPrice 当前交易对还没有可用价格
	ErrNoPrice = errors.New("session: no price for current symbol")
	// ErrRejected 引擎拒绝（余额不足或参数非法）
	ErrRejected = errors.New("session: order rejected")
)

// SymbolSource 当前交易对
type SymbolSource interface {
	Get() string
}

// AccountView 账户快照加仓位估值
type AccountView struct {
	Account   domain.AccountSnapshot `json:"account"`
	Positions []trading.PositionView `json:"positions"`
}

// Session 独占 trading.Engine：行情 tick 和外部指令都在 Run 的 goroutine 里执行
type Session struct {
	engine  *trading.Engine
	symbols SymbolSource

	cmds  chan func(*trading.Engine)
	bookC *sigchan.Chan
	done  chan struct{}

	mu     sync.RWMutex
	latest orderbook.Update
	hasBk  bool

	onTick func(trading.TickResult)

	runOnce  sync.Once
	doneOnce sync.Once
}

// Option 会话选项
type Option func(*Session)

// WithTickHook 每次 ProcessTick 之后回调（在会话 goroutine 中执行）
func WithTickHook(fn func(trading.TickResult)) Option {
	return func(s *Session) { s.onTick = fn }
}

// New 创建会话，需要调用 Run 才开始处理
func New(engine *trading.Engine, symbols SymbolSource, opts ...Option) *Session {
	s := &Session{
		engine:  engine,
		symbols: symbols,
		cmds:    make(chan func(*trading.Engine)),
		bookC:   sigchan.New(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnBook 订单簿订阅回调：只保留最新一帧，不阻塞同步服务
func (s *Session) OnBook(u orderbook.Update) {
	s.mu.Lock()
	s.latest = u
	s.hasBk = true
	s.mu.Unlock()
	s.bookC.Emit()
}

// Book 最近一帧订单簿
func (s *Session) Book() (orderbook.Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasBk
}

// currentPrice 当前交易对的最优价格
func (s *Session) currentPrice() (string, decimal.Decimal, bool) {
	sym := s.symbols.Get()
	u, ok := s.Book()
	if !ok || u.Symbol != sym || u.BestPrice <= 0 {
		return sym, decimal.Zero, false
	}
	return sym, decimal.NewFromFloat(u.BestPrice), true
}

// Run 处理行情和指令直到 ctx 取消，只能调用一次
func (s *Session) Run(ctx context.Context) error {
	err := ErrClosed
	s.runOnce.Do(func() {
		defer s.doneOnce.Do(func() { close(s.done) })
		log.Info("会话已启动")
		for {
			select {
			case <-ctx.Done():
				log.Info("会话已停止")
				err = ctx.Err()
				return
			case fn := <-s.cmds:
				fn(s.engine)
			case <-s.bookC.C():
				s.tick()
			}
		}
	})
	return err
}

func (s *Session) tick() {
	u, ok := s.Book()
	if !ok || u.BestPrice <= 0 || u.Symbol == "" {
		return
	}
	res := s.engine.ProcessTick(u.Symbol, decimal.NewFromFloat(u.BestPrice))
	if s.onTick != nil {
		s.onTick(res)
	}
}

// do 把闭包交给会话 goroutine 执行并等待完成
func (s *Session) do(ctx context.Context, fn func(*trading.Engine)) error {
	reply := make(chan struct{}, 1)
	wrapped := func(e *trading.Engine) {
		defer func() { reply <- struct{}{} }()
		fn(e)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlaceMarket 以当前最优价格市价开仓
func (s *Session) PlaceMarket(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.Position, error) {
	sym, price, ok := s.currentPrice()
	if !ok {
		return nil, ErrNoPrice
	}
	var (
		pos    *domain.Position
		placed bool
	)
	if err := s.do(ctx, func(e *trading.Engine) {
		var p *domain.Position
		p, placed = e.PlaceMarketPosition(sym, side, price, amount)
		if placed {
			pos = p.Clone()
		}
	}); err != nil {
		return nil, err
	}
	if !placed {
		return nil, ErrRejected
	}
	return pos, nil
}

// PlaceLimit 在当前交易对挂限价单
func (s *Session) PlaceLimit(ctx context.Context, side domain.Side, price, amount decimal.Decimal) (*domain.Order, error) {
	sym := s.symbols.Get()
	var (
		order  domain.Order
		placed bool
	)
	if err := s.do(ctx, func(e *trading.Engine) {
		var o *domain.Order
		o, placed = e.PlaceLimit(sym, side, price, amount)
		if placed {
			order = *o
		}
	}); err != nil {
		return nil, err
	}
	if !placed {
		return nil, ErrRejected
	}
	return &order, nil
}

// ClosePosition 按该交易对最近的标记价平仓，返回仓位是否存在
func (s *Session) ClosePosition(ctx context.Context, id string) (bool, error) {
	var closed bool
	err := s.do(ctx, func(e *trading.Engine) {
		closed = e.ClosePositionByID(id, decimal.Zero)
	})
	return closed, err
}

// CloseAll 平掉全部仓位
func (s *Session) CloseAll(ctx context.Context) (int, error) {
	sym, price, _ := s.currentPrice()
	var n int
	err := s.do(ctx, func(e *trading.Engine) {
		n = e.CloseAll(sym, price)
	})
	return n, err
}

// SetLeverage 返回实际生效的杠杆
func (s *Session) SetLeverage(ctx context.Context, lev int) (int, error) {
	var applied int
	err := s.do(ctx, func(e *trading.Engine) {
		applied = e.SetLeverage(lev)
	})
	return applied, err
}

func (s *Session) SetMarginMode(ctx context.Context, mode domain.MarginMode) error {
	return s.do(ctx, func(e *trading.Engine) { e.SetMarginMode(mode) })
}

func (s *Session) SetFundingRate(ctx context.Context, rate decimal.Decimal) error {
	return s.do(ctx, func(e *trading.Engine) { e.SetFundingRate(rate) })
}

// Account 账户快照
func (s *Session) Account(ctx context.Context) (AccountView, error) {
	var v AccountView
	err := s.do(ctx, func(e *trading.Engine) {
		v.Account = e.Snapshot()
		v.Positions = e.Positions()
	})
	return v, err
}
