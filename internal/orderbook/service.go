package orderbook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/metrics"
)

var log = logrus.WithField("component", "orderbook")

// ErrDisposed 服务已销毁
var ErrDisposed = errors.New("orderbook: service disposed")

// SymbolSource 当前交易对来源（symbol.Store 实现了它）
type SymbolSource interface {
	Get() string
	On(cb func(string)) (unsubscribe func())
}

// Config 同步服务配置
type Config struct {
	Depth             int
	FrameInterval     time.Duration // 合帧间隔，同一帧内只推送最新的一份
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration // 前台空闲阈值
	HiddenIdleTimeout time.Duration // 后台空闲阈值
	ResyncInterval    time.Duration
	HiddenResyncEvery int // 后台时每 N 次 resync tick 才真正拉取一次
	SnapshotTimeout   time.Duration
	Backoff           Backoff
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Depth:             DefaultDepth,
		FrameInterval:     16 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		IdleTimeout:       10 * time.Second,
		HiddenIdleTimeout: 120 * time.Second,
		ResyncInterval:    15 * time.Second,
		HiddenResyncEvery: 3,
		SnapshotTimeout:   8 * time.Second,
		Backoff:           DefaultBackoff(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HiddenIdleTimeout <= 0 {
		c.HiddenIdleTimeout = d.HiddenIdleTimeout
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = d.ResyncInterval
	}
	if c.HiddenResyncEvery <= 0 {
		c.HiddenResyncEvery = d.HiddenResyncEvery
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = d.SnapshotTimeout
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = d.Backoff
	}
	if c.Backoff.Max < c.Backoff.Base {
		c.Backoff.Max = c.Backoff.Base
	}
}

// Service 订单簿同步服务。
// 所有连接状态（当前连接、pending、lastTs、退避计数、定时器）只由 run goroutine 持有；
// 快照结果和推送回调通过 events 通道带着连接代号送回 run goroutine，旧代号的事件直接丢弃。
type Service struct {
	adapter Adapter
	source  SymbolSource
	cfg     Config

	depth   atomic.Int32
	visible atomic.Bool
	state   atomic.Int32

	handlers handlerList

	symbol atomic.Value  // string
	wakeC  chan struct{} // 交易对或深度变化通知，容量 1

	mu       sync.Mutex // 保护启停
	running  bool
	disposed bool
	stopC    chan struct{}
	doneC    chan struct{}
	unsubSrc func()
}

// NewService 创建同步服务并订阅交易对变化
func NewService(adapter Adapter, source SymbolSource, cfg Config) *Service {
	cfg.applyDefaults()
	s := &Service{
		adapter: adapter,
		source:  source,
		cfg:     cfg,
		wakeC:   make(chan struct{}, 1),
	}
	s.symbol.Store("")
	s.depth.Store(int32(ClampDepth(cfg.Depth)))
	s.visible.Store(true)
	s.state.Store(int32(StateIdle))
	if source != nil {
		s.symbol.Store(strings.ToUpper(source.Get()))
		s.unsubSrc = source.On(func(sym string) { s.SwitchSymbol(sym) })
	}
	return s
}

// Subscribe 订阅订单簿更新，处理器在服务 goroutine 上串行执行，不要在处理器里调用 Stop/Dispose
func (s *Service) Subscribe(h Handler) (unsubscribe func()) {
	return s.handlers.add(h)
}

// State 当前状态
func (s *Service) State() State { return State(s.state.Load()) }

// Depth 当前深度
func (s *Service) Depth() int { return int(s.depth.Load()) }

// Symbol 当前交易对
func (s *Service) Symbol() string {
	return s.symbol.Load().(string)
}

// SetDepth 设置深度（限制在 [5,100]），下一次归一化生效。
// 只有适配器实现了 LevelAdapter 且新深度落在另一个推送档位时才重连
func (s *Service) SetDepth(n int) int {
	n = ClampDepth(n)
	if int(s.depth.Swap(int32(n))) != n {
		s.wake()
	}
	return n
}

func (s *Service) wake() {
	select {
	case s.wakeC <- struct{}{}:
	default:
	}
}

// streamLevels 深度对应的推送档位，适配器不分档时返回 0
func (s *Service) streamLevels(depth int) int {
	if la, ok := s.adapter.(LevelAdapter); ok {
		return la.StreamLevels(depth)
	}
	return 0
}

// SetVisible 前后台切换：后台时放宽空闲阈值并降低 resync 频率
func (s *Service) SetVisible(v bool) {
	s.visible.Store(v)
}

func (s *Service) setState(st State) {
	// Disposed 是终态
	for {
		cur := s.state.Load()
		if State(cur) == StateDisposed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Start 以当前交易对开始同步；已经在运行时不做任何事
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.running {
		return nil
	}
	sym := s.Symbol()
	if sym == "" {
		return errors.New("orderbook: empty symbol")
	}
	s.running = true
	s.stopC = make(chan struct{})
	s.doneC = make(chan struct{})
	go s.run(sym, s.stopC, s.doneC)
	return nil
}

// SwitchSymbol 切换交易对：取消进行中的快照请求、关闭当前流，然后为新交易对重新连接。
// 未运行时只记录交易对，下次 Start 生效
func (s *Service) SwitchSymbol(sym string) {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" || s.State() == StateDisposed {
		return
	}
	if s.symbol.Swap(sym).(string) == sym {
		return
	}
	s.wake()
}

// Stop 清理定时器和连接，回到 Idle，之后可以再次 Start
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	close(s.stopC)
	<-s.doneC
	s.running = false
	s.setState(StateIdle)
}

// Dispose Stop 并取消交易对订阅，终态
func (s *Service) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.stopLocked()
	s.disposed = true
	if s.unsubSrc != nil {
		s.unsubSrc()
		s.unsubSrc = nil
	}
	s.state.Store(int32(StateDisposed))
	log.Infof("订单簿同步服务已销毁")
}

type eventKind int

const (
	evSnapshot eventKind = iota
	evResync
	evOpened
	evOpenFailed
	evMessage
	evError
	evClosed
)

type event struct {
	gen    uint64
	kind   eventKind
	book   *domain.OrderBook
	handle StreamHandle
	err    error
}

// conn run goroutine 持有的连接状态
type conn struct {
	gen        uint64
	symbol     string
	cancel     context.CancelFunc
	ctx        context.Context
	stream     StreamHandle
	levels     int
	pending    *domain.OrderBook
	pendingSrc domain.BookSource
	lastTs     time.Time
	gotMessage bool
	resyncing  bool
}

func (s *Service) run(symbol string, stopC <-chan struct{}, doneC chan<- struct{}) {
	defer close(doneC)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	events := make(chan event, 256)
	frame := time.NewTicker(s.cfg.FrameInterval)
	defer frame.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	resync := time.NewTicker(s.cfg.ResyncInterval)
	defer resync.Stop()

	var (
		c          conn
		attempt    int
		resyncTick int
		reconnect  *time.Timer
		reconnectC <-chan time.Time
	)

	stopReconnect := func() {
		if reconnect != nil {
			reconnect.Stop()
			reconnect = nil
			reconnectC = nil
		}
	}

	teardown := func() {
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		if c.stream != nil {
			if err := c.stream.Close(); err != nil {
				log.Debugf("关闭订单簿流失败: %v", err)
			}
			c.stream = nil
		}
		c.pending = nil
		c.resyncing = false
	}

	connect := func(sym string) {
		stopReconnect()
		teardown()
		ctx, cancel := context.WithCancel(rootCtx)
		c = conn{
			gen:    c.gen + 1,
			symbol: sym,
			ctx:    ctx,
			cancel: cancel,
			levels: s.streamLevels(s.Depth()),
			lastTs: time.Now(),
		}
		s.setState(StateConnecting)
		log.WithFields(logrus.Fields{"symbol": sym, "gen": c.gen, "adapter": s.adapter.Name()}).Infof("连接订单簿")
		go s.connectLoop(ctx, c.gen, sym, events)
	}

	scheduleReconnect := func(reason string) {
		if reconnect != nil {
			return
		}
		teardown()
		delay := s.cfg.Backoff.Delay(attempt)
		attempt++
		metrics.Reconnects.Add(1)
		s.setState(StateReconnecting)
		log.WithFields(logrus.Fields{"symbol": c.symbol, "attempt": attempt, "delay": delay}).Warnf("订单簿重连: %s", reason)
		reconnect = time.NewTimer(delay)
		reconnectC = reconnect.C
	}

	emit := func(book *domain.OrderBook, src domain.BookSource) {
		if book == nil {
			return
		}
		truncate(book, s.Depth())
		book.Source = src
		if book.Symbol == "" {
			book.Symbol = c.symbol
		}
		if book.UpdatedAt.IsZero() {
			book.UpdatedAt = time.Now()
		}
		price, _ := book.BestPrice()
		s.handlers.emit(Update{Symbol: c.symbol, Book: book, BestPrice: price, Source: src})
		metrics.BookEmits.Add(1)
	}

	connect(symbol)

	for {
		select {
		case <-stopC:
			stopReconnect()
			teardown()
			log.Infof("订单簿同步已停止: %s", c.symbol)
			return

		case <-s.wakeC:
			if sym := s.Symbol(); sym != c.symbol {
				log.Infof("切换交易对: %s -> %s", c.symbol, sym)
				attempt = 0
				resyncTick = 0
				connect(sym)
				continue
			}
			// 等待重连时不处理，下次 connect 会按新深度订阅
			if c.cancel == nil {
				continue
			}
			if lv := s.streamLevels(s.Depth()); lv != c.levels {
				log.Infof("深度跨档 %d -> %d，重新订阅推送流: %s", c.levels, lv, c.symbol)
				attempt = 0
				connect(c.symbol)
			}

		case <-reconnectC:
			reconnect = nil
			reconnectC = nil
			connect(s.Symbol())

		case ev := <-events:
			if ev.gen != c.gen || c.cancel == nil {
				// 旧连接的事件
				if ev.kind == evOpened && ev.handle != nil {
					_ = ev.handle.Close()
				}
				continue
			}
			switch ev.kind {
			case evSnapshot:
				if ev.err != nil {
					metrics.SnapshotErrors.Add(1)
					log.Warnf("订单簿快照失败 %s: %v", c.symbol, ev.err)
					continue
				}
				metrics.Snapshots.Add(1)
				c.pending, c.pendingSrc = ev.book, domain.BookSourceSnapshot
			case evResync:
				c.resyncing = false
				if ev.err != nil {
					metrics.SnapshotErrors.Add(1)
					log.Debugf("订单簿 resync 失败 %s: %v", c.symbol, ev.err)
					continue
				}
				metrics.Resyncs.Add(1)
				c.pending, c.pendingSrc = ev.book, domain.BookSourceResync
			case evOpened:
				c.stream = ev.handle
				s.setState(StateStreaming)
			case evOpenFailed:
				scheduleReconnect("打开推送流失败: " + errString(ev.err))
			case evMessage:
				metrics.StreamMessages.Add(1)
				c.pending, c.pendingSrc = ev.book, domain.BookSourceStream
				c.lastTs = time.Now()
				if !c.gotMessage {
					c.gotMessage = true
					attempt = 0
				}
			case evError:
				scheduleReconnect("推送流错误: " + errString(ev.err))
			case evClosed:
				scheduleReconnect("推送流已关闭")
			}

		case <-frame.C:
			// 快照、resync 和推送共用一个槽位，每帧最多推送一次，同帧内后到的覆盖先到的
			if c.pending != nil {
				book := c.pending
				c.pending = nil
				emit(book, c.pendingSrc)
			}

		case <-heartbeat.C:
			if c.cancel == nil {
				continue
			}
			threshold := s.cfg.IdleTimeout
			if !s.visible.Load() {
				threshold = s.cfg.HiddenIdleTimeout
			}
			if idle := time.Since(c.lastTs); idle > threshold {
				scheduleReconnect("心跳超时 " + idle.Truncate(time.Millisecond).String())
			}

		case <-resync.C:
			resyncTick++
			if !shouldResync(resyncTick, s.visible.Load(), s.cfg.HiddenResyncEvery) {
				continue
			}
			if c.cancel == nil || c.stream == nil || c.resyncing {
				continue
			}
			c.resyncing = true
			go s.fetchInto(c.ctx, c.gen, c.symbol, evResync, events)
		}
	}
}

// shouldResync 前台每个 tick 都校正，后台只在 tick%every==0 时校正
func shouldResync(tick int, visible bool, every int) bool {
	if visible || every <= 1 {
		return true
	}
	return tick%every == 0
}

// connectLoop 单次连接流程：先拉快照，无论成功与否再打开推送流
func (s *Service) connectLoop(ctx context.Context, gen uint64, symbol string, events chan<- event) {
	book, err := s.fetch(ctx, symbol)
	if ctx.Err() != nil {
		return
	}
	if !send(ctx, events, event{gen: gen, kind: evSnapshot, book: book, err: err}) {
		return
	}

	handle, err := s.adapter.OpenStream(ctx, symbol, StreamOptions{
		OnMessage: func(b *domain.OrderBook) {
			send(ctx, events, event{gen: gen, kind: evMessage, book: b})
		},
		OnError: func(err error) {
			send(ctx, events, event{gen: gen, kind: evError, err: err})
		},
		OnClose: func() {
			send(ctx, events, event{gen: gen, kind: evClosed})
		},
		Limit: s.Depth,
	})
	if err != nil {
		send(ctx, events, event{gen: gen, kind: evOpenFailed, err: err})
		return
	}
	if !send(ctx, events, event{gen: gen, kind: evOpened, handle: handle}) {
		_ = handle.Close()
	}
}

func (s *Service) fetchInto(ctx context.Context, gen uint64, symbol string, kind eventKind, events chan<- event) {
	book, err := s.fetch(ctx, symbol)
	if ctx.Err() != nil {
		return
	}
	send(ctx, events, event{gen: gen, kind: kind, book: book, err: err})
}

func (s *Service) fetch(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	defer cancel()
	return s.adapter.FetchSnapshot(fctx, symbol, s.Depth())
}

// send 投递事件；连接已取消时放弃，返回是否投递成功
func send(ctx context.Context, events chan<- event, ev event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
