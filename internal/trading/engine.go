package trading

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/metrics"
	"github.com/betbot/perpsim/internal/risk"
)

var log = logrus.WithField("component", "trading")

// Config 账户参数
type Config struct {
	InitialBalance decimal.Decimal
	Leverage       int
	MarginMode     domain.MarginMode
	HistoryCap     int
	MaxLeverage    int
	FundingRate    decimal.Decimal
}

// DefaultConfig 10000 USDT、10 倍全仓
func DefaultConfig() Config {
	return Config{
		InitialBalance: decimal.NewFromInt(10000),
		Leverage:       10,
		MarginMode:     domain.MarginCross,
		HistoryCap:     domain.DefaultHistoryCap,
		MaxLeverage:    125,
	}
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator 替换 ID 生成器
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// Engine 模拟撮合引擎，独占 AccountState。非并发安全，由 session 的 goroutine 独占调用
type Engine struct {
	cfg      Config
	risk     *risk.Engine
	notifier Notifier
	now      func() time.Time
	newID    func() string
	acct     *domain.AccountState
}

// New 创建引擎
func New(cfg Config, riskEngine *risk.Engine, notifier Notifier, opts ...Option) *Engine {
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = DefaultConfig().MaxLeverage
	}
	if cfg.MarginMode == "" {
		cfg.MarginMode = domain.MarginCross
	}
	if riskEngine == nil {
		riskEngine = risk.New(risk.DefaultConfig())
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		cfg:      cfg,
		risk:     riskEngine,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.acct = domain.NewAccountState(cfg.InitialBalance, clampLeverage(cfg.Leverage, cfg.MaxLeverage),
		cfg.MarginMode, cfg.HistoryCap, e.now())
	e.acct.FundingRate = cfg.FundingRate
	return e
}

func clampLeverage(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Account 账户本身（只在引擎所在 goroutine 内使用）
func (e *Engine) Account() *domain.AccountState { return e.acct }

// Snapshot 账户深拷贝
func (e *Engine) Snapshot() domain.AccountSnapshot { return e.acct.Snapshot() }

// addHistory 所有成交记录的唯一入口，环形缓冲保证不超过容量
func (e *Engine) addHistory(r domain.FillRecord) {
	if r.Ts.IsZero() {
		r.Ts = e.now()
	}
	e.acct.History.Add(r)
}

func (e *Engine) notify(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("通知 panic: %v", r)
		}
	}()
	e.notifier.Notify(n)
}

// openCost 开仓所需保证金和手续费
func openCost(price, amount decimal.Decimal, leverage int, feeRate func(decimal.Decimal) decimal.Decimal) (margin, fee decimal.Decimal) {
	notional := price.Mul(amount)
	margin = notional.Div(decimal.NewFromInt(int64(leverage)))
	fee = feeRate(notional)
	return margin, fee
}

// openPosition 扣款并建仓（调用方已检查余额）
func (e *Engine) openPosition(symbol string, side domain.Side, price, amount decimal.Decimal, leverage int,
	mode domain.MarginMode, margin, fee decimal.Decimal, typ domain.OrderType, orderPrice decimal.Decimal) *domain.Position {
	e.acct.BalanceUSDT = e.acct.BalanceUSDT.Sub(margin).Sub(fee)
	p := &domain.Position{
		ID:       e.newID(),
		Symbol:   symbol,
		Side:     side,
		Entry:    price,
		Amount:   amount,
		Leverage: leverage,
		Margin:   margin,
		Mode:     mode,
		OpenedAt: e.now(),
	}
	e.acct.Positions = append(e.acct.Positions, p)

	dir := domain.OpenDirection(side)
	e.addHistory(domain.FillRecord{
		Symbol:     symbol,
		Mode:       mode,
		Leverage:   leverage,
		Direction:  dir,
		Type:       typ,
		AvgPrice:   price,
		OrderPrice: orderPrice,
		Filled:     amount,
		Fee:        fee,
	})
	metrics.Fills.Add(1)
	e.notify(Notification{
		Title:    string(dir),
		Subtitle: fmt.Sprintf("%s %s %dx %s", symbol, typ, leverage, mode),
		Type:     NotifyOpen,
		Price:    price,
		Amount:   amount,
		Mode:     mode,
		Leverage: leverage,
	})
	log.WithFields(logrus.Fields{"symbol": symbol, "side": side, "price": price.String(), "amount": amount.String(),
		"margin": margin.String(), "fee": fee.String()}).Infof("开仓成功: %s", p.ID)
	return p
}

// PlaceMarket 市价开仓，按 taker 费率收费；margin+fee 超过余额时返回 false 且不改变任何状态
func (e *Engine) PlaceMarket(symbol string, side domain.Side, price, amount decimal.Decimal) bool {
	_, ok := e.placeMarket(symbol, side, price, amount)
	return ok
}

// PlaceMarketPosition 同 PlaceMarket，成功时返回新仓位
func (e *Engine) PlaceMarketPosition(symbol string, side domain.Side, price, amount decimal.Decimal) (*domain.Position, bool) {
	return e.placeMarket(symbol, side, price, amount)
}

func (e *Engine) placeMarket(symbol string, side domain.Side, price, amount decimal.Decimal) (*domain.Position, bool) {
	if !price.IsPositive() || !amount.IsPositive() {
		return nil, false
	}
	lev, mode := e.acct.Leverage, e.acct.MarginMode
	margin, fee := openCost(price, amount, lev, e.risk.TakerFee)
	if margin.Add(fee).GreaterThan(e.acct.BalanceUSDT) {
		metrics.Rejections.Add(1)
		log.Debugf("余额不足: 需要 %s，可用 %s", margin.Add(fee), e.acct.BalanceUSDT)
		return nil, false
	}
	return e.openPosition(symbol, side, price, amount, lev, mode, margin, fee, domain.OrderTypeMarket, price), true
}

// PlaceLimit 挂限价单；价格和数量为正即接受，余额在撮合时才检查
func (e *Engine) PlaceLimit(symbol string, side domain.Side, price, amount decimal.Decimal) (*domain.Order, bool) {
	if !price.IsPositive() || !amount.IsPositive() {
		return nil, false
	}
	o := &domain.Order{
		ID:        e.newID(),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Leverage:  e.acct.Leverage,
		Mode:      e.acct.MarginMode,
		Status:    domain.OrderStatusUnfilled,
		CreatedAt: e.now(),
	}
	e.acct.OpenOrders = append(e.acct.OpenOrders, o)
	e.notify(Notification{
		Title:    "Limit " + string(domain.OpenDirection(side)),
		Subtitle: fmt.Sprintf("%s %dx %s", symbol, o.Leverage, o.Mode),
		Type:     NotifyOrder,
		Price:    price,
		Amount:   amount,
		Mode:     o.Mode,
		Leverage: o.Leverage,
	})
	return o, true
}

// MatchOpenOrders 按插入顺序撮合 symbol 的挂单：多单 mark<=price、空单 mark>=price 时以挂单价成交（maker 费率）；
// 余额不足的挂单保留，其他交易对的挂单不动。返回成交数量
func (e *Engine) MatchOpenOrders(symbol string, mark decimal.Decimal) int {
	if !mark.IsPositive() || len(e.acct.OpenOrders) == 0 {
		return 0
	}
	filled := 0
	remaining := e.acct.OpenOrders[:0:0]
	for _, o := range e.acct.OpenOrders {
		if o.Symbol != symbol || !o.Crosses(mark) {
			remaining = append(remaining, o)
			continue
		}
		margin, fee := openCost(o.Price, o.Amount, o.Leverage, e.risk.MakerFee)
		if margin.Add(fee).GreaterThan(e.acct.BalanceUSDT) {
			remaining = append(remaining, o)
			continue
		}
		e.openPosition(o.Symbol, o.Side, o.Price, o.Amount, o.Leverage, o.Mode, margin, fee, domain.OrderTypeLimit, o.Price)
		filled++
	}
	e.acct.OpenOrders = remaining
	return filled
}

// ClosePositionByID 按标记价平仓：退回 max(0, margin+pnl-fee)。mark<=0 时使用该交易对最近的标记价
func (e *Engine) ClosePositionByID(id string, mark decimal.Decimal) bool {
	p, ok := e.acct.FindPosition(id)
	if !ok {
		return false
	}
	if !mark.IsPositive() {
		mark = e.acct.MarkFor(p.Symbol)
	}
	if !mark.IsPositive() {
		mark = p.Entry
	}

	pnl := e.risk.CalcPnL(p, mark)
	fee := e.risk.TakerFee(p.Notional(mark))
	credit := p.Margin.Add(pnl).Sub(fee)
	if credit.IsNegative() {
		credit = decimal.Zero
	}
	e.acct.BalanceUSDT = e.acct.BalanceUSDT.Add(credit)
	e.acct.RemovePosition(id)

	dir := domain.CloseDirection(p.Side)
	e.addHistory(domain.FillRecord{
		Symbol:     p.Symbol,
		Mode:       p.Mode,
		Leverage:   p.Leverage,
		Direction:  dir,
		Type:       domain.OrderTypeMarket,
		AvgPrice:   mark,
		OrderPrice: mark,
		Filled:     p.Amount,
		Fee:        fee,
		PnL:        &pnl,
	})
	metrics.Closes.Add(1)
	e.notify(Notification{
		Title:    string(dir),
		Subtitle: fmt.Sprintf("%s PnL %s", p.Symbol, pnl.StringFixed(2)),
		Type:     NotifyClose,
		Price:    mark,
		Amount:   p.Amount,
		Mode:     p.Mode,
		Leverage: p.Leverage,
	})
	log.WithFields(logrus.Fields{"symbol": p.Symbol, "pnl": pnl.String(), "fee": fee.String()}).Infof("平仓: %s", id)
	return true
}

// CloseAll 平掉所有仓位：symbol 的仓位用 mark，其他交易对用各自最近的标记价。返回平仓数量
func (e *Engine) CloseAll(symbol string, mark decimal.Decimal) int {
	ids := make([]string, 0, len(e.acct.Positions))
	for _, p := range e.acct.Positions {
		ids = append(ids, p.ID)
	}
	closed := 0
	for _, id := range ids {
		p, ok := e.acct.FindPosition(id)
		if !ok {
			continue
		}
		m := decimal.Zero
		if p.Symbol == symbol {
			m = mark
		}
		if e.ClosePositionByID(id, m) {
			closed++
		}
	}
	return closed
}

// TickResult 一次行情 tick 的处理结果
type TickResult struct {
	Filled       int
	Funding      risk.FundingResult
	Liquidations []risk.Liquidation
}

// ProcessTick 记录标记价 → 撮合挂单 → 资金费 → 强平扫描，强平会写成交记录并通知
func (e *Engine) ProcessTick(symbol string, mark decimal.Decimal) TickResult {
	var res TickResult
	if !mark.IsPositive() {
		return res
	}
	e.acct.SetMark(symbol, mark)

	res.Filled = e.MatchOpenOrders(symbol, mark)

	res.Funding = e.risk.ApplyFundingIfDue(e.acct, e.now())
	if res.Funding.Applied && len(res.Funding.Settlements) > 0 {
		metrics.FundingSettlements.Add(int64(len(res.Funding.Settlements)))
		net := res.Funding.Net()
		log.Infof("资金费结算: rate=%s 仓位=%d 净额=%s", res.Funding.Rate, len(res.Funding.Settlements), net)
		e.notify(Notification{
			Title:    "Funding",
			Subtitle: fmt.Sprintf("rate %s net %s", res.Funding.Rate.String(), net.StringFixed(4)),
			Type:     NotifyFunding,
			Price:    mark,
			Amount:   net,
			Mode:     e.acct.MarginMode,
			Leverage: e.acct.Leverage,
		})
	}

	res.Liquidations = e.risk.CheckLiquidations(e.acct)
	for _, l := range res.Liquidations {
		e.recordLiquidation(l)
	}
	return res
}

func (e *Engine) recordLiquidation(l risk.Liquidation) {
	p := l.Position
	pnl := l.PnL
	dir := domain.CloseDirection(p.Side)
	e.addHistory(domain.FillRecord{
		Symbol:      p.Symbol,
		Mode:        p.Mode,
		Leverage:    p.Leverage,
		Direction:   dir,
		Type:        domain.OrderTypeMarket,
		AvgPrice:    l.Mark,
		OrderPrice:  l.Mark,
		Filled:      p.Amount,
		Fee:         l.Fee,
		PnL:         &pnl,
		Liquidation: true,
	})
	metrics.Liquidations.Add(1)
	e.notify(Notification{
		Title:    "Liquidated " + string(dir),
		Subtitle: fmt.Sprintf("%s PnL %s", p.Symbol, pnl.StringFixed(2)),
		Type:     NotifyLiquidation,
		Price:    l.Mark,
		Amount:   p.Amount,
		Mode:     p.Mode,
		Leverage: p.Leverage,
	})
	log.WithFields(logrus.Fields{"symbol": p.Symbol, "mark": l.Mark.String(), "pnl": pnl.String(),
		"credit": l.Credit.String()}).Warnf("强平: %s", p.ID)
}

// SetLeverage 设置新仓位的杠杆，限制在 [1, MaxLeverage]，返回实际值
func (e *Engine) SetLeverage(n int) int {
	e.acct.Leverage = clampLeverage(n, e.cfg.MaxLeverage)
	return e.acct.Leverage
}

// SetMarginMode 设置新仓位的保证金模式
func (e *Engine) SetMarginMode(m domain.MarginMode) {
	e.acct.MarginMode = m
}

// SetFundingRate 设置资金费率
func (e *Engine) SetFundingRate(r decimal.Decimal) {
	e.acct.FundingRate = r
}

// PositionView 带估值的仓位
type PositionView struct {
	domain.Position
	Mark           decimal.Decimal `json:"mark"`
	PnL            decimal.Decimal `json:"pnl"`
	LiqPrice       decimal.Decimal `json:"liq_price"`
	LiqApproximate bool            `json:"liq_approximate"`
	MMR            decimal.Decimal `json:"mmr"`
}

// LiqPrice 仓位强平价；第二个返回值表示是否为近似值，第三个表示仓位是否存在
func (e *Engine) LiqPrice(id string) (decimal.Decimal, bool, bool) {
	p, ok := e.acct.FindPosition(id)
	if !ok {
		return decimal.Zero, false, false
	}
	price, approx := e.risk.LiqPrice(p, e.acct)
	return price, approx, true
}

// Positions 所有仓位的估值
func (e *Engine) Positions() []PositionView {
	out := make([]PositionView, 0, len(e.acct.Positions))
	for _, p := range e.acct.Positions {
		mark := e.acct.MarkFor(p.Symbol)
		if !mark.IsPositive() {
			mark = p.Entry
		}
		liq, approx := e.risk.LiqPrice(p, e.acct)
		out = append(out, PositionView{
			Position:       *p,
			Mark:           mark,
			PnL:            e.risk.CalcPnL(p, mark),
			LiqPrice:       liq,
			LiqApproximate: approx,
			MMR:            e.risk.MaintenanceRate(p, mark),
		})
	}
	return out
}
