package trading

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/metrics"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotifyOpen        NotificationType = "open"
	NotifyClose       NotificationType = "close"
	NotifyLiquidation NotificationType = "liquidation"
	NotifyOrder       NotificationType = "order"
	NotifyFunding     NotificationType = "funding"
)

// Notification 成交/平仓/强平等事件
type Notification struct {
	Title    string            `json:"title"`
	Subtitle string            `json:"subtitle"`
	Type     NotificationType  `json:"type"`
	Price    decimal.Decimal   `json:"price"`
	Amount   decimal.Decimal   `json:"amount"`
	Mode     domain.MarginMode `json:"mode"`
	Leverage int               `json:"leverage"`
}

// Notifier 通知接收方。引擎在状态变化后同步调用，实现不能阻塞
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc 函数适配器
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NopNotifier 丢弃所有通知
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// LogNotifier 把通知写到日志
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logrus.WithField("component", "notify")}
}

func (l *LogNotifier) Notify(n Notification) {
	entry := l.log.WithFields(logrus.Fields{
		"type":     n.Type,
		"price":    n.Price.String(),
		"amount":   n.Amount.String(),
		"mode":     n.Mode,
		"leverage": n.Leverage,
	})
	if n.Type == NotifyLiquidation {
		entry.Warnf("%s %s", n.Title, n.Subtitle)
		return
	}
	entry.Infof("%s %s", n.Title, n.Subtitle)
}

// AsyncNotifier 带缓冲的异步通知，缓冲满时丢弃，保证引擎永不阻塞
type AsyncNotifier struct {
	next Notifier
	ch   chan Notification
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncNotifier 启动投递 goroutine
func NewAsyncNotifier(next Notifier, buffer int) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncNotifier{
		next: next,
		ch:   make(chan Notification, buffer),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncNotifier) loop() {
	defer close(a.done)
	for n := range a.ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("component", "notify").Errorf("通知处理 panic: %v", r)
				}
			}()
			a.next.Notify(n)
		}()
	}
}

func (a *AsyncNotifier) Notify(n Notification) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- n:
	default:
		metrics.NotifyDropped.Add(1)
	}
}

// Close 停止接收并等待缓冲中的通知投递完
func (a *AsyncNotifier) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}
