package orderbook

import (
	"sync"

	"github.com/betbot/perpsim/internal/domain"
)

// Update 推送给订阅者的订单簿更新。Book 在回调之间不会被服务修改，订阅者也不应修改
type Update struct {
	Symbol    string
	Book      *domain.OrderBook
	BestPrice float64 // 没有任何一侧报价时为 0
	Source    domain.BookSource
}

// Handler 订单簿更新回调
type Handler func(Update)

// handlerList 处理器列表
type handlerList struct {
	mu       sync.RWMutex
	nextID   int
	ids      []int
	handlers []Handler
}

// add 添加处理器，返回取消函数
func (h *handlerList) add(fn Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.ids = append(h.ids, id)
	h.handlers = append(h.handlers, fn)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, v := range h.ids {
				if v == id {
					h.ids = append(h.ids[:i], h.ids[i+1:]...)
					h.handlers = append(h.handlers[:i], h.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// snapshot 返回处理器快照，遍历时不持锁
func (h *handlerList) snapshot() []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Handler, len(h.handlers))
	copy(out, h.handlers)
	return out
}

// emit 串行触发所有处理器（确定性优先），单个处理器 panic 不影响其他处理器
func (h *handlerList) emit(u Update) {
	for i, fn := range h.snapshot() {
		func(idx int, fn Handler) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("订单簿处理器 %d panic: %v", idx, r)
				}
			}()
			fn(u)
		}(i, fn)
	}
}

func (h *handlerList) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
