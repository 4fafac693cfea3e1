package symbol

import (
	"strings"
	"sync"
)

// Store 当前交易对的持有者，Set 变化时同步通知订阅者
type Store struct {
	mu       sync.RWMutex
	symbol   string
	nextID   int
	handlers map[int]func(string)
	order    []int
}

// NewStore 创建交易对存储
func NewStore(initial string) *Store {
	return &Store{
		symbol:   normalize(initial),
		handlers: make(map[int]func(string)),
	}
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Get 当前交易对
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

// Set 切换交易对；与当前值相同或为空时不通知，返回是否发生变化
func (s *Store) Set(symbol string) bool {
	symbol = normalize(symbol)
	if symbol == "" {
		return false
	}

	s.mu.Lock()
	if symbol == s.symbol {
		s.mu.Unlock()
		return false
	}
	s.symbol = symbol
	handlers := make([]func(string), 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	// 回调在锁外执行，允许回调里再调用 Get
	for _, h := range handlers {
		h(symbol)
	}
	return true
}

// On 订阅交易对变化，返回取消订阅函数（可重复调用）
func (s *Store) On(cb func(string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = cb
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}
