package orderbook

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/betbot/perpsim/internal/domain"
)

type fakeStream struct {
	symbol string
	opts   StreamOptions
	closed atomic.Bool
}

func (f *fakeStream) Close() error {
	if f.closed.CompareAndSwap(false, true) && f.opts.OnClose != nil {
		f.opts.OnClose()
	}
	return nil
}

// push 模拟交易所推送
func (f *fakeStream) push(bid, ask float64) {
	if f.closed.Load() {
		return
	}
	limit := f.opts.CurrentLimit()
	f.opts.OnMessage(&domain.OrderBook{
		Symbol: f.symbol,
		Bids:   NormalizeLevels([]domain.PriceLevel{{Price: bid, Size: 1}}, true, limit),
		Asks:   NormalizeLevels([]domain.PriceLevel{{Price: ask, Size: 1}}, false, limit),
	})
}

func (f *fakeStream) fail(err error) {
	if !f.closed.Load() {
		f.opts.OnError(err)
	}
}

type fakeAdapter struct {
	mu          sync.Mutex
	books       map[string]*domain.OrderBook
	block       map[string]bool // 快照请求阻塞直到 ctx 取消
	snapshotErr error
	openErr     error
	fetches     []string
	fetchLimits []int
	cancelled   []string
	streams     []*fakeStream
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		books: make(map[string]*domain.OrderBook),
		block: make(map[string]bool),
	}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) FetchSnapshot(ctx context.Context, symbol string, limit int) (*domain.OrderBook, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, symbol)
	f.fetchLimits = append(f.fetchLimits, limit)
	block := f.block[symbol]
	err := f.snapshotErr
	book := f.books[symbol]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		f.mu.Lock()
		f.cancelled = append(f.cancelled, symbol)
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, errors.New("no book")
	}
	return book.Clone(), nil
}

func (f *fakeAdapter) OpenStream(ctx context.Context, symbol string, opts StreamOptions) (StreamHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	st := &fakeStream{symbol: symbol, opts: opts}
	f.streams = append(f.streams, st)
	return st, nil
}

func (f *fakeAdapter) setBook(symbol string, bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[symbol] = &domain.OrderBook{
		Symbol: symbol,
		Bids:   []domain.PriceLevel{{Price: bid, Size: 1}},
		Asks:   []domain.PriceLevel{{Price: ask, Size: 1}},
	}
}

func (f *fakeAdapter) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeAdapter) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 {
		i = len(f.streams) + i
	}
	if i < 0 || i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

func (f *fakeAdapter) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

// recorder 收集推送
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) handle(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) bySource(src domain.BookSource) []Update {
	var out []Update
	for _, u := range r.all() {
		if u.Source == src {
			out = append(out, u)
		}
	}
	return out
}

// staticSymbols 不会变化的交易对来源
type staticSymbols struct {
	mu  sync.Mutex
	sym string
	cbs []func(string)
}

func (s *staticSymbols) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sym
}

func (s *staticSymbols) On(cb func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cbs = append(s.cbs, cb)
	idx := len(s.cbs) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cbs[idx] = nil
	}
}

func (s *staticSymbols) set(sym string) {
	s.mu.Lock()
	s.sym = sym
	cbs := append(([]func(string))(nil), s.cbs...)
	s.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(sym)
		}
	}
}

// leveledAdapter 推送流按 5/10/20 分档订阅
type leveledAdapter struct {
	*fakeAdapter
}

func (l *leveledAdapter) StreamLevels(limit int) int {
	switch {
	case limit <= 5:
		return 5
	case limit <= 10:
		return 10
	default:
		return 20
	}
}
