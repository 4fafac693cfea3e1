package domain

// DefaultHistoryCap 成交记录默认容量
const DefaultHistoryCap = 500

// History 固定容量的成交记录环形缓冲，满了以后淘汰最旧的一条
type History struct {
	buf   []FillRecord
	head  int // 下一次写入位置
	count int
}

// NewHistory 创建环形缓冲，capacity<=0 时使用默认容量
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{buf: make([]FillRecord, capacity)}
}

// Add 追加一条记录
func (h *History) Add(r FillRecord) {
	h.buf[h.head] = r
	h.head = (h.head + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

func (h *History) Len() int { return h.count }
func (h *History) Cap() int { return len(h.buf) }

// Records 返回记录副本，最新的在前
func (h *History) Records() []FillRecord {
	out := make([]FillRecord, 0, h.count)
	for i := 1; i <= h.count; i++ {
		idx := (h.head - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Latest 最新一条记录
func (h *History) Latest() (FillRecord, bool) {
	if h.count == 0 {
		return FillRecord{}, false
	}
	return h.buf[(h.head-1+len(h.buf))%len(h.buf)], true
}
