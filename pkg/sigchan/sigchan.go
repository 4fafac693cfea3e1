package sigchan

// Chan 合并型通知：未被消费前的多次 Emit 只留下一个信号，接收方再去读最新状态
type Chan struct {
	c chan struct{}
}

// New 创建容量为 1 的通知 channel
func New() *Chan {
	return &Chan{c: make(chan struct{}, 1)}
}

// Emit 非阻塞发送，返回是否新挂起了一个信号（false 表示已有未消费的信号）
func (c *Chan) Emit() bool {
	select {
	case c.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// C 用于 select
func (c *Chan) C() <-chan struct{} {
	return c.c
}
