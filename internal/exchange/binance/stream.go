package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/metrics"
	"github.com/betbot/perpsim/internal/orderbook"
)

// depthMessage 现货部分深度用 bids/asks，合约用 b/a；组合流外面再包一层 data
type depthMessage struct {
	Bids [][]any       `json:"bids"`
	Asks [][]any       `json:"asks"`
	B    [][]any       `json:"b"`
	A    [][]any       `json:"a"`
	Data *depthMessage `json:"data"`
}

var errNoDepth = errors.New("消息中没有深度数据")

// parseDepthMessage 解析一条推送；格式不对返回错误，由调用方丢弃
func parseDepthMessage(symbol string, payload []byte, limit int) (*domain.OrderBook, error) {
	var msg depthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	if msg.Data != nil {
		msg = *msg.Data
	}
	bids, asks := msg.Bids, msg.Asks
	if bids == nil && asks == nil {
		bids, asks = msg.B, msg.A
	}
	if bids == nil && asks == nil {
		return nil, errNoDepth
	}
	return orderbook.NewBook(symbol, bids, asks, limit, domain.BookSourceStream, time.Now()), nil
}

// stream 单条推送连接
type stream struct {
	conn    *websocket.Conn
	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// OpenStream 建立推送流
func (a *Adapter) OpenStream(ctx context.Context, symbol string, opts orderbook.StreamOptions) (orderbook.StreamHandle, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: a.cfg.HandshakeTimeout,
	}
	if proxy := parseProxy(a.cfg.ProxyURL); proxy != nil {
		dialer.Proxy = http.ProxyURL(proxy)
	}

	wsURL := a.streamURL(symbol, opts.CurrentLimit())
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", wsURL, err)
	}
	log.Debugf("已连接订单簿推送流: %s", wsURL)

	s := &stream{conn: conn, done: make(chan struct{})}
	go s.readLoop(symbol, opts)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *stream) readLoop(symbol string, opts orderbook.StreamOptions) {
	defer close(s.done)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.closing.Load(),
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				if opts.OnClose != nil {
					opts.OnClose()
				}
			default:
				if opts.OnError != nil {
					opts.OnError(err)
				}
			}
			return
		}

		book, err := parseDepthMessage(symbol, payload, opts.CurrentLimit())
		if err != nil {
			metrics.StreamDropped.Add(1)
			log.Debugf("丢弃无法解析的深度消息: %v", err)
			continue
		}
		if opts.OnMessage != nil {
			opts.OnMessage(book)
		}
	}
}

// Close 主动关闭，读循环会以 OnClose 结束
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
