package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/orderbook"
)

func TestSnapshotLimitAndStreamName(t *testing.T) {
	assert.Equal(t, 5, SnapshotLimit(1))
	assert.Equal(t, 20, SnapshotLimit(15))
	assert.Equal(t, 50, SnapshotLimit(21))
	assert.Equal(t, 100, SnapshotLimit(100))

	assert.Equal(t, 5, StreamLevels(5))
	assert.Equal(t, 10, StreamLevels(6))
	assert.Equal(t, 20, StreamLevels(50))

	assert.Equal(t, "btcusdt@depth20@100ms", StreamName("BTCUSDT", 20, "100ms"))
	assert.Equal(t, "ethusdt@depth10", StreamName("ETHUSDT", 8, "1000ms"))
	assert.Equal(t, "ethusdt@depth5", StreamName("ETHUSDT", 5, ""))
}

func TestAdapterStreamLevels(t *testing.T) {
	var la orderbook.LevelAdapter = New(DefaultConfig())
	assert.Equal(t, 5, la.StreamLevels(1))
	assert.Equal(t, 10, la.StreamLevels(10))
	assert.Equal(t, 20, la.StreamLevels(11))
	assert.Equal(t, 20, la.StreamLevels(500))
}

func TestParseDepthMessage(t *testing.T) {
	spot := `{"lastUpdateId":1,"bids":[["100","1"],["101","2"]],"asks":[["102","1"]]}`
	book, err := parseDepthMessage("BTCUSDT", []byte(spot), 20)
	require.NoError(t, err)
	assert.Equal(t, 101.0, book.Bids[0].Price)
	assert.Equal(t, domain.BookSourceStream, book.Source)

	futures := `{"e":"depthUpdate","b":[["10","1"]],"a":[["11","1"]]}`
	book, err = parseDepthMessage("BTCUSDT", []byte(futures), 20)
	require.NoError(t, err)
	p, _ := book.BestPrice()
	assert.Equal(t, 10.5, p)

	combined := `{"stream":"btcusdt@depth5","data":{"bids":[["1","1"]],"asks":[]}}`
	book, err = parseDepthMessage("BTCUSDT", []byte(combined), 20)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 1)
	assert.Empty(t, book.Asks)

	_, err = parseDepthMessage("BTCUSDT", []byte(`not json`), 20)
	assert.Error(t, err)
	_, err = parseDepthMessage("BTCUSDT", []byte(`{"result":null,"id":1}`), 20)
	assert.Error(t, err)
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lastUpdateId":9,
			"bids":[["100","1"],["99","1"],["98","1"],["97","1"],["96","1"],["95","1"],["94","1"]],
			"asks":[["101","1"],["101","2"]]}`))
	}))
	defer srv.Close()

	a := New(Config{RESTBaseURL: srv.URL, WSBaseURL: "ws://unused", RequestsPerSecond: 100})
	book, err := a.FetchSnapshot(context.Background(), "BTCUSDT", 6)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.Len(t, book.Bids, 6, "按请求的深度截断，而不是按交易所 limit")
	require.Len(t, book.Asks, 1)
	assert.Equal(t, 3.0, book.Asks[0].Size)
	assert.Equal(t, domain.BookSourceSnapshot, book.Source)
}

func TestFetchSnapshot_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	a := New(Config{RESTBaseURL: srv.URL, WSBaseURL: "ws://unused"})
	_, err := a.FetchSnapshot(context.Background(), "NOPE", 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol.")
}

// wsServer 模拟 Binance 推送：连上以后依次发送 frames，然后按 mode 处理
type wsServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newWSServer(t *testing.T, frames []string, dropAfter bool) *wsServer {
	t.Helper()
	ws := &wsServer{}
	upgrader := websocket.Upgrader{}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.mu.Lock()
		ws.paths = append(ws.paths, r.URL.Path)
		ws.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if dropAfter {
			// 不发送 close 帧直接断开
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ws.Close)
	return ws
}

type streamRecorder struct {
	mu     sync.Mutex
	books  []*domain.OrderBook
	errs   []error
	closes int
}

func (r *streamRecorder) options(limit int) orderbook.StreamOptions {
	return orderbook.StreamOptions{
		OnMessage: func(b *domain.OrderBook) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.books = append(r.books, b)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnClose: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes++
		},
		Limit: func() int { return limit },
	}
}

func (r *streamRecorder) counts() (books, errs, closes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.books), len(r.errs), r.closes
}

func wsURL(srv *wsServer) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestOpenStream_DeliversAndDropsMalformed(t *testing.T) {
	frames := []string{
		`{"lastUpdateId":1,"bids":[["100","1"]],"asks":[["101","1"]]}`,
		`garbage`,
		`{"b":[["200","1"]],"a":[["202","1"]]}`,
	}
	srv := newWSServer(t, frames, false)
	a := New(Config{RESTBaseURL: "http://unused", WSBaseURL: wsURL(srv), StreamSpeed: "100ms"})

	rec := &streamRecorder{}
	h, err := a.OpenStream(context.Background(), "BTCUSDT", rec.options(10))
	require.NoError(t, err)

	require.Eventually(t, func() bool { n, _, _ := rec.counts(); return n == 2 }, 2*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	p, _ := rec.books[1].BestPrice()
	rec.mu.Unlock()
	assert.Equal(t, 201.0, p)

	srv.mu.Lock()
	assert.Equal(t, []string{"/ws/btcusdt@depth10@100ms"}, srv.paths)
	srv.mu.Unlock()

	require.NoError(t, h.Close())
	_ = h.Close()
	require.Eventually(t, func() bool { _, _, c := rec.counts(); return c == 1 }, 2*time.Second, 5*time.Millisecond)
	_, errs, _ := rec.counts()
	assert.Zero(t, errs, "主动关闭不应该报错")
}

func TestOpenStream_DropReportsError(t *testing.T) {
	srv := newWSServer(t, nil, true)
	a := New(Config{RESTBaseURL: "http://unused", WSBaseURL: wsURL(srv)})

	rec := &streamRecorder{}
	_, err := a.OpenStream(context.Background(), "BTCUSDT", rec.options(20))
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, e, _ := rec.counts(); return e == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestOpenStream_ContextCancelCloses(t *testing.T) {
	srv := newWSServer(t, nil, false)
	a := New(Config{RESTBaseURL: "http://unused", WSBaseURL: wsURL(srv)})

	ctx, cancel := context.WithCancel(context.Background())
	rec := &streamRecorder{}
	_, err := a.OpenStream(ctx, "BTCUSDT", rec.options(20))
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { _, _, c := rec.counts(); return c == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestOpenStream_DialFailure(t *testing.T) {
	a := New(Config{RESTBaseURL: "http://unused", WSBaseURL: "ws://127.0.0.1:1/ws"})
	_, err := a.OpenStream(context.Background(), "BTCUSDT", orderbook.StreamOptions{})
	assert.Error(t, err)
}
