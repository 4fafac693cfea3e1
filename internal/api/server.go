package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/orderbook"
	"github.com/betbot/perpsim/internal/session"
)

var log = logrus.WithField("component", "api")

// Trader 模拟交易会话
type Trader interface {
	Book() (orderbook.Update, bool)
	Account(ctx context.Context) (session.AccountView, error)
	PlaceMarket(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.Position, error)
	PlaceLimit(ctx context.Context, side domain.Side, price, amount decimal.Decimal) (*domain.Order, error)
	ClosePosition(ctx context.Context, id string) (bool, error)
	CloseAll(ctx context.Context) (int, error)
	SetLeverage(ctx context.Context, lev int) (int, error)
	SetMarginMode(ctx context.Context, mode domain.MarginMode) error
	SetFundingRate(ctx context.Context, rate decimal.Decimal) error
}

// BookControl 订单簿同步服务的控制面
type BookControl interface {
	State() orderbook.State
	Depth() int
	SetDepth(n int) int
	SetVisible(v bool)
}

// SymbolStore 当前交易对
type SymbolStore interface {
	Get() string
	Set(symbol string) bool
}

// Server 控制 API
type Server struct {
	trader  Trader
	book    BookControl
	symbols SymbolStore
}

func New(trader Trader, book BookControl, symbols SymbolStore) *Server {
	return &Server{trader: trader, book: book, symbols: symbols}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/book", s.handleBook)
	api.GET("/account", s.handleAccount)

	orders := api.Group("/orders")
	orders.POST("/market", s.handlePlaceMarket)
	orders.POST("/limit", s.handlePlaceLimit)

	positions := api.Group("/positions")
	positions.POST("/close_all", s.handleCloseAll)
	positions.POST("/:id/close", s.handleClosePosition)

	api.PUT("/settings", s.handleSettings)
	api.PUT("/settings/symbol", s.handleSymbol)
	api.PUT("/settings/depth", s.handleDepth)
	api.PUT("/settings/visibility", s.handleVisibility)

	return r
}

// StartAsync 非阻塞启动，ctx.Done() 时优雅关闭；返回实际监听地址
func (s *Server) StartAsync(ctx context.Context, listenAddr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("api server 退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Infof("api 已启动: http://%s/api/status", ln.Addr())
	return ln.Addr(), nil
}

func writeError(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// writeSessionError 会话错误映射到 HTTP 状态码
func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrRejected):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrNoPrice):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}
