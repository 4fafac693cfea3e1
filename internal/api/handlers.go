package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/perpsim/internal/domain"
)

type statusResponse struct {
	Symbol    string  `json:"symbol"`
	State     string  `json:"state"`
	Depth     int     `json:"depth"`
	BestPrice float64 `json:"best_price"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		Symbol: s.symbols.Get(),
		State:  s.book.State().String(),
		Depth:  s.book.Depth(),
	}
	if u, ok := s.trader.Book(); ok && u.Symbol == resp.Symbol {
		resp.BestPrice = u.BestPrice
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBook(c *gin.Context) {
	u, ok := s.trader.Book()
	if !ok || u.Book == nil {
		writeError(c, http.StatusNotFound, "no book yet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     u.Symbol,
		"best_price": u.BestPrice,
		"source":     u.Source,
		"book":       u.Book,
	})
}

func (s *Server) handleAccount(c *gin.Context) {
	v, err := s.trader.Account(c.Request.Context())
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type orderRequest struct {
	Side   string          `json:"side" binding:"required"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

func (r orderRequest) parse(needPrice bool) (domain.Side, string) {
	side, err := domain.ParseSide(r.Side)
	if err != nil {
		return "", err.Error()
	}
	if !r.Amount.IsPositive() {
		return "", "amount must be positive"
	}
	if needPrice && !r.Price.IsPositive() {
		return "", "price must be positive"
	}
	return side, ""
}

func (s *Server) handlePlaceMarket(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	side, msg := req.parse(false)
	if msg != "" {
		writeError(c, http.StatusBadRequest, msg)
		return
	}
	p, err := s.trader.PlaceMarket(c.Request.Context(), side, req.Amount)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePlaceLimit(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	side, msg := req.parse(true)
	if msg != "" {
		writeError(c, http.StatusBadRequest, msg)
		return
	}
	o, err := s.trader.PlaceLimit(c.Request.Context(), side, req.Price, req.Amount)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleClosePosition(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ok, err := s.trader.ClosePosition(c.Request.Context(), id)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, "position not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": id})
}

func (s *Server) handleCloseAll(c *gin.Context) {
	n, err := s.trader.CloseAll(c.Request.Context())
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": n})
}

type settingsRequest struct {
	Leverage    *int             `json:"leverage"`
	MarginMode  *string          `json:"margin_mode"`
	FundingRate *decimal.Decimal `json:"funding_rate"`
}

// handleSettings 只修改请求里出现的字段
func (s *Server) handleSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	var mode domain.MarginMode
	if req.MarginMode != nil {
		m, err := domain.ParseMarginMode(*req.MarginMode)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	ctx := c.Request.Context()
	if req.Leverage != nil {
		if _, err := s.trader.SetLeverage(ctx, *req.Leverage); err != nil {
			writeSessionError(c, err)
			return
		}
	}
	if mode != "" {
		if err := s.trader.SetMarginMode(ctx, mode); err != nil {
			writeSessionError(c, err)
			return
		}
	}
	if req.FundingRate != nil {
		if err := s.trader.SetFundingRate(ctx, *req.FundingRate); err != nil {
			writeSessionError(c, err)
			return
		}
	}

	v, err := s.trader.Account(ctx)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"leverage":     v.Account.Leverage,
		"margin_mode":  v.Account.MarginMode,
		"funding_rate": v.Account.FundingRate,
	})
}

func (s *Server) handleSymbol(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "symbol is required")
		return
	}
	changed := s.symbols.Set(req.Symbol)
	c.JSON(http.StatusOK, gin.H{"symbol": s.symbols.Get(), "changed": changed})
}

func (s *Server) handleDepth(c *gin.Context) {
	var req struct {
		Depth int `json:"depth" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "depth is required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"depth": s.book.SetDepth(req.Depth)})
}

func (s *Server) handleVisibility(c *gin.Context) {
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "visible is required")
		return
	}
	s.book.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}
