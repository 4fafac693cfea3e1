package main

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpsim/internal/domain"
	"github.com/betbot/perpsim/internal/exchange/binance"
	"github.com/betbot/perpsim/internal/orderbook"
	"github.com/betbot/perpsim/internal/risk"
	"github.com/betbot/perpsim/internal/trading"
	"github.com/betbot/perpsim/pkg/config"
	"github.com/betbot/perpsim/pkg/logger"
)

func loggerConfig(c config.LogConfig) logger.Config {
	return logger.Config{
		Level:      c.Level,
		OutputFile: c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

func binanceConfig(c config.ExchangeConfig) binance.Config {
	return binance.Config{
		RESTBaseURL:       c.RESTBaseURL,
		WSBaseURL:         c.WSBaseURL,
		StreamSpeed:       c.StreamSpeed,
		ProxyURL:          c.ProxyURL,
		RequestsPerSecond: float64(c.RESTRequestsPerSecond),
		RESTTimeout:       c.RESTTimeout(),
	}
}

func bookConfig(c config.BookConfig) orderbook.Config {
	return orderbook.Config{
		Depth:             c.Depth,
		FrameInterval:     c.FrameInterval(),
		HeartbeatInterval: c.HeartbeatInterval(),
		IdleTimeout:       c.IdleTimeout(),
		HiddenIdleTimeout: c.HiddenIdleTimeout(),
		ResyncInterval:    c.ResyncInterval(),
		HiddenResyncEvery: c.HiddenResyncEvery,
		SnapshotTimeout:   c.SnapshotTimeout(),
		Backoff: orderbook.Backoff{
			Base:   c.BackoffBase(),
			Max:    c.BackoffMax(),
			Jitter: c.BackoffJitter(),
		},
	}
}

func riskConfig(c config.RiskConfig) risk.Config {
	rc := risk.DefaultConfig()
	rc.TakerFee = decimal.NewFromFloat(c.TakerFee)
	rc.MakerFee = decimal.NewFromFloat(c.MakerFee)
	rc.LiquidationFee = decimal.NewFromFloat(c.LiquidationFee)
	if iv := c.FundingInterval(); iv > 0 {
		rc.FundingInterval = iv
	} else {
		rc.FundingInterval = 8 * time.Hour
	}
	for _, b := range c.Brackets {
		rc.Brackets = append(rc.Brackets, risk.Bracket{
			Cap: decimal.NewFromFloat(b.Cap),
			MMR: decimal.NewFromFloat(b.MMR),
		})
	}
	return rc
}

func tradingConfig(a config.AccountConfig, r config.RiskConfig) (trading.Config, error) {
	mode, err := domain.ParseMarginMode(a.MarginMode)
	if err != nil {
		return trading.Config{}, err
	}
	return trading.Config{
		InitialBalance: decimal.NewFromFloat(a.InitialBalance),
		Leverage:       a.Leverage,
		MarginMode:     mode,
		HistoryCap:     a.HistoryCap,
		MaxLeverage:    a.MaxLeverage,
		FundingRate:    decimal.NewFromFloat(r.FundingRate),
	}, nil
}
