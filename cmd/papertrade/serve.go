package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/betbot/perpsim/internal/api"
	"github.com/betbot/perpsim/internal/exchange/binance"
	"github.com/betbot/perpsim/internal/metrics"
	"github.com/betbot/perpsim/internal/orderbook"
	"github.com/betbot/perpsim/internal/risk"
	"github.com/betbot/perpsim/internal/session"
	"github.com/betbot/perpsim/internal/symbol"
	"github.com/betbot/perpsim/internal/trading"
	"github.com/betbot/perpsim/pkg/logger"
	"github.com/betbot/perpsim/pkg/shutdown"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动订单簿同步、模拟交易会话和控制 API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := logger.Init(loggerConfig(cfg.Log)); err != nil {
		return err
	}
	if opts.ConfigPath != "" {
		logrus.Infof("使用配置文件: %s", opts.ConfigPath)
	}
	tcfg, err := tradingConfig(cfg.Account, cfg.Risk)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	rootCtx, rootCancel := context.WithCancel(parent)
	defer rootCancel()
	mgr := shutdown.NewManager()

	// 行情
	symbols := symbol.NewStore(cfg.Book.Symbol)
	adapter := binance.New(binanceConfig(cfg.Exchange))
	book := orderbook.NewService(adapter, symbols, bookConfig(cfg.Book))

	// 交易
	notifier := trading.NewAsyncNotifier(trading.NewLogNotifier(), 256)
	engine := trading.New(tcfg, risk.New(riskConfig(cfg.Risk)), notifier)
	sess := session.New(engine, symbols)

	unsub := book.Subscribe(sess.OnBook)
	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		if err := sess.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.Errorf("会话退出: %v", err)
		}
	}()

	if err := book.Start(); err != nil {
		return err
	}
	logrus.Infof("订单簿同步已启动: symbol=%s depth=%d source=%s", symbols.Get(), book.Depth(), adapter.Name())

	if cfg.API.Listen != "" {
		if _, err := api.New(sess, book, symbols).StartAsync(rootCtx, cfg.API.Listen); err != nil {
			book.Dispose()
			return err
		}
	}
	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.Metrics.Listen); err != nil {
			logrus.Warnf("启动 metrics 失败: %v", err)
		}
	}

	mgr.OnShutdown("orderbook", func(ctx context.Context) {
		unsub()
		book.Dispose()
	})
	mgr.OnShutdown("session", func(ctx context.Context) {
		select {
		case <-sessDone:
		case <-ctx.Done():
			logrus.Warn("等待会话退出超时")
		}
		notifier.Close()
	})

	logrus.Info("模拟交易已启动，按 Ctrl+C 停止")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	select {
	case <-sigChan:
		logrus.Info("收到停止信号，正在关闭...")
	case <-rootCtx.Done():
	}
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
	logrus.Info("已退出")
	return nil
}
