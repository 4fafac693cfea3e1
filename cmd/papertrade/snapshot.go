package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/betbot/perpsim/internal/exchange/binance"
	"github.com/betbot/perpsim/internal/orderbook"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var (
		symbol string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "拉取一次 REST 订单簿快照并以 JSON 输出",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if symbol == "" {
				symbol = cfg.Book.Symbol
			}
			if depth <= 0 {
				depth = cfg.Book.Depth
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Book.SnapshotTimeout())
			defer cancel()

			adapter := binance.New(binanceConfig(cfg.Exchange))
			return writeSnapshot(ctx, cmd.OutOrStdout(), adapter, strings.ToUpper(symbol), depth)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "交易对（默认取配置）")
	cmd.Flags().IntVar(&depth, "depth", 0, "深度 5~100（默认取配置）")
	return cmd
}

func writeSnapshot(ctx context.Context, w io.Writer, adapter orderbook.Adapter, symbol string, depth int) error {
	book, err := adapter.FetchSnapshot(ctx, symbol, orderbook.ClampDepth(depth))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(book)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
