package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/betbot/perpsim/pkg/config"
	"github.com/betbot/perpsim/pkg/logger"
)

var version = "dev"

// rootOptions 全局参数
type rootOptions struct {
	ConfigPath string
	EnvPath    string
	LogLevel   string
}

// load .env → 配置文件 → 环境变量覆盖 → 命令行日志级别
func (o *rootOptions) load() (*config.Config, error) {
	if o.EnvPath != "" {
		if err := godotenv.Load(o.EnvPath); err == nil {
			logrus.Debugf("已加载环境变量文件: %s", o.EnvPath)
		}
	}
	cfg, err := config.LoadFromFile(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "papertrade",
		Short:         "Binance 订单簿驱动的模拟合约交易",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 先只输出到控制台，serve 读取配置后再按配置初始化文件日志
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := opts.LogLevel
			if level == "" {
				level = "info"
			}
			return logger.Init(logger.Config{Level: level})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	cmd.PersistentFlags().StringVar(&opts.EnvPath, "env", ".env", ".env 文件路径（不存在时忽略）")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "日志级别: debug|info|warn|error（覆盖配置文件）")

	cmd.AddCommand(
		newServeCmd(opts),
		newSnapshotCmd(opts),
		newConfigCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "打印版本",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "papertrade", version)
			},
		},
	)
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "校验并打印生效的配置",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), cfg)
		},
	}
}
