package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // MB
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // 保留的旧文件数量
	MaxAge     int    `yaml:"max_age" json:"max_age"`         // 天
	Compress   bool   `yaml:"compress" json:"compress"`
}

// ExchangeConfig 行情源配置
type ExchangeConfig struct {
	Name                  string `yaml:"name" json:"name"`
	RESTBaseURL           string `yaml:"rest_base_url" json:"rest_base_url"`
	WSBaseURL             string `yaml:"ws_base_url" json:"ws_base_url"`
	StreamSpeed           string `yaml:"stream_speed" json:"stream_speed"` // 100ms / 1000ms
	ProxyURL              string `yaml:"proxy_url" json:"proxy_url"`
	RESTRequestsPerSecond int    `yaml:"rest_requests_per_second" json:"rest_requests_per_second"`
	RESTTimeoutMs         int    `yaml:"rest_timeout_ms" json:"rest_timeout_ms"`
}

// BookConfig 订单簿同步配置（时间单位均为毫秒）
type BookConfig struct {
	Symbol              string `yaml:"symbol" json:"symbol"`
	Depth               int    `yaml:"depth" json:"depth"`
	FrameIntervalMs     int    `yaml:"frame_interval_ms" json:"frame_interval_ms"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
	IdleTimeoutMs       int    `yaml:"idle_timeout_ms" json:"idle_timeout_ms"`
	HiddenIdleTimeoutMs int    `yaml:"hidden_idle_timeout_ms" json:"hidden_idle_timeout_ms"`
	ResyncIntervalMs    int    `yaml:"resync_interval_ms" json:"resync_interval_ms"`
	HiddenResyncEvery   int    `yaml:"hidden_resync_every" json:"hidden_resync_every"`
	BackoffBaseMs       int    `yaml:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffMaxMs        int    `yaml:"backoff_max_ms" json:"backoff_max_ms"`
	BackoffJitterMs     int    `yaml:"backoff_jitter_ms" json:"backoff_jitter_ms"`
	SnapshotTimeoutMs   int    `yaml:"snapshot_timeout_ms" json:"snapshot_timeout_ms"`
}

// AccountConfig 模拟账户配置
type AccountConfig struct {
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"`
	Leverage       int     `yaml:"leverage" json:"leverage"`
	MarginMode     string  `yaml:"margin_mode" json:"margin_mode"` // cross / isolated
	HistoryCap     int     `yaml:"history_cap" json:"history_cap"`
	MaxLeverage    int     `yaml:"max_leverage" json:"max_leverage"`
}

// BracketConfig 维持保证金阶梯，Cap <= 0 表示无上限
type BracketConfig struct {
	Cap float64 `yaml:"cap" json:"cap"`
	MMR float64 `yaml:"mmr" json:"mmr"`
}

// RiskConfig 费率与资金费配置
type RiskConfig struct {
	TakerFee           float64         `yaml:"taker_fee" json:"taker_fee"`
	MakerFee           float64         `yaml:"maker_fee" json:"maker_fee"`
	LiquidationFee     float64         `yaml:"liquidation_fee" json:"liquidation_fee"`
	FundingIntervalSec int             `yaml:"funding_interval_sec" json:"funding_interval_sec"`
	FundingRate        float64         `yaml:"funding_rate" json:"funding_rate"`
	Brackets           []BracketConfig `yaml:"brackets" json:"brackets"`
}

// Config 应用配置
type Config struct {
	Log      LogConfig      `yaml:"log" json:"log"`
	Exchange ExchangeConfig `yaml:"exchange" json:"exchange"`
	Book     BookConfig     `yaml:"book" json:"book"`
	Account  AccountConfig  `yaml:"account" json:"account"`
	Risk     RiskConfig     `yaml:"risk" json:"risk"`
	API      APIConfig      `yaml:"api" json:"api"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// APIConfig 控制接口配置
type APIConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// MetricsConfig /debug/vars 配置，Listen 为空则不启动
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			File:       "logs/papertrade.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Exchange: ExchangeConfig{
			Name:                  "binance",
			RESTBaseURL:           "https://api.binance.com",
			WSBaseURL:             "wss://stream.binance.com:9443/ws",
			StreamSpeed:           "100ms",
			RESTRequestsPerSecond: 5,
			RESTTimeoutMs:         10000,
		},
		Book: BookConfig{
			Symbol:              "BTCUSDT",
			Depth:               20,
			FrameIntervalMs:     16,
			HeartbeatIntervalMs: 5000,
			IdleTimeoutMs:       10000,
			HiddenIdleTimeoutMs: 120000,
			ResyncIntervalMs:    15000,
			HiddenResyncEvery:   3,
			BackoffBaseMs:       800,
			BackoffMaxMs:        10000,
			BackoffJitterMs:     300,
			SnapshotTimeoutMs:   8000,
		},
		Account: AccountConfig{
			InitialBalance: 10000,
			Leverage:       10,
			MarginMode:     "cross",
			HistoryCap:     500,
			MaxLeverage:    125,
		},
		Risk: RiskConfig{
			TakerFee:           0.0005,
			MakerFee:           0.0002,
			LiquidationFee:     0.0005,
			FundingIntervalSec: 8 * 3600,
			FundingRate:        0.0001,
		},
		API: APIConfig{Listen: "127.0.0.1:8088"},
	}
}

// LoadFromFile 加载配置
// 优先级：环境变量 > 配置文件 > 默认值；filePath 为空时只读取环境变量
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON），文件中缺省的字段保留默认值
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv("PAPERTRADE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("PAPERTRADE_LOG_FILE", cfg.Log.File)

	cfg.Exchange.RESTBaseURL = getEnv("PAPERTRADE_REST_BASE_URL", cfg.Exchange.RESTBaseURL)
	cfg.Exchange.WSBaseURL = getEnv("PAPERTRADE_WS_BASE_URL", cfg.Exchange.WSBaseURL)
	cfg.Exchange.ProxyURL = getEnv("PAPERTRADE_PROXY_URL", cfg.Exchange.ProxyURL)

	cfg.Book.Symbol = strings.ToUpper(getEnv("PAPERTRADE_SYMBOL", cfg.Book.Symbol))
	cfg.Book.Depth = parseIntEnv("PAPERTRADE_DEPTH", cfg.Book.Depth)

	cfg.Account.InitialBalance = parseFloatEnv("PAPERTRADE_INITIAL_BALANCE", cfg.Account.InitialBalance)
	cfg.Account.Leverage = parseIntEnv("PAPERTRADE_LEVERAGE", cfg.Account.Leverage)
	cfg.Account.MarginMode = getEnv("PAPERTRADE_MARGIN_MODE", cfg.Account.MarginMode)

	cfg.Risk.TakerFee = parseFloatEnv("PAPERTRADE_TAKER_FEE", cfg.Risk.TakerFee)
	cfg.Risk.MakerFee = parseFloatEnv("PAPERTRADE_MAKER_FEE", cfg.Risk.MakerFee)
	cfg.Risk.FundingRate = parseFloatEnv("PAPERTRADE_FUNDING_RATE", cfg.Risk.FundingRate)

	cfg.API.Listen = getEnv("PAPERTRADE_API_LISTEN", cfg.API.Listen)
	cfg.Metrics.Listen = getEnv("PAPERTRADE_METRICS_LISTEN", cfg.Metrics.Listen)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Book.Symbol == "" {
		return fmt.Errorf("book.symbol 不能为空")
	}
	if c.Book.Depth < 5 || c.Book.Depth > 100 {
		return fmt.Errorf("book.depth 必须在 5 到 100 之间，当前 %d", c.Book.Depth)
	}
	if c.Book.FrameIntervalMs <= 0 || c.Book.HeartbeatIntervalMs <= 0 || c.Book.ResyncIntervalMs <= 0 {
		return fmt.Errorf("book 的定时间隔必须大于 0")
	}
	if c.Book.IdleTimeoutMs <= 0 || c.Book.HiddenIdleTimeoutMs < c.Book.IdleTimeoutMs {
		return fmt.Errorf("book.idle_timeout_ms 必须大于 0 且不大于 hidden_idle_timeout_ms")
	}
	if c.Book.BackoffBaseMs <= 0 || c.Book.BackoffMaxMs < c.Book.BackoffBaseMs || c.Book.BackoffJitterMs < 0 {
		return fmt.Errorf("book 重连退避参数无效: base=%d max=%d jitter=%d",
			c.Book.BackoffBaseMs, c.Book.BackoffMaxMs, c.Book.BackoffJitterMs)
	}
	if c.Account.InitialBalance < 0 {
		return fmt.Errorf("account.initial_balance 不能为负数")
	}
	if c.Account.MaxLeverage < 1 {
		return fmt.Errorf("account.max_leverage 必须 >= 1")
	}
	if c.Account.Leverage < 1 || c.Account.Leverage > c.Account.MaxLeverage {
		return fmt.Errorf("account.leverage 必须在 1 到 %d 之间", c.Account.MaxLeverage)
	}
	switch c.Account.MarginMode {
	case "cross", "isolated":
	default:
		return fmt.Errorf("未知的保证金模式: %s", c.Account.MarginMode)
	}
	if c.Account.HistoryCap <= 0 {
		return fmt.Errorf("account.history_cap 必须大于 0")
	}
	if c.Risk.TakerFee < 0 || c.Risk.MakerFee < 0 || c.Risk.LiquidationFee < 0 {
		return fmt.Errorf("手续费率不能为负数")
	}
	if c.Risk.FundingIntervalSec <= 0 {
		return fmt.Errorf("risk.funding_interval_sec 必须大于 0")
	}
	if !sort.SliceIsSorted(c.Risk.Brackets, func(i, j int) bool {
		return bracketCapLess(c.Risk.Brackets[i].Cap, c.Risk.Brackets[j].Cap)
	}) {
		return fmt.Errorf("risk.brackets 必须按 cap 升序排列（cap<=0 的无上限档位放在最后）")
	}
	for i, b := range c.Risk.Brackets {
		if b.MMR <= 0 || b.MMR >= 1 {
			return fmt.Errorf("risk.brackets[%d].mmr 必须在 0 到 1 之间", i)
		}
	}
	return nil
}

// bracketCapLess cap<=0 视为正无穷
func bracketCapLess(a, b float64) bool {
	if a <= 0 {
		return false
	}
	if b <= 0 {
		return true
	}
	return a < b
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (b BookConfig) FrameInterval() time.Duration     { return ms(b.FrameIntervalMs) }
func (b BookConfig) HeartbeatInterval() time.Duration { return ms(b.HeartbeatIntervalMs) }
func (b BookConfig) IdleTimeout() time.Duration       { return ms(b.IdleTimeoutMs) }
func (b BookConfig) HiddenIdleTimeout() time.Duration { return ms(b.HiddenIdleTimeoutMs) }
func (b BookConfig) ResyncInterval() time.Duration    { return ms(b.ResyncIntervalMs) }
func (b BookConfig) BackoffBase() time.Duration       { return ms(b.BackoffBaseMs) }
func (b BookConfig) BackoffMax() time.Duration        { return ms(b.BackoffMaxMs) }
func (b BookConfig) BackoffJitter() time.Duration     { return ms(b.BackoffJitterMs) }
func (b BookConfig) SnapshotTimeout() time.Duration   { return ms(b.SnapshotTimeoutMs) }

func (e ExchangeConfig) RESTTimeout() time.Duration { return ms(e.RESTTimeoutMs) }

func (r RiskConfig) FundingInterval() time.Duration {
	return time.Duration(r.FundingIntervalSec) * time.Second
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
