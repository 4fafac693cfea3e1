package binance

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/perpsim/internal/orderbook"
	sdkhttp "github.com/betbot/perpsim/pkg/sdk/http"
	"github.com/betbot/perpsim/pkg/ratelimit"
)

var log = logrus.WithField("component", "binance")

// Config Binance 行情适配器配置
type Config struct {
	RESTBaseURL       string
	WSBaseURL         string        // 例如 wss://stream.binance.com:9443/ws
	StreamSpeed       string        // 100ms / 1000ms
	ProxyURL          string        // 为空时读取 HTTP_PROXY/HTTPS_PROXY
	RequestsPerSecond float64       // REST 快照限速
	RESTTimeout       time.Duration // 单次 REST 请求超时
	HandshakeTimeout  time.Duration
}

// DefaultConfig 现货默认配置
func DefaultConfig() Config {
	return Config{
		RESTBaseURL:       "https://api.binance.com",
		WSBaseURL:         "wss://stream.binance.com:9443/ws",
		StreamSpeed:       "100ms",
		RequestsPerSecond: 5,
		RESTTimeout:       10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Adapter Binance 订单簿适配器：REST /api/v3/depth 快照 + <symbol>@depth<N>@<speed> 推送流
type Adapter struct {
	cfg     Config
	rest    *sdkhttp.Client
	limiter ratelimit.RateLimiter
}

var _ orderbook.Adapter = (*Adapter)(nil)

// New 创建适配器
func New(cfg Config) *Adapter {
	d := DefaultConfig()
	if cfg.RESTBaseURL == "" {
		cfg.RESTBaseURL = d.RESTBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = d.WSBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = d.RequestsPerSecond
	}
	if cfg.RESTTimeout <= 0 {
		cfg.RESTTimeout = d.RESTTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.ProxyURL == "" {
		cfg.ProxyURL = getProxyFromEnv()
	}

	opts := sdkhttp.DefaultOptions()
	opts.Timeout = cfg.RESTTimeout
	opts.ProxyURL = cfg.ProxyURL

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Adapter{
		cfg:     cfg,
		rest:    sdkhttp.NewClient(cfg.RESTBaseURL, opts),
		limiter: ratelimit.NewTokenBucket(burst, cfg.RequestsPerSecond),
	}
}

func (a *Adapter) Name() string { return "binance" }

// snapshotLimits REST depth 接口接受的 limit
var snapshotLimits = []int{5, 10, 20, 50, 100}

// streamLevels 部分深度流支持的档位
var streamLevels = []int{5, 10, 20}

// SnapshotLimit 不小于 limit 的最小合法 REST limit
func SnapshotLimit(limit int) int {
	limit = orderbook.ClampDepth(limit)
	for _, l := range snapshotLimits {
		if l >= limit {
			return l
		}
	}
	return snapshotLimits[len(snapshotLimits)-1]
}

// StreamLevels 不小于 limit 的最小推送档位，最大 20
func StreamLevels(limit int) int {
	for _, l := range streamLevels {
		if l >= limit {
			return l
		}
	}
	return streamLevels[len(streamLevels)-1]
}

// StreamLevels 实现 orderbook.LevelAdapter
func (a *Adapter) StreamLevels(limit int) int {
	return StreamLevels(orderbook.ClampDepth(limit))
}

// StreamName 推送流名称，例如 btcusdt@depth20@100ms
func StreamName(symbol string, limit int, speed string) string {
	name := strings.ToLower(symbol) + "@depth" + strconv.Itoa(StreamLevels(limit))
	if speed != "" && speed != "1000ms" {
		name += "@" + speed
	}
	return name
}

func (a *Adapter) streamURL(symbol string, limit int) string {
	return strings.TrimSuffix(a.cfg.WSBaseURL, "/") + "/" + StreamName(symbol, limit, a.cfg.StreamSpeed)
}

func parseProxy(raw string) *url.URL {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		log.Warnf("解析代理 URL 失败: %v，将尝试直接连接", err)
		return nil
	}
	return u
}

// getProxyFromEnv 从环境变量获取代理 URL
func getProxyFromEnv() string {
	for _, v := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if proxy := os.Getenv(v); proxy != "" {
			return proxy
		}
	}
	return ""
}
