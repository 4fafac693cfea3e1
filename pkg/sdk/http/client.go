package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Options REST 客户端配置
type Options struct {
	Timeout    time.Duration
	RetryCount int
	ProxyURL   string // 为空时 resty 从 HTTP_PROXY/HTTPS_PROXY 读取
	UserAgent  string
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		RetryCount: 2,
		UserAgent:  "perpsim/papertrade",
	}
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http non-2xx: status=%d body=%s", e.StatusCode, e.Body)
}

type Client struct {
	client    *resty.Client
	userAgent string
}

func NewClient(host string, opts Options) *Client {
	host = strings.TrimSuffix(host, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 网络错误、429、5xx 重试；4xx 直接返回
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 遇到 429 限流，使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 5 * time.Second, nil
			}
			return 0, nil
		})
	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultOptions().UserAgent
	}
	return &Client{client: client, userAgent: ua}
}

type RequestOptions struct {
	Headers map[string]string
	Params  map[string]any
}

// 仅设置本次请求的默认 Header
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", c.userAgent)
	return r
}

// Get 发起 GET 请求，成功时把响应体解码到 out；非 2xx 返回 *StatusError
func (c *Client) Get(ctx context.Context, endpoint string, opt *RequestOptions, out any) error {
	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
	}

	resp, err := rc.Get(endpoint)
	if err := ParseHTTPError(resp, err); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "decode %s", endpoint)
	}
	return nil
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// ParseHTTPError 把传输错误和非 2xx 响应统一成 error
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp == nil {
		return errors.New("http request: empty response")
	}
	if resp.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(string(resp.Body()))
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(resp.Body(), &payload) == nil && payload.Msg != "" {
		body = fmt.Sprintf("code=%d msg=%s", payload.Code, payload.Msg)
	}
	return errors.WithStack(&StatusError{StatusCode: resp.StatusCode(), Body: body})
}
