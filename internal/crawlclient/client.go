// Package crawlclient 把代理池、平台签名和登录会话组合成一次完整的出站请求。
package crawlclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"

	"crawler_nexus/internal/session"
	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/internal/sign"
	"crawler_nexus/proxypool/model"
)

const defaultTimeout = 60 * time.Second

// ProxySource 提供出口代理，通常是 *proxypool.Pool。
type ProxySource interface {
	GetProxy(ctx context.Context) (*model.IpInfo, error)
}

// Task 标识一次抓取任务，随请求一起传递，日志里用 ID 串联同一任务的请求。
type Task struct {
	ID          uuid.UUID
	Platform    string
	Keyword     string
	CrawlerType string // search, detail, creator
}

func NewTask(platform, crawlerType, keyword string) Task {
	return Task{
		ID:          uuid.New(),
		Platform:    platform,
		Keyword:     keyword,
		CrawlerType: crawlerType,
	}
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string

	// 以下均可为空：不走代理、不签名、不带 Cookie
	Proxies ProxySource
	Signer  sign.Signer
	Session *session.Session
}

// Response 只包含状态码和原始响应体，解析由各平台自己完成。
type Response struct {
	StatusCode int
	Body       []byte
	// Proxy 是本次请求使用的代理地址，直连时为空
	Proxy string
}

// Client 可以被多个抓取任务并发使用，每个请求单独从 ProxySource 取代理。
type Client struct {
	client  *req.Client
	proxies ProxySource
	signer  sign.Signer
	session *session.Session
}

type proxyCtxKey struct{}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := req.C().
		ImpersonateChrome().
		SetTimeout(timeout).
		SetProxy(proxyFromContext)
	if opts.BaseURL != "" {
		c.SetBaseURL(opts.BaseURL)
	}
	if opts.UserAgent != "" {
		c.SetUserAgent(opts.UserAgent)
	}
	if len(opts.Headers) > 0 {
		c.SetCommonHeaders(opts.Headers)
	}
	return &Client{
		client:  c,
		proxies: opts.Proxies,
		signer:  opts.Signer,
		session: opts.Session,
	}
}

// proxyFromContext 让同一个 req.Client 的每个请求使用各自的代理。
func proxyFromContext(r *http.Request) (*url.URL, error) {
	if u, ok := r.Context().Value(proxyCtxKey{}).(*url.URL); ok {
		return u, nil
	}
	return nil, nil
}

// Get 发送 GET 请求，params 先参与签名再作为查询参数发送。
func (c *Client) Get(ctx context.Context, task Task, uri string, params map[string]any) (*Response, error) {
	return c.do(ctx, task, http.MethodGet, uri, params, nil)
}

// Post 发送 JSON 请求体，请求体的序列化方式与签名原文一致。
func (c *Client) Post(ctx context.Context, task Task, uri string, payload any) (*Response, error) {
	return c.do(ctx, task, http.MethodPost, uri, nil, payload)
}

func (c *Client) do(ctx context.Context, task Task, method, uri string, params map[string]any, payload any) (*Response, error) {
	l := logger.WithComponent("CrawlClient")

	var ip *model.IpInfo
	if c.proxies != nil {
		var err error
		ip, err = c.proxies.GetProxy(ctx)
		if err != nil {
			return nil, fmt.Errorf("get proxy for task %s: %w", task.ID, err)
		}
		ctx = context.WithValue(ctx, proxyCtxKey{}, ip.ProxyURL())
	}

	query, err := sign.StringParams(params)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if c.signer != nil {
		res, err := c.signer.Sign(ctx, sign.Request{
			Method:  method,
			URI:     uri,
			Params:  params,
			Payload: payload,
		})
		if err != nil {
			return nil, fmt.Errorf("sign %s request: %w", c.signer.Platform(), err)
		}
		if res.Params != nil {
			query = res.Params
		}
		for k, v := range res.Headers {
			headers[k] = v
		}
	}

	r := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeaders(headers)
	if cookies := c.session.HTTPCookies(); len(cookies) > 0 {
		r.SetCookies(cookies...)
	}
	if payload != nil {
		body, err := encodeBody(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		r.SetBodyJsonString(body)
	}

	resp, err := r.Send(method, uri)
	out := &Response{}
	if ip != nil {
		out.Proxy = ip.Addr()
	}
	if err != nil {
		l.Warn().
			Err(err).
			Str("task", task.ID.String()).
			Str("platform", task.Platform).
			Str("proxy", out.Proxy).
			Str("uri", uri).
			Msg("Request failed")
		return nil, fmt.Errorf("%s %s: %w", method, uri, err)
	}

	out.StatusCode = resp.StatusCode
	out.Body = resp.Bytes()
	l.Debug().
		Str("task", task.ID.String()).
		Str("platform", task.Platform).
		Str("proxy", out.Proxy).
		Str("uri", uri).
		Int("status", out.StatusCode).
		Msg("Request done")
	return out, nil
}

func encodeBody(payload any) (string, error) {
	switch t := payload.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	body, err := sign.CompactJSON(payload)
	if err != nil {
		return "", err
	}
	if body == "null" {
		return "", errors.New("payload encodes to null")
	}
	return body, nil
}
