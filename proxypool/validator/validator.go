package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/internal/shared/types"
	"crawler_nexus/proxypool/model"
)

const (
	defaultTarget      = "https://echo.apifox.cn/"
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 5
)

// Validator 通过代理访问一个探测地址来判断代理是否可用。
type Validator struct {
	target      *url.URL
	timeout     time.Duration
	concurrency int
}

// New 根据配置创建 Validator，未设置的字段使用默认值。
func New(conf types.ValidatorConf) (*Validator, error) {
	raw := conf.TargetURL
	if raw == "" {
		raw = defaultTarget
	}
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid validation target %q", raw)
	}

	timeout := time.Duration(conf.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := conf.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Validator{target: target, timeout: timeout, concurrency: concurrency}, nil
}

// Validate 并发探测所有代理，返回可用的那些，顺序与输入一致。
func (v *Validator) Validate(ctx context.Context, ips []*model.IpInfo) []*model.IpInfo {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(ips) == 0 {
		return ips
	}

	l.Info().Int("count", len(ips)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	var wg sync.WaitGroup
	ok := make([]bool, len(ips))
	semaphore := make(chan struct{}, v.concurrency)

	for i, ip := range ips {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			// 剩下的代理视为未通过
			wg.Wait()
			return collect(ips, ok)
		}

		wg.Add(1)
		go func(i int, ip *model.IpInfo) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := v.check(ctx, ip); err != nil {
				l.Debug().Err(err).Str("proxy", ip.Addr()).Msg("Proxy failed validation.")
				return
			}
			ok[i] = true
		}(i, ip)
	}
	wg.Wait()

	valid := collect(ips, ok)
	l.Info().Int("valid", len(valid)).Int("total", len(ips)).Msg("Validation batch finished.")
	return valid
}

func collect(ips []*model.IpInfo, ok []bool) []*model.IpInfo {
	valid := make([]*model.IpInfo, 0, len(ips))
	for i, ip := range ips {
		if ok[i] {
			valid = append(valid, ip)
		}
	}
	return valid
}

// check 按代理协议分派探测方式。
func (v *Validator) check(ctx context.Context, ip *model.IpInfo) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if ip.Protocol == "socks5" {
		return v.checkSocks5(ctx, ip)
	}
	return v.checkHTTP(ctx, ip)
}

// checkHTTP 通过 HTTP 代理请求探测地址，2xx/3xx 视为可用。
func (v *Validator) checkHTTP(ctx context.Context, ip *model.IpInfo) error {
	dialer := &net.Dialer{
		Timeout:   v.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(ip.ProxyURL()),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       v.timeout,
		TLSHandshakeTimeout:   v.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}

// checkSocks5 通过 SOCKS5 代理与探测地址建立 TCP 连接。
func (v *Validator) checkSocks5(ctx context.Context, ip *model.IpInfo) error {
	var auth *proxy.Auth
	if ip.User != "" && ip.Password != "" {
		auth = &proxy.Auth{User: ip.User, Password: ip.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", ip.Addr(), auth, &net.Dialer{Timeout: v.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", targetAddr(v.target))
	if err != nil {
		return err
	}
	return conn.Close()
}

func targetAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
