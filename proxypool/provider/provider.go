package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/internal/shared/types"
	"crawler_nexus/proxypool/ipcache"
	"crawler_nexus/proxypool/model"
)

// Provider 是代理来源的统一接口。所有实现都先读 IP 缓存，不足时才向供应商请求。
type Provider interface {
	// Name 返回品牌名，同时是 IP 缓存 key 的前缀。
	Name() string

	// GetProxy 返回最多 num 个未过期的代理。供应商失败时返回 *IpGetError，不会返回空列表当作成功。
	GetProxy(ctx context.Context, num int) ([]*model.IpInfo, error)

	// Discard 把一个代理从 IP 缓存中移除，之后的 GetProxy 不会再返回它。
	Discard(ctx context.Context, ip *model.IpInfo) error
}

var (
	ErrUnknownProvider    = errors.New("unknown proxy provider")
	ErrMissingCredential  = errors.New("proxy provider credential not configured")
	errUnexpectedResponse = errors.New("unexpected vendor response")
)

// IpGetError 表示供应商未能返回代理。
type IpGetError struct {
	Brand string
	Code  int
	Msg   string
	Err   error
}

func (e *IpGetError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "get ip from %s failed", e.Brand)
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code: %d)", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IpGetError) Unwrap() error { return e.Err }

// fetchFunc 向供应商请求 num 个新代理。
type fetchFunc func(ctx context.Context, num int) ([]*model.IpInfo, error)

// cachedProvider 实现了所有供应商共享的缓存优先算法，具体供应商只提供 fetch。
type cachedProvider struct {
	brand    string
	maxBatch int
	ipCache  *ipcache.IpCache
	fetch    fetchFunc
}

func (p *cachedProvider) Name() string { return p.brand }

func (p *cachedProvider) GetProxy(ctx context.Context, num int) ([]*model.IpInfo, error) {
	if num <= 0 {
		return []*model.IpInfo{}, nil
	}
	l := logger.WithComponent("ProxyPool/Provider")

	cached, err := p.ipCache.LoadAllIP(ctx, p.brand)
	if err != nil {
		// 缓存不可用时直接走供应商
		l.Warn().Err(err).Str("brand", p.brand).Msg("Failed to load cached ips, falling back to vendor.")
		cached = nil
	}
	if len(cached) >= num {
		return cached[:num], nil
	}

	deficit := num - len(cached)
	request := deficit
	if p.maxBatch > 0 && request > p.maxBatch {
		request = p.maxBatch
	}
	l.Info().Str("brand", p.brand).Int("cached", len(cached)).Int("request", request).Msg("Requesting proxies from vendor.")

	fetched, err := p.fetch(ctx, request)
	if err != nil {
		var ipErr *IpGetError
		if errors.As(err, &ipErr) {
			return nil, err
		}
		return nil, &IpGetError{Brand: p.brand, Err: err}
	}

	result := make([]*model.IpInfo, 0, len(cached)+len(fetched))
	result = append(result, cached...)
	added := 0
	for _, ip := range fetched {
		if added >= deficit {
			break
		}
		ip.Brand = p.brand
		stored, err := p.ipCache.SetIP(ctx, ip)
		if err != nil {
			l.Warn().Err(err).Str("ip", ip.Addr()).Msg("Failed to store ip in cache.")
		} else if !stored {
			l.Debug().Str("ip", ip.Addr()).Msg("Vendor returned an already expired ip, skipping.")
			continue
		}
		result = append(result, ip)
		added++
	}
	return result, nil
}

func (p *cachedProvider) Discard(ctx context.Context, ip *model.IpInfo) error {
	return p.ipCache.Delete(ctx, ip)
}

// Deps 是构造供应商所需的依赖。
type Deps struct {
	Conf    types.ProxyConf
	IpCache *ipcache.IpCache

	// Client 为空时使用默认客户端。
	Client *req.Client
	// BaseURL 覆盖供应商默认地址，测试时指向 httptest。
	BaseURL string
	// Now 为空时使用 time.Now。
	Now func() time.Time
}

func (d Deps) client() *req.Client {
	if d.Client != nil {
		return d.Client
	}
	return req.C().
		SetTimeout(15 * time.Second).
		SetUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
}

func (d Deps) baseURL(def string) string {
	if d.BaseURL != "" {
		return strings.TrimRight(d.BaseURL, "/")
	}
	return def
}

func (d Deps) now() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

// Factory 根据依赖构造一个供应商。
type Factory func(deps Deps) (Provider, error)

var factories = map[string]Factory{
	"kuaidaili":  NewKuaidaili,
	"wandouhttp": NewWandou,
	"jisuhttp":   NewJisu,
	"ip3366":     NewIP3366,
	"kdlfree":    NewKdlFree,
}

// New 按配置名称构造供应商。
func New(name string, deps Deps) (Provider, error) {
	factory, ok := factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if deps.IpCache == nil {
		return nil, errors.New("provider requires an ip cache")
	}
	return factory(deps)
}

// Names 返回所有已注册的供应商名称。
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// 供应商返回的过期时间都是北京时间
var cst = time.FixedZone("CST", 8*3600)

const expireLayout = "2006-01-02 15:04:05"

func parseExpire(s string) (int64, error) {
	t, err := time.ParseInLocation(expireLayout, strings.TrimSpace(s), cst)
	if err != nil {
		return 0, fmt.Errorf("parse expire time %q: %w", s, err)
	}
	return t.Unix(), nil
}

// flexInt 兼容供应商把端口写成字符串或数字两种情况。
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// getJSON 发送 GET 请求并把响应体解码到 out。
func getJSON(ctx context.Context, client *req.Client, url string, params map[string]string, out any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	if !resp.IsSuccessState() {
		return fmt.Errorf("%w: status %d from %s", errUnexpectedResponse, resp.StatusCode, url)
	}
	if err := json.Unmarshal(resp.Bytes(), out); err != nil {
		return fmt.Errorf("%w: decode body from %s: %v", errUnexpectedResponse, url, err)
	}
	return nil
}
