package provider

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/imroc/req/v3"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
)

const (
	ip3366Brand   = "IP3366"
	ip3366BaseURL = "http://www.ip3366.net"
)

// ip3366 抓取 www.ip3366.net 的免费代理列表。
// 免费代理没有过期时间，按 FreeProxyTTLSeconds 合成一个。
type ip3366 struct {
	client  *req.Client
	baseURL string
	pages   int
	ttl     time.Duration
	now     func() time.Time
}

// NewIP3366 创建 ip3366 免费代理供应商。
func NewIP3366(deps Deps) (Provider, error) {
	s := &ip3366{
		client:  deps.client(),
		baseURL: deps.baseURL(ip3366BaseURL),
		pages:   2,
		ttl:     freeProxyTTL(deps),
		now:     deps.now(),
	}
	return &cachedProvider{
		brand:   ip3366Brand,
		ipCache: deps.IpCache,
		fetch:   s.fetch,
	}, nil
}

func freeProxyTTL(deps Deps) time.Duration {
	if deps.Conf.FreeProxyTTLSeconds > 0 {
		return time.Duration(deps.Conf.FreeProxyTTLSeconds) * time.Second
	}
	return 5 * time.Minute
}

func (s *ip3366) fetch(ctx context.Context, num int) ([]*model.IpInfo, error) {
	l := logger.WithComponent("ProxyPool/Provider")
	l.Info().Str("source", ip3366Brand).Msg("Starting scrape...")

	expire := s.now().Add(s.ttl).Unix()
	var proxies []*model.IpInfo
	var lastErr error
	// 分页是 /?stype=1&page=1, /?stype=1&page=2 ...
	for page := 1; page <= s.pages && len(proxies) < num; page++ {
		url := fmt.Sprintf("%s/?stype=1&page=%d", s.baseURL, page)
		l.Debug().Str("url", url).Msg("Scraping page...")

		resp, err := s.client.R().
			SetContext(ctx).
			SetHeader("Accept-Language", "en-US,en;q=0.9").
			Get(url)
		if err != nil {
			l.Warn().Err(err).Str("url", url).Msg("Failed to fetch page.")
			lastErr = err
			continue
		}
		if resp.StatusCode != 200 {
			l.Warn().Int("status_code", resp.StatusCode).Str("url", url).Msg("Received non-200 status code.")
			lastErr = fmt.Errorf("%w: status %d from %s", errUnexpectedResponse, resp.StatusCode, url)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Bytes()))
		if err != nil {
			l.Warn().Err(err).Str("url", url).Msg("Failed to parse HTML document.")
			lastErr = err
			continue
		}

		doc.Find("table.table-bordered tbody tr").Each(func(_ int, sel *goquery.Selection) {
			cells := sel.Find("td")
			ip := strings.TrimSpace(cells.Eq(0).Text())
			portStr := strings.TrimSpace(cells.Eq(1).Text())
			proxyType := strings.ToUpper(strings.TrimSpace(cells.Eq(3).Text()))
			if !strings.Contains(proxyType, "HTTP") {
				return
			}

			port, err := strconv.Atoi(portStr)
			if err != nil || ip == "" {
				l.Warn().Str("ip", ip).Str("port", portStr).Msg("Failed to parse IP/port, skipping row.")
				return
			}
			proxies = append(proxies, &model.IpInfo{
				IP:            ip,
				Port:          port,
				ExpiredTimeTs: expire,
			})
		})
	}

	if len(proxies) == 0 && lastErr != nil {
		return nil, &IpGetError{Brand: ip3366Brand, Err: lastErr}
	}
	l.Info().Int("count", len(proxies)).Str("source", ip3366Brand).Msg("Scrape finished.")
	return proxies, nil
}
