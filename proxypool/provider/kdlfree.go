package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
)

const (
	kdlFreeBrand   = "KDLFREE"
	kdlFreeBaseURL = "https://www.kuaidaili.com"
)

var fpsListRe = regexp.MustCompile(`(var|let|const)\s+fpsList\s*=\s*(\[.*?\]);`)

// kdlFreeEntry 对应页面 JS 变量 fpsList 中的一项。
type kdlFreeEntry struct {
	IP   string `json:"ip"`
	Port string `json:"port"`
}

// kdlFree 抓取快代理的免费代理页面，数据在页面脚本的 fpsList 变量里。
type kdlFree struct {
	baseURL   string
	paths     []string
	pageDelay time.Duration
	ttl       time.Duration
	now       func() time.Time
}

// NewKdlFree 创建快代理免费列表供应商。
func NewKdlFree(deps Deps) (Provider, error) {
	s := &kdlFree{
		baseURL:   deps.baseURL(kdlFreeBaseURL),
		paths:     []string{"/free/intr/1/", "/free/intr/2/", "/free/inha/1/", "/free/inha/2/"},
		pageDelay: 2 * time.Second,
		ttl:       freeProxyTTL(deps),
		now:       deps.now(),
	}
	return &cachedProvider{
		brand:   kdlFreeBrand,
		ipCache: deps.IpCache,
		fetch:   s.fetch,
	}, nil
}

func (s *kdlFree) fetch(ctx context.Context, num int) ([]*model.IpInfo, error) {
	l := logger.WithComponent("ProxyPool/Provider")
	l.Info().Str("source", kdlFreeBrand).Msg("Starting scrape...")

	// 每次抓取新建 collector，避免回调重复注册和 URL 去重影响下一轮
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(20 * time.Second)

	expire := s.now().Add(s.ttl).Unix()
	var (
		mu        sync.Mutex
		proxies   []*model.IpInfo
		scrapeErr error
	)

	c.OnResponse(func(r *colly.Response) {
		matches := fpsListRe.FindSubmatch(r.Body)
		if len(matches) < 3 {
			l.Warn().Str("url", r.Request.URL.String()).Msg("Could not find fpsList variable in response body.")
			return
		}

		var entries []kdlFreeEntry
		if err := json.Unmarshal(matches[2], &entries); err != nil {
			l.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("Failed to unmarshal fpsList JSON.")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		for _, e := range entries {
			ip := strings.TrimSpace(e.IP)
			port, err := strconv.Atoi(strings.TrimSpace(e.Port))
			if err != nil || ip == "" {
				l.Warn().Str("ip", ip).Str("port", e.Port).Msg("Failed to parse port, skipping.")
				continue
			}
			proxies = append(proxies, &model.IpInfo{
				IP:            ip,
				Port:          port,
				ExpiredTimeTs: expire,
			})
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Error().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Scrape request failed.")
		mu.Lock()
		scrapeErr = err
		mu.Unlock()
	})

	for i, path := range s.paths {
		mu.Lock()
		enough := len(proxies) >= num
		mu.Unlock()
		if enough || ctx.Err() != nil {
			break
		}
		if i > 0 && s.pageDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.pageDelay):
			}
			if ctx.Err() != nil {
				break
			}
		}
		url := s.baseURL + path
		l.Debug().Str("url", url).Msg("Visiting page...")
		if err := c.Visit(url); err != nil {
			l.Warn().Err(err).Str("url", url).Msg("Visit failed.")
		}
	}
	c.Wait()

	if len(proxies) == 0 {
		if scrapeErr == nil {
			scrapeErr = fmt.Errorf("%w: no proxies found", errUnexpectedResponse)
		}
		return nil, &IpGetError{Brand: kdlFreeBrand, Err: scrapeErr}
	}
	l.Info().Int("count", len(proxies)).Str("source", kdlFreeBrand).Msg("Scrape finished.")
	return proxies, nil
}
