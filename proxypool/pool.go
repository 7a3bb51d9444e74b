package proxypool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
	"crawler_nexus/proxypool/provider"
)

// ErrInsufficientProxies 表示在重试预算内没能得到任何可用代理。
var ErrInsufficientProxies = errors.New("insufficient proxies")

const (
	refillKey                = "refill"
	defaultMaxRefillAttempts = 3
	defaultRefillTimeout     = 30 * time.Second
)

// Validator 探测一批代理，返回可用的那些。
type Validator interface {
	Validate(ctx context.Context, ips []*model.IpInfo) []*model.IpInfo
}

// Options 控制代理池的容量、校验与补充策略。
type Options struct {
	Size              int
	EnableValidate    bool
	MaxRefillAttempts int
	RefillTimeout     time.Duration
	// RefreshInterval 为 0 时不启动后台补充
	RefreshInterval time.Duration
	Validator       Validator
}

// Pool 维护一小组可用代理，供并发的抓取任务轮流取用。
// 同一时间最多只有一个补充过程在向供应商请求。
type Pool struct {
	providers []provider.Provider
	byBrand   map[string]provider.Provider
	opts      Options

	mu      sync.Mutex
	proxies []*model.IpInfo

	group singleflight.Group
	now   func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New 创建代理池。providers 按顺序使用，前面的不够时才请求后面的。
func New(providers []provider.Provider, opts Options) (*Pool, error) {
	if len(providers) == 0 {
		return nil, errors.New("proxy pool requires at least one provider")
	}
	if opts.Size <= 0 {
		return nil, fmt.Errorf("invalid proxy pool size %d", opts.Size)
	}
	if opts.EnableValidate && opts.Validator == nil {
		return nil, errors.New("validation enabled but no validator given")
	}
	if opts.MaxRefillAttempts <= 0 {
		opts.MaxRefillAttempts = defaultMaxRefillAttempts
	}
	if opts.RefillTimeout <= 0 {
		opts.RefillTimeout = defaultRefillTimeout
	}

	byBrand := make(map[string]provider.Provider, len(providers))
	for _, pr := range providers {
		byBrand[pr.Name()] = pr
	}
	return &Pool{
		providers: providers,
		byBrand:   byBrand,
		opts:      opts,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}, nil
}

// Load 执行初始填充。重试预算用完仍未补满时返回 ErrInsufficientProxies，
// 此时池中已有的代理仍然可用。
func (p *Pool) Load(ctx context.Context) error {
	if err := p.refill(ctx); err != nil {
		return err
	}
	if held := p.Len(); held < p.opts.Size {
		return fmt.Errorf("%w: loaded %d of %d", ErrInsufficientProxies, held, p.opts.Size)
	}
	return nil
}

// GetProxy 从池头取出一个未过期的代理。池为空时阻塞等待一次补充，
// 多个调用方同时发现池空只会触发一次补充。
func (p *Pool) GetProxy(ctx context.Context) (*model.IpInfo, error) {
	for attempt := 0; ; attempt++ {
		ip, pruned, remaining := p.take()
		if len(pruned) > 0 {
			p.discard(ctx, pruned)
			// 库存还够就先返回，缺口在后台补上
			if ip != nil && remaining < p.opts.Size {
				p.topUpAsync()
			}
		}
		if ip != nil {
			return ip, nil
		}
		// 补充成功后又被其他调用方取空
		if attempt >= p.opts.MaxRefillAttempts {
			return nil, ErrInsufficientProxies
		}

		if err := p.refill(ctx); err != nil {
			return nil, err
		}
	}
}

// Len 返回当前持有的代理数（含尚未清理的过期项）。
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Snapshot 返回当前持有代理的副本。
func (p *Pool) Snapshot() []model.IpInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.IpInfo, 0, len(p.proxies))
	for _, ip := range p.proxies {
		out = append(out, *ip)
	}
	return out
}

// Start 启动后台循环，按 RefreshInterval 清理过期代理并补满。
func (p *Pool) Start() {
	if p.opts.RefreshInterval <= 0 {
		return
	}
	p.startOnce.Do(func() {
		l := logger.WithComponent("ProxyPool/Pool")
		l.Info().Str("interval", p.opts.RefreshInterval.String()).Msg("Pool scheduler starting...")
		p.wg.Add(1)
		go p.schedulerLoop()
	})
}

// Stop 停止后台循环并等待进行中的后台补充结束。
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

func (p *Pool) schedulerLoop() {
	defer p.wg.Done()
	l := logger.WithComponent("ProxyPool/Pool")

	ticker := time.NewTicker(p.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pruned := p.prune()
			if len(pruned) > 0 {
				p.discard(context.Background(), pruned)
				l.Debug().Int("count", len(pruned)).Msg("Pruned expired proxies.")
			}
			if p.Len() < p.opts.Size {
				if err := p.refill(context.Background()); err != nil {
					l.Warn().Err(err).Msg("Scheduled refill failed.")
				}
			}
		case <-p.stopChan:
			l.Info().Msg("Stop signal received. Shutting down pool scheduler.")
			return
		}
	}
}

// take 清理过期项并弹出池头。
func (p *Pool) take() (ip *model.IpInfo, pruned []*model.IpInfo, remaining int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pruned = p.pruneLocked()
	if len(p.proxies) > 0 {
		ip = p.proxies[0]
		p.proxies[0] = nil
		p.proxies = p.proxies[1:]
	}
	return ip, pruned, len(p.proxies)
}

func (p *Pool) prune() []*model.IpInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pruneLocked()
}

func (p *Pool) pruneLocked() []*model.IpInfo {
	now := p.now()
	var pruned []*model.IpInfo
	kept := make([]*model.IpInfo, 0, len(p.proxies))
	for _, ip := range p.proxies {
		if ip.IsExpired(now) {
			pruned = append(pruned, ip)
			continue
		}
		kept = append(kept, ip)
	}
	p.proxies = kept
	return pruned
}

// discard 把不可用的代理从对应供应商的缓存中移除。
func (p *Pool) discard(ctx context.Context, ips []*model.IpInfo) {
	l := logger.WithComponent("ProxyPool/Pool")
	for _, ip := range ips {
		pr, ok := p.byBrand[ip.Brand]
		if !ok {
			continue
		}
		if err := pr.Discard(ctx, ip); err != nil {
			l.Warn().Err(err).Str("proxy", ip.String()).Msg("Failed to discard proxy.")
		}
	}
}

func (p *Pool) topUpAsync() {
	select {
	case <-p.stopChan:
		// 已停止的池不再请求供应商
		return
	default:
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.refill(context.Background()); err != nil {
			l := logger.WithComponent("ProxyPool/Pool")
			l.Warn().Err(err).Msg("Background top-up failed.")
		}
	}()
}

// refill 合并并发的补充请求。调用方可以通过 ctx 放弃等待，
// 补充本身在独立的 context 上运行，受 RefillTimeout 限制。
func (p *Pool) refill(ctx context.Context) error {
	ch := p.group.DoChan(refillKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.RefillTimeout)
		defer cancel()
		return nil, p.doRefill(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) doRefill(ctx context.Context) error {
	l := logger.WithComponent("ProxyPool/Pool")

	for attempt := 1; attempt <= p.opts.MaxRefillAttempts; attempt++ {
		deficit := p.opts.Size - p.Len()
		if deficit <= 0 {
			return nil
		}

		candidates, err := p.fetch(ctx, deficit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			l.Warn().Int("attempt", attempt).Msg("Providers returned no new proxies.")
			break
		}

		accepted := candidates
		if p.opts.EnableValidate {
			accepted = p.opts.Validator.Validate(ctx, candidates)
			if rejected := subtract(candidates, accepted); len(rejected) > 0 {
				l.Info().Int("rejected", len(rejected)).Int("attempt", attempt).Msg("Discarding proxies that failed validation.")
				p.discard(ctx, rejected)
			}
		}
		p.add(accepted)
		l.Info().Int("added", len(accepted)).Int("size", p.Len()).Int("attempt", attempt).Msg("Pool refilled.")
	}

	held := p.Len()
	if held == 0 {
		return ErrInsufficientProxies
	}
	if held < p.opts.Size {
		l.Warn().Int("size", held).Int("target", p.opts.Size).Msg("Pool partially refilled.")
	}
	return nil
}

// fetch 依次向供应商请求，直到凑够 deficit 个池中尚未持有的代理。
// 供应商总是优先返回缓存中的代理，其中可能包含池里已经持有的，所以按已持有数量多要一些再去重。
func (p *Pool) fetch(ctx context.Context, deficit int) ([]*model.IpInfo, error) {
	held := p.heldKeys()
	heldByBrand := make(map[string]int)
	for _, brand := range held {
		heldByBrand[brand]++
	}

	var out []*model.IpInfo
	for _, pr := range p.providers {
		need := deficit - len(out)
		if need <= 0 {
			break
		}
		ips, err := pr.GetProxy(ctx, need+heldByBrand[pr.Name()])
		if err != nil {
			return nil, err
		}
		now := p.now()
		for _, ip := range ips {
			if len(out) >= deficit {
				break
			}
			if _, dup := held[ip.Key()]; dup || ip.IsExpired(now) {
				continue
			}
			held[ip.Key()] = ip.Brand
			out = append(out, ip)
		}
	}
	return out, nil
}

func (p *Pool) heldKeys() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make(map[string]string, len(p.proxies))
	for _, ip := range p.proxies {
		keys[ip.Key()] = ip.Brand
	}
	return keys
}

func (p *Pool) add(ips []*model.IpInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append(p.proxies, ips...)
}

func subtract(all, keep []*model.IpInfo) []*model.IpInfo {
	kept := make(map[*model.IpInfo]struct{}, len(keep))
	for _, ip := range keep {
		kept[ip] = struct{}{}
	}
	var out []*model.IpInfo
	for _, ip := range all {
		if _, ok := kept[ip]; !ok {
			out = append(out, ip)
		}
	}
	return out
}
