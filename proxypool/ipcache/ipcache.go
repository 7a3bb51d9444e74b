package ipcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"crawler_nexus/internal/cache"
	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
)

// IpCache 在通用过期缓存之上按供应商品牌存取 IpInfo。
type IpCache struct {
	client cache.Cache
	now    func() time.Time
}

// New 创建 IpCache。client 由调用方持有并负责关闭。
func New(client cache.Cache) *IpCache {
	return &IpCache{client: client, now: time.Now}
}

// WithClock 替换时钟，测试使用。
func (c *IpCache) WithClock(now func() time.Time) *IpCache {
	c.now = now
	return c
}

// SetIP 以 expiredAt - now 作为 TTL 写入一条代理记录。
// 已经过期的记录不会写入，返回 false。
func (c *IpCache) SetIP(ctx context.Context, ip *model.IpInfo) (bool, error) {
	ttl := ip.TTL(c.now())
	if ttl <= 0 {
		return false, nil
	}
	raw, err := json.Marshal(ip)
	if err != nil {
		return false, fmt.Errorf("marshal ip %s: %w", ip.Key(), err)
	}
	if err := c.client.Set(ctx, ip.Key(), raw, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// LoadAllIP 返回某个品牌下所有未过期的代理，按 key 排序。
// 除缓存自身的过期外，这里再按 expiredAt 过滤一次：一批记录中可能有临近过期的。
func (c *IpCache) LoadAllIP(ctx context.Context, brand string) ([]*model.IpInfo, error) {
	l := logger.WithComponent("ProxyPool/IpCache")

	keys, err := c.client.Keys(ctx, brand+"_*")
	if err != nil {
		return nil, fmt.Errorf("list ip keys for %s: %w", brand, err)
	}

	now := c.now()
	ips := make([]*model.IpInfo, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := c.client.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load ip %s: %w", key, err)
		}
		if !ok {
			continue
		}

		var ip model.IpInfo
		if err := json.Unmarshal(raw, &ip); err != nil {
			l.Warn().Err(err).Str("key", key).Msg("Skipping undecodable ip cache entry.")
			continue
		}
		// 本地缓存按子串匹配 key，其他品牌的账号字段里也可能出现 "<brand>_"
		if ip.Brand != brand || ip.IsExpired(now) {
			continue
		}
		ips = append(ips, &ip)
	}

	sort.Slice(ips, func(i, j int) bool {
		return ips[i].Key() < ips[j].Key()
	})
	return ips, nil
}

// Delete 删除一条代理记录。
func (c *IpCache) Delete(ctx context.Context, ip *model.IpInfo) error {
	return c.client.Delete(ctx, ip.Key())
}
