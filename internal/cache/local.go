package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"crawler_nexus/internal/shared/logger"
)

type localEntry struct {
	value    []byte
	expireAt time.Time
}

// LocalCache 是进程内的过期缓存。
// 过期条目在访问时惰性删除，另有后台协程按 cronInterval 周期清理，
// 清理协程的生命周期由 Start/Stop 显式控制。
type LocalCache struct {
	mu           sync.RWMutex
	items        map[string]localEntry
	cronInterval time.Duration
	now          func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLocalCache 创建本地缓存。cronInterval <= 0 时使用 DefaultCronInterval。
func NewLocalCache(cronInterval time.Duration) *LocalCache {
	if cronInterval <= 0 {
		cronInterval = DefaultCronInterval
	}
	return &LocalCache{
		items:        make(map[string]localEntry),
		cronInterval: cronInterval,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动后台清理协程。重复调用无副作用。
func (c *LocalCache) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.cronLoop()
	})
}

func (c *LocalCache) cronLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cronInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.clear(); n > 0 {
				l := logger.WithComponent("Cache/Local")
				l.Debug().Int("evicted", n).Msg("Expired entries swept.")
			}
		case <-c.stopChan:
			return
		}
	}
}

// Stop 停止清理协程并等待其退出。可以重复调用，也可以在未 Start 时调用。
func (c *LocalCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// Close 实现 Cache 接口，等同于 Stop。
func (c *LocalCache) Close() error {
	c.Stop()
	return nil
}

// Get 返回未过期的值；过期条目会被顺带删除。
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, found := c.items[key]
	c.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	if !c.now().Before(entry.expireAt) {
		c.mu.Lock()
		// 加写锁期间可能已被 Set 覆盖，重新检查
		if current, ok := c.items[key]; ok && !c.now().Before(current.expireAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return cloneBytes(entry.value), true, nil
}

// Set 覆盖写入，过期时间为调用时刻加 ttl。
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.items, key)
		return nil
	}
	c.items[key] = localEntry{
		value:    cloneBytes(value),
		expireAt: c.now().Add(ttl),
	}
	return nil
}

// Delete 删除一个 key，不存在时不报错。
func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Keys 返回匹配 pattern 的存活 key，按字典序排列。
// 注意：这里不是 glob。"*" 匹配全部；其余 pattern 去掉 "*" 后按子串匹配。
func (c *LocalCache) Keys(_ context.Context, pattern string) ([]string, error) {
	matchAll := pattern == "*"
	needle := strings.ReplaceAll(pattern, "*", "")
	now := c.now()

	c.mu.RLock()
	keys := make([]string, 0, len(c.items))
	for k, entry := range c.items {
		if !now.Before(entry.expireAt) {
			continue
		}
		if matchAll || strings.Contains(k, needle) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// clear 删除所有已过期的条目，返回删除数量。
func (c *LocalCache) clear() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, entry := range c.items {
		if !now.Before(entry.expireAt) {
			delete(c.items, k)
			evicted++
		}
	}
	return evicted
}

// size 返回物理存储的条目数（包括尚未清理的过期条目）。
func (c *LocalCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
