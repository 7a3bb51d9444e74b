package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawler_nexus/internal/shared/types"
)

// fakeClock 是可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestLocalCache(interval time.Duration) (*LocalCache, *fakeClock) {
	clock := newFakeClock()
	c := NewLocalCache(interval)
	c.now = clock.Now
	return c, clock
}

func TestLocalCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestLocalCache(time.Hour)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), 10*time.Second))

	got, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), got)
}

func TestLocalCache_MissIsNotAnError(t *testing.T) {
	c, _ := newTestLocalCache(time.Hour)

	got, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestLocalCache_ExpiredKeyIsAbsentAndLazilyDeleted(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLocalCache(time.Hour)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Second))
	clock.Advance(2 * time.Second)

	_, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.size(), "expired entry should be removed on access")
}

func TestLocalCache_ExpiresExactlyAtDeadline(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLocalCache(time.Hour)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Second))
	clock.Advance(time.Second)

	_, ok, _ := c.Get(ctx, "key")
	assert.False(t, ok, "now >= expireAt means absent")
}

// cron_interval=2, ttl=1: 1.5 秒后即使清理协程还没运行，Get 也必须返回 absent
func TestLocalCache_LazyExpiryBeforeSweep(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLocalCache(2 * time.Second)
	c.Start()
	defer c.Stop()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	clock.Advance(1500 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalCache_SetOverwritesAndResetsTTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLocalCache(time.Hour)

	require.NoError(t, c.Set(ctx, "key", []byte("old"), 2*time.Second))
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "key", []byte("new"), 2*time.Second))
	clock.Advance(1500 * time.Millisecond)

	got, ok, _ := c.Get(ctx, "key")
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestLocalCache_NonPositiveTTLDeletes(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestLocalCache(time.Hour)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))
	require.NoError(t, c.Set(ctx, "key", []byte("value"), 0))

	_, ok, _ := c.Get(ctx, "key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.size())
}

func TestLocalCache_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestLocalCache(time.Hour)

	buf := []byte("value")
	require.NoError(t, c.Set(ctx, "key", buf, time.Minute))
	buf[0] = 'X'

	got, _, _ := c.Get(ctx, "key")
	assert.Equal(t, []byte("value"), got)
}

func TestLocalCache_Keys(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLocalCache(time.Hour)

	require.NoError(t, c.Set(ctx, "WANDOUHTTP_1.1.1.1_80__", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "WANDOUHTTP_2.2.2.2_80__", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "JISUHTTP_3.3.3.3_80_u_p", []byte("c"), time.Minute))
	require.NoError(t, c.Set(ctx, "WANDOUHTTP_9.9.9.9_80__", []byte("d"), time.Second))
	clock.Advance(2 * time.Second)

	all, err := c.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"JISUHTTP_3.3.3.3_80_u_p",
		"WANDOUHTTP_1.1.1.1_80__",
		"WANDOUHTTP_2.2.2.2_80__",
	}, all, "expired keys are not live")

	wandou, err := c.Keys(ctx, "WANDOUHTTP_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"WANDOUHTTP_1.1.1.1_80__", "WANDOUHTTP_2.2.2.2_80__"}, wandou)

	// 不含通配符的 pattern 也是子串匹配，不是正则
	sub, err := c.Keys(ctx, "3.3.3")
	require.NoError(t, err)
	assert.Equal(t, []string{"JISUHTTP_3.3.3.3_80_u_p"}, sub)

	none, err := c.Keys(ctx, "WANDOU.*")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalCache_BackgroundSweepRemovesWithoutGet(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(20 * time.Millisecond)
	c.Start()
	defer c.Stop()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), time.Hour))

	assert.Eventually(t, func() bool {
		return c.size() == 1
	}, time.Second, 10*time.Millisecond, "sweep should evict the expired key")

	keys, err := c.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)
}

func TestLocalCache_StopIsIdempotent(t *testing.T) {
	c := NewLocalCache(10 * time.Millisecond)
	c.Start()
	c.Stop()
	c.Stop()
	require.NoError(t, c.Close())

	// 从未 Start 的实例也可以安全关闭
	NewLocalCache(0).Stop()
}

func TestLocalCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(5 * time.Millisecond)
	c.Start()
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			for j := 0; j < 200; j++ {
				_ = c.Set(ctx, key, []byte{byte(j)}, time.Millisecond*time.Duration(j%3+1))
				_, _, _ = c.Get(ctx, key)
				_, _ = c.Keys(ctx, "*")
			}
		}(i)
	}
	wg.Wait()
}

func TestNew_SelectsImplementation(t *testing.T) {
	c, err := New(types.CacheConf{Type: TypeMemory}, types.RedisConf{})
	require.NoError(t, err)
	_, isLocal := c.(*LocalCache)
	assert.True(t, isLocal)
	require.NoError(t, c.Close())

	_, err = New(types.CacheConf{Type: "memcached"}, types.RedisConf{})
	assert.Error(t, err)

	_, err = New(types.CacheConf{Type: TypeRedis}, types.RedisConf{})
	assert.ErrorIs(t, err, ErrEmptyAddress)
}
