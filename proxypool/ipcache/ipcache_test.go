package ipcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawler_nexus/internal/cache"
	"crawler_nexus/proxypool/model"
)

func TestIpCache_SetAndLoad(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(time.Minute)
	now := time.Now()
	c := New(store).WithClock(func() time.Time { return now })

	a := &model.IpInfo{IP: "1.1.1.1", Port: 80, Brand: "WANDOUHTTP", ExpiredTimeTs: now.Add(time.Hour).Unix()}
	b := &model.IpInfo{IP: "2.2.2.2", Port: 80, Brand: "WANDOUHTTP", ExpiredTimeTs: now.Add(time.Hour).Unix()}
	other := &model.IpInfo{IP: "3.3.3.3", Port: 80, User: "u", Password: "p", Brand: "JISUHTTP", ExpiredTimeTs: now.Add(time.Hour).Unix()}

	for _, ip := range []*model.IpInfo{b, a, other} {
		stored, err := c.SetIP(ctx, ip)
		require.NoError(t, err)
		assert.True(t, stored)
	}

	got, err := c.LoadAllIP(ctx, "WANDOUHTTP")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])

	jisu, err := c.LoadAllIP(ctx, "JISUHTTP")
	require.NoError(t, err)
	require.Len(t, jisu, 1)
	assert.Equal(t, "u", jisu[0].User)
}

func TestIpCache_SkipsAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(time.Minute)
	now := time.Now()
	c := New(store).WithClock(func() time.Time { return now })

	stale := &model.IpInfo{IP: "1.1.1.1", Port: 80, Brand: "B", ExpiredTimeTs: now.Add(-time.Second).Unix()}
	stored, err := c.SetIP(ctx, stale)
	require.NoError(t, err)
	assert.False(t, stored)

	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// 缓存里还活着、但记录本身的 expiredAt 已过的条目也要过滤掉
func TestIpCache_LoadFiltersByRecordExpiry(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(time.Minute)
	now := time.Now()
	c := New(store).WithClock(func() time.Time { return now })

	ip := &model.IpInfo{IP: "1.1.1.1", Port: 80, Brand: "B", ExpiredTimeTs: now.Add(30 * time.Second).Unix()}
	_, err := c.SetIP(ctx, ip)
	require.NoError(t, err)

	later := New(store).WithClock(func() time.Time { return now.Add(time.Minute) })
	// 绕过缓存 TTL: 直接以更长的 TTL 重写原始字节
	raw, ok, err := store.Get(ctx, ip.Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Set(ctx, ip.Key(), raw, time.Hour))

	got, err := later.LoadAllIP(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIpCache_SkipsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(time.Minute)
	c := New(store)

	require.NoError(t, store.Set(ctx, "B_garbage", []byte("not-json"), time.Minute))
	ip := &model.IpInfo{IP: "1.1.1.1", Port: 80, Brand: "B", ExpiredTimeTs: time.Now().Add(time.Hour).Unix()}
	_, err := c.SetIP(ctx, ip)
	require.NoError(t, err)

	got, err := c.LoadAllIP(ctx, "B")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.1.1.1", got[0].IP)
}

func TestIpCache_Delete(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(time.Minute)
	c := New(store)

	ip := &model.IpInfo{IP: "1.1.1.1", Port: 80, Brand: "B", ExpiredTimeTs: time.Now().Add(time.Hour).Unix()}
	_, err := c.SetIP(ctx, ip)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, ip))

	got, err := c.LoadAllIP(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIpCache_LoadIgnoresOtherBrandsMatchingPrefix(t *testing.T) {
	ctx := context.Background()
	store := cache.NewLocalCache(time.Minute)
	c := New(store)

	own := &model.IpInfo{IP: "1.1.1.1", Port: 80, Brand: "KDLFREE", ExpiredTimeTs: time.Now().Add(time.Hour).Unix()}
	// 账号字段里带有 "KDLFREE_"，key 会被子串匹配命中
	foreign := &model.IpInfo{IP: "2.2.2.2", Port: 80, User: "KDLFREE_user", Password: "p", Brand: "JISUHTTP", ExpiredTimeTs: time.Now().Add(time.Hour).Unix()}
	for _, ip := range []*model.IpInfo{own, foreign} {
		_, err := c.SetIP(ctx, ip)
		require.NoError(t, err)
	}

	keys, err := store.Keys(ctx, "KDLFREE_*")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	got, err := c.LoadAllIP(ctx, "KDLFREE")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.1.1.1", got[0].IP)
}
