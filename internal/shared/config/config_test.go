package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawler_nexus/internal/shared/types"
)

const sampleIni = `
[log]
level = debug

[cache]
type = redis
cron_interval_seconds = 2

[redis]
host = 10.0.0.5
port = 6380

[proxy]
enable = true
provider = wandouhttp
pool_count = 4
enable_validate = false
wandou_app_key = from-file
`

func TestLoadIni_MapsSectionsOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawler.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleIni), 0644))

	cfg := types.Default()
	require.NoError(t, LoadIni(cfg, path))

	assert.Equal(t, "debug", cfg.LogConf.Level)
	assert.Equal(t, "redis", cfg.CacheConf.Type)
	assert.Equal(t, 2, cfg.CacheConf.CronIntervalSeconds)
	assert.Equal(t, "10.0.0.5", cfg.RedisConf.Host)
	assert.Equal(t, 6380, cfg.RedisConf.Port)
	assert.True(t, cfg.ProxyConf.Enable)
	assert.Equal(t, "wandouhttp", cfg.ProxyConf.ProviderName)
	assert.Equal(t, 4, cfg.ProxyConf.PoolCount)
	assert.False(t, cfg.ProxyConf.EnableValidate)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 3, cfg.ProxyConf.MaxRefillAttempts)
	assert.Equal(t, "https://echo.apifox.cn/", cfg.ValidatorConf.TargetURL)
}

func TestLoadIni_EnvOverridesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawler.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleIni), 0644))

	t.Setenv("WANDOU_APP_KEY", "from-env")
	t.Setenv("REDIS_DB_PORT", "7000")
	t.Setenv("BILI_IMG_KEY", "img")

	cfg := types.Default()
	require.NoError(t, LoadIni(cfg, path))

	assert.Equal(t, "from-env", cfg.ProxyConf.WandouAppKey)
	assert.Equal(t, 7000, cfg.RedisConf.Port)
	assert.Equal(t, "img", cfg.BilibiliConf.ImgKey)
}

func TestLoadIni_MissingFile(t *testing.T) {
	err := LoadIni(types.Default(), filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}
