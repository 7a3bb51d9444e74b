package types

// LogConf contains logging specific configuration
type LogConf struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // "console" (默认) 或 "json"
}

// CacheConf 选择缓存实现
type CacheConf struct {
	Type                string `ini:"type"`                  // "memory" 或 "redis"
	CronIntervalSeconds int    `ini:"cron_interval_seconds"` // 本地缓存过期清理间隔
}

// RedisConf 远程缓存连接信息
type RedisConf struct {
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	Password string `ini:"password"`
	DB       int    `ini:"db"`
}

// ProxyConf 代理池与代理供应商配置
type ProxyConf struct {
	Enable               bool   `ini:"enable"`
	ProviderName         string `ini:"provider"` // kuaidaili, wandouhttp, jisuhttp, ip3366, kdlfree
	PoolCount            int    `ini:"pool_count"`
	EnableValidate       bool   `ini:"enable_validate"`
	MaxRefillAttempts    int    `ini:"max_refill_attempts"`
	RefillTimeoutSeconds int    `ini:"refill_timeout_seconds"`
	RefreshIntervalSec   int    `ini:"refresh_interval_seconds"`
	FreeProxyTTLSeconds  int    `ini:"free_proxy_ttl_seconds"`

	// 供应商凭据，通常通过环境变量覆盖
	KdlSecretID  string `ini:"kdl_secret_id"`
	KdlSignature string `ini:"kdl_signature"`
	KdlUserName  string `ini:"kdl_user_name"`
	KdlUserPwd   string `ini:"kdl_user_pwd"`
	WandouAppKey string `ini:"wandou_app_key"`
	JisuKey      string `ini:"jisu_key"`
	JisuCrypto   string `ini:"jisu_crypto"`
	JisuMinutes  int    `ini:"jisu_minutes"`
}

// ValidatorConf 代理探活配置
type ValidatorConf struct {
	TargetURL      string `ini:"target_url"`
	TimeoutSeconds int    `ini:"timeout_seconds"`
	Concurrency    int    `ini:"concurrency"`
}

// BilibiliConf WBI 签名密钥
type BilibiliConf struct {
	ImgKey string `ini:"img_key"`
	SubKey string `ini:"sub_key"`
}

// LoginConf 登录方式配置
type LoginConf struct {
	Type   string `ini:"type"` // qrcode, phone, cookie
	Cookie string `ini:"cookie"`
}

// Config 是项目的统一配置结构体
type Config struct {
	LogConf       `ini:"log"`
	CacheConf     `ini:"cache"`
	RedisConf     `ini:"redis"`
	ProxyConf     `ini:"proxy"`
	ValidatorConf `ini:"validator"`
	BilibiliConf  `ini:"bilibili"`
	LoginConf     `ini:"login"`
}

// Default 返回带有默认值的配置，LoadIni 在其上覆盖文件中的值。
func Default() *Config {
	return &Config{
		LogConf:   LogConf{Level: "info", Format: "console"},
		CacheConf: CacheConf{Type: "memory", CronIntervalSeconds: 10},
		RedisConf: RedisConf{Host: "127.0.0.1", Port: 6379},
		ProxyConf: ProxyConf{
			ProviderName:         "kuaidaili",
			PoolCount:            2,
			EnableValidate:       true,
			MaxRefillAttempts:    3,
			RefillTimeoutSeconds: 30,
			FreeProxyTTLSeconds:  300,
			JisuMinutes:          30,
		},
		ValidatorConf: ValidatorConf{
			TargetURL:      "https://echo.apifox.cn/",
			TimeoutSeconds: 10,
			Concurrency:    5,
		},
		LoginConf: LoginConf{Type: "qrcode"},
	}
}
