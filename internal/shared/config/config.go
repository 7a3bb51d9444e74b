package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"crawler_nexus/internal/shared/types"
)

// LoadIni 加载 crawler.ini 配置文件，然后用环境变量覆盖密钥类字段。
// 缺失的密钥不会在这里报错，而是在第一次调用供应商接口时失败。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	ApplyEnv(cfg)
	return nil
}

// ApplyEnv 从环境变量读取供应商凭据、签名密钥和 Redis 连接信息。
func ApplyEnv(cfg *types.Config) {
	overrideFromEnv(&cfg.ProxyConf.KdlSecretID, "KDL_SECRET_ID")
	overrideFromEnv(&cfg.ProxyConf.KdlSignature, "KDL_SIGNATURE")
	overrideFromEnv(&cfg.ProxyConf.KdlUserName, "KDL_USER_NAME")
	overrideFromEnv(&cfg.ProxyConf.KdlUserPwd, "KDL_USER_PWD")
	overrideFromEnv(&cfg.ProxyConf.WandouAppKey, "WANDOU_APP_KEY")
	overrideFromEnv(&cfg.ProxyConf.JisuKey, "JISU_KEY")
	overrideFromEnv(&cfg.ProxyConf.JisuCrypto, "JISU_CRYPTO")

	overrideFromEnv(&cfg.RedisConf.Host, "REDIS_DB_HOST")
	overrideFromEnv(&cfg.RedisConf.Password, "REDIS_DB_PWD")
	overrideFromEnvInt(&cfg.RedisConf.Port, "REDIS_DB_PORT")
	overrideFromEnvInt(&cfg.RedisConf.DB, "REDIS_DB_NUM")

	overrideFromEnv(&cfg.BilibiliConf.ImgKey, "BILI_IMG_KEY")
	overrideFromEnv(&cfg.BilibiliConf.SubKey, "BILI_SUB_KEY")
	overrideFromEnv(&cfg.LoginConf.Cookie, "LOGIN_COOKIE")
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
