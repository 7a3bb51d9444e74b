package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crawler_nexus/internal/cache"
	"crawler_nexus/internal/crawlclient"
	"crawler_nexus/internal/session"
	"crawler_nexus/internal/shared/config"
	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/internal/shared/types"
	"crawler_nexus/internal/sign"
	"crawler_nexus/internal/urlinfo"
	"crawler_nexus/proxypool"
	"crawler_nexus/proxypool/ipcache"
	"crawler_nexus/proxypool/provider"
	"crawler_nexus/proxypool/validator"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	platform := flag.String("platform", "bilibili", "Platform: bilibili, douyin, kuaishou, xhs")
	creator := flag.String("creator", "", "Creator homepage URL or id to parse")
	video := flag.String("video", "", "Video/note URL or id to parse")
	proxies := flag.Int("proxies", 0, "Number of proxies to take from the pool")
	fetch := flag.String("fetch", "", "Absolute URL to request through the proxy pool")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "crawler.ini")

	// 1. 加载配置
	cfg := types.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 解析链接
	if *video != "" {
		info, err := urlinfo.Video(*platform, *video)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to parse video")
		} else {
			logger.Info().Str("platform", *platform).Str("id", info.ID).Str("type", info.Type).Msg("Parsed video")
		}
	}
	if *creator != "" {
		info, err := urlinfo.Creator(*platform, *creator)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to parse creator")
		} else {
			logger.Info().Str("platform", *platform).Str("id", info.ID).Msg("Parsed creator")
		}
	}

	// 3. 缓存与代理池
	store, err := cache.New(cfg.CacheConf, cfg.RedisConf)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create cache")
	}
	defer store.Close()

	var pool *proxypool.Pool
	if cfg.ProxyConf.Enable {
		pool, err = buildPool(cfg, store)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create proxy pool")
		}
		if err := pool.Load(ctx); err != nil {
			logger.Error().Err(err).Msg("Initial proxy pool load failed")
		}
		pool.Start()
		defer pool.Stop()

		for i := 0; i < *proxies; i++ {
			ip, err := pool.GetProxy(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to get proxy")
				break
			}
			logger.Info().Str("proxy", ip.String()).Msg("Got proxy")
		}
	}

	// 4. 签名器与会话
	signers := sign.NewRegistry()
	if cfg.BilibiliConf.ImgKey != "" || cfg.BilibiliConf.SubKey != "" {
		wbi, err := sign.NewWbiSigner(cfg.BilibiliConf.ImgKey, cfg.BilibiliConf.SubKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid bilibili wbi keys")
		}
		signers.Register(wbi)
	}

	var sess *session.Session
	loginType, err := session.ParseLoginType(cfg.LoginConf.Type)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid login type")
	}
	if loginType == session.LoginCookie {
		login := session.NewCookieLogin(*platform, loginType, cfg.LoginConf.Cookie)
		if err := login.Begin(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Login failed")
		}
		sess = login.Session()
	}

	// 5. 发一次请求
	if *fetch != "" {
		opts := crawlclient.Options{Session: sess}
		if pool != nil {
			opts.Proxies = pool
		}
		if s, ok := signers.Get(*platform); ok {
			opts.Signer = s
		}
		client := crawlclient.New(opts)

		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		resp, err := client.Get(reqCtx, crawlclient.NewTask(*platform, "detail", ""), *fetch, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Request failed")
			return
		}
		logger.Info().Int("status", resp.StatusCode).Int("bytes", len(resp.Body)).Str("proxy", resp.Proxy).Msg("Request done")
	}
}

func buildPool(cfg *types.Config, store cache.Cache) (*proxypool.Pool, error) {
	pr, err := provider.New(cfg.ProxyConf.ProviderName, provider.Deps{
		Conf:    cfg.ProxyConf,
		IpCache: ipcache.New(store),
	})
	if err != nil {
		return nil, err
	}

	opts := proxypool.Options{
		Size:              cfg.ProxyConf.PoolCount,
		EnableValidate:    cfg.ProxyConf.EnableValidate,
		MaxRefillAttempts: cfg.ProxyConf.MaxRefillAttempts,
		RefillTimeout:     time.Duration(cfg.ProxyConf.RefillTimeoutSeconds) * time.Second,
		RefreshInterval:   time.Duration(cfg.ProxyConf.RefreshIntervalSec) * time.Second,
	}
	if opts.EnableValidate {
		v, err := validator.New(cfg.ValidatorConf)
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	return proxypool.New([]provider.Provider{pr}, opts)
}
