package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/imroc/req/v3"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
)

const (
	kuaidailiBrand   = "KUAIDAILI"
	kuaidailiBaseURL = "https://dps.kdlapi.com"
)

type kuaidailiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Count     int      `json:"count"`
		ProxyList []string `json:"proxy_list"`
	} `json:"data"`
}

// kuaidaili 是快代理私密代理 (DPS) 的提取接口。
type kuaidaili struct {
	client    *req.Client
	baseURL   string
	secretID  string
	signature string
	user      string
	password  string
	now       func() int64
}

// NewKuaidaili 创建快代理供应商。
func NewKuaidaili(deps Deps) (Provider, error) {
	now := deps.now()
	k := &kuaidaili{
		client:    deps.client(),
		baseURL:   deps.baseURL(kuaidailiBaseURL),
		secretID:  deps.Conf.KdlSecretID,
		signature: deps.Conf.KdlSignature,
		user:      deps.Conf.KdlUserName,
		password:  deps.Conf.KdlUserPwd,
		now:       func() int64 { return now().Unix() },
	}
	return &cachedProvider{
		brand:    kuaidailiBrand,
		maxBatch: 100,
		ipCache:  deps.IpCache,
		fetch:    k.fetch,
	}, nil
}

func (k *kuaidaili) fetch(ctx context.Context, num int) ([]*model.IpInfo, error) {
	if k.secretID == "" || k.signature == "" {
		return nil, &IpGetError{Brand: kuaidailiBrand, Msg: "secret_id/signature is empty", Err: ErrMissingCredential}
	}

	params := map[string]string{
		"secret_id": k.secretID,
		"signature": k.signature,
		"num":       strconv.Itoa(num),
		"pt":        "1",
		"format":    "json",
		"sep":       "1",
		"f_et":      "1",
	}
	var body kuaidailiResponse
	if err := getJSON(ctx, k.client, k.baseURL+"/api/getdps/", params, &body); err != nil {
		return nil, &IpGetError{Brand: kuaidailiBrand, Err: err}
	}
	if body.Code != 0 {
		return nil, &IpGetError{Brand: kuaidailiBrand, Code: body.Code, Msg: body.Msg}
	}

	l := logger.WithComponent("ProxyPool/Provider")
	now := k.now()
	ips := make([]*model.IpInfo, 0, len(body.Data.ProxyList))
	for _, item := range body.Data.ProxyList {
		ip, err := parseKdlProxy(item, now)
		if err != nil {
			l.Warn().Err(err).Str("brand", kuaidailiBrand).Msg("Skipping malformed proxy entry.")
			continue
		}
		ip.User = k.user
		ip.Password = k.password
		ips = append(ips, ip)
	}
	return ips, nil
}

// parseKdlProxy 解析 "ip:port,剩余秒数" 格式的条目。
func parseKdlProxy(item string, now int64) (*model.IpInfo, error) {
	addr, ttlStr, ok := strings.Cut(strings.TrimSpace(item), ",")
	if !ok {
		return nil, fmt.Errorf("entry %q has no expire seconds", item)
	}
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return nil, fmt.Errorf("entry %q has no port", item)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("entry %q: invalid port: %w", item, err)
	}
	ttl, err := strconv.ParseInt(strings.TrimSpace(ttlStr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("entry %q: invalid expire seconds: %w", item, err)
	}
	return &model.IpInfo{
		IP:            host,
		Port:          port,
		ExpiredTimeTs: now + ttl,
	}, nil
}
