package provider

import (
	"context"
	"strconv"

	"github.com/imroc/req/v3"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
)

const (
	jisuBrand   = "JISUHTTP"
	jisuBaseURL = "https://api.jisuhttp.com"
)

type jisuResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		IP     string  `json:"ip"`
		Port   flexInt `json:"port"`
		User   string  `json:"user"`
		Pass   string  `json:"pass"`
		Expire string  `json:"expire"`
	} `json:"data"`
}

// jisu 是极速 HTTP 的提取接口，账号密码认证。
type jisu struct {
	client  *req.Client
	baseURL string
	key     string
	crypto  string
	minutes int
}

// NewJisu 创建极速 HTTP 供应商。
func NewJisu(deps Deps) (Provider, error) {
	minutes := deps.Conf.JisuMinutes
	if minutes <= 0 {
		minutes = 30
	}
	j := &jisu{
		client:  deps.client(),
		baseURL: deps.baseURL(jisuBaseURL),
		key:     deps.Conf.JisuKey,
		crypto:  deps.Conf.JisuCrypto,
		minutes: minutes,
	}
	return &cachedProvider{
		brand:    jisuBrand,
		maxBatch: 100,
		ipCache:  deps.IpCache,
		fetch:    j.fetch,
	}, nil
}

func (j *jisu) fetch(ctx context.Context, num int) ([]*model.IpInfo, error) {
	if j.key == "" || j.crypto == "" {
		return nil, &IpGetError{Brand: jisuBrand, Msg: "key/crypto is empty", Err: ErrMissingCredential}
	}

	params := map[string]string{
		"key":    j.key,
		"crypto": j.crypto,
		"time":   strconv.Itoa(j.minutes),
		"type":   "json",
		"port":   "2", // 1: HTTP, 2: HTTPS, 3: SOCKS5
		"pw":     "1", // 账号密码认证
		"se":     "1", // 返回过期时间
		"num":    strconv.Itoa(num),
	}
	var body jisuResponse
	if err := getJSON(ctx, j.client, j.baseURL+"/fetchips", params, &body); err != nil {
		return nil, &IpGetError{Brand: jisuBrand, Err: err}
	}
	if body.Code != 0 {
		msg := body.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &IpGetError{Brand: jisuBrand, Code: body.Code, Msg: msg}
	}

	l := logger.WithComponent("ProxyPool/Provider")
	ips := make([]*model.IpInfo, 0, len(body.Data))
	for _, item := range body.Data {
		expire, err := parseExpire(item.Expire)
		if err != nil {
			l.Warn().Err(err).Str("brand", jisuBrand).Str("ip", item.IP).Msg("Skipping proxy entry.")
			continue
		}
		ips = append(ips, &model.IpInfo{
			IP:            item.IP,
			Port:          int(item.Port),
			User:          item.User,
			Password:      item.Pass,
			ExpiredTimeTs: expire,
		})
	}
	return ips, nil
}
