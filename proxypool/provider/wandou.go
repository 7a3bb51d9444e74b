package provider

import (
	"context"
	"strconv"

	"github.com/imroc/req/v3"

	"crawler_nexus/internal/shared/logger"
	"crawler_nexus/proxypool/model"
)

const (
	wandouBrand   = "WANDOUHTTP"
	wandouBaseURL = "https://api.wandouapp.com"
)

var wandouErrMsgs = map[int]string{
	10001: "general error, check msg for details",
	10048: "no packages available",
}

type wandouResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		IP         string  `json:"ip"`
		Port       flexInt `json:"port"`
		ExpireTime string  `json:"expire_time"`
	} `json:"data"`
}

// wandou 是豌豆 HTTP 的提取接口，白名单认证，不需要账号密码。
type wandou struct {
	client  *req.Client
	baseURL string
	appKey  string
}

// NewWandou 创建豌豆 HTTP 供应商。
func NewWandou(deps Deps) (Provider, error) {
	w := &wandou{
		client:  deps.client(),
		baseURL: deps.baseURL(wandouBaseURL),
		appKey:  deps.Conf.WandouAppKey,
	}
	return &cachedProvider{
		brand:    wandouBrand,
		maxBatch: 100,
		ipCache:  deps.IpCache,
		fetch:    w.fetch,
	}, nil
}

func (w *wandou) fetch(ctx context.Context, num int) ([]*model.IpInfo, error) {
	if w.appKey == "" {
		return nil, &IpGetError{Brand: wandouBrand, Msg: "app_key is empty", Err: ErrMissingCredential}
	}

	params := map[string]string{
		"app_key": w.appKey,
		"num":     strconv.Itoa(num),
	}
	var body wandouResponse
	if err := getJSON(ctx, w.client, w.baseURL+"/", params, &body); err != nil {
		return nil, &IpGetError{Brand: wandouBrand, Err: err}
	}
	if body.Code != 200 {
		msg := body.Msg
		if known, ok := wandouErrMsgs[body.Code]; ok {
			msg = known
		}
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &IpGetError{Brand: wandouBrand, Code: body.Code, Msg: msg}
	}

	l := logger.WithComponent("ProxyPool/Provider")
	ips := make([]*model.IpInfo, 0, len(body.Data))
	for _, item := range body.Data {
		expire, err := parseExpire(item.ExpireTime)
		if err != nil {
			l.Warn().Err(err).Str("brand", wandouBrand).Str("ip", item.IP).Msg("Skipping proxy entry.")
			continue
		}
		ips = append(ips, &model.IpInfo{
			IP:            item.IP,
			Port:          int(item.Port),
			ExpiredTimeTs: expire,
		})
	}
	return ips, nil
}
