package model

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// IpInfo 是一个租用的代理出口，是代理池模块的核心数据结构。
// 序列化为 JSON 存入 IP 缓存，字段名与远程缓存中的其他写入方保持一致。
type IpInfo struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`

	// Protocol 为 "http"（默认）或 "socks5"，决定探活方式和代理 URL 的 scheme。
	Protocol string `json:"protocol,omitempty"`

	// ExpiredTimeTs 是过期时间的 unix 秒。使用前必须检查。
	ExpiredTimeTs int64 `json:"expired_time_ts"`

	// Brand 是代理来源供应商，例如 "WANDOUHTTP"。
	Brand string `json:"brand"`
}

// Key 返回 IP 缓存中使用的 key: "<brand>_<ip>_<port>_<user>_<password>"。
func (p *IpInfo) Key() string {
	return fmt.Sprintf("%s_%s_%d_%s_%s", p.Brand, p.IP, p.Port, p.User, p.Password)
}

// Addr 返回 "ip:port"。
func (p *IpInfo) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// ExpiredAt 返回绝对过期时间。
func (p *IpInfo) ExpiredAt() time.Time {
	return time.Unix(p.ExpiredTimeTs, 0)
}

// IsExpired 在 now >= 过期时间时返回 true。
func (p *IpInfo) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiredAt())
}

// TTL 返回剩余有效期，已过期时为 0。
func (p *IpInfo) TTL(now time.Time) time.Duration {
	ttl := p.ExpiredAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// ProxyURL 返回可直接交给 HTTP 客户端的代理地址，带认证信息时包含 userinfo。
func (p *IpInfo) ProxyURL() *url.URL {
	scheme := "http"
	if p.Protocol == "socks5" {
		scheme = "socks5"
	}
	u := &url.URL{Scheme: scheme, Host: p.Addr()}
	if p.User != "" && p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

func (p *IpInfo) String() string {
	return fmt.Sprintf("%s(%s, expires %s)", p.Brand, p.Addr(), p.ExpiredAt().Format(time.DateTime))
}
