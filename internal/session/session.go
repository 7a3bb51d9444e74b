// Package session 定义平台登录能力接口，并保存登录后的 Cookie 会话。
// 浏览器驱动的扫码和短信登录由外部实现，这里只提供存量 Cookie 登录。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"crawler_nexus/internal/shared/logger"
)

var (
	ErrUnsupportedLogin = errors.New("login type not supported")
	ErrMissingCookie    = errors.New("required cookie missing")
)

type LoginType string

const (
	LoginQRCode LoginType = "qrcode"
	LoginPhone  LoginType = "phone"
	LoginCookie LoginType = "cookie"
)

// ParseLoginType 解析配置中的登录方式。
func ParseLoginType(s string) (LoginType, error) {
	switch t := LoginType(strings.ToLower(strings.TrimSpace(s))); t {
	case LoginQRCode, LoginPhone, LoginCookie:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q (only qrcode, phone or cookie)", ErrUnsupportedLogin, s)
}

// Login 是平台登录的能力接口。Begin 是入口，按配置选择一种登录方式。
type Login interface {
	Begin(ctx context.Context) error
	LoginByQRCode(ctx context.Context) error
	LoginByMobile(ctx context.Context) error
	LoginByCookies(ctx context.Context) error
}

// Dispatch 根据登录方式调用 l 上对应的方法，Login 实现的 Begin 通常直接委托给它。
func Dispatch(ctx context.Context, l Login, t LoginType) error {
	log := logger.WithComponent("Session/Login")
	log.Info().Str("type", string(t)).Msg("Begin login")

	var err error
	switch t {
	case LoginQRCode:
		err = l.LoginByQRCode(ctx)
	case LoginPhone:
		err = l.LoginByMobile(ctx)
	case LoginCookie:
		err = l.LoginByCookies(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedLogin, t)
	}
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("Login failed")
		return err
	}
	return nil
}

// Session 是一个平台登录后的 Cookie 集合。登录完成后只读，可以在抓取任务间共享。
type Session struct {
	Platform string
	Cookies  map[string]string
}

// Cookie 返回单个 Cookie 值。
func (s *Session) Cookie(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Cookies[name]
	return v, ok
}

// CookieHeader 按名称排序拼接成 Cookie 请求头。
func (s *Session) CookieHeader() string {
	if s == nil || len(s.Cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// HTTPCookies 转成 net/http 的 Cookie，顺序与 CookieHeader 一致。
func (s *Session) HTTPCookies() []*http.Cookie {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: s.Cookies[name]})
	}
	return cookies
}

// ParseCookieString 解析浏览器复制出来的 "a=1; b=2" 形式。
// 没有 '=' 的片段被忽略，值里的 '=' 保留。
func ParseCookieString(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}

// RequiredCookies 是各平台签名或接口调用必须带的 Cookie。
var RequiredCookies = map[string][]string{
	"xhs":   {"a1"},
	"zhihu": {"d_c0"},
}

// RequireCookies 检查会话里是否有 names 中的每个 Cookie，值为空也算缺失。
func RequireCookies(s *Session, names ...string) error {
	var missing []string
	for _, name := range names {
		if v, ok := s.Cookie(name); !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		platform := ""
		if s != nil {
			platform = s.Platform
		}
		return fmt.Errorf("%w: %s needs %s", ErrMissingCookie, platform, strings.Join(missing, ", "))
	}
	return nil
}
