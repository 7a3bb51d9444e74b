package session

import (
	"context"
	"fmt"
	"sync"

	"crawler_nexus/internal/shared/logger"
)

// CookieLogin 用配置里保存的 Cookie 字符串登录，适用于没有浏览器的部署。
type CookieLogin struct {
	platform  string
	loginType LoginType
	raw       string

	mu      sync.RWMutex
	session *Session
}

func NewCookieLogin(platform string, loginType LoginType, rawCookie string) *CookieLogin {
	return &CookieLogin{platform: platform, loginType: loginType, raw: rawCookie}
}

func (c *CookieLogin) Begin(ctx context.Context) error {
	return Dispatch(ctx, c, c.loginType)
}

func (c *CookieLogin) LoginByQRCode(context.Context) error {
	return fmt.Errorf("%w: %s qrcode login needs a browser", ErrUnsupportedLogin, c.platform)
}

func (c *CookieLogin) LoginByMobile(context.Context) error {
	return fmt.Errorf("%w: %s phone login needs a browser", ErrUnsupportedLogin, c.platform)
}

func (c *CookieLogin) LoginByCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cookies := ParseCookieString(c.raw)
	if len(cookies) == 0 {
		return fmt.Errorf("%w: %s cookie string is empty", ErrMissingCookie, c.platform)
	}

	s := &Session{Platform: c.platform, Cookies: cookies}
	if err := RequireCookies(s, RequiredCookies[c.platform]...); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	l := logger.WithComponent("Session/Login")
	l.Info().
		Str("platform", c.platform).
		Int("cookies", len(cookies)).
		Msg("Logged in with stored cookies")
	return nil
}

// Session 返回登录得到的会话，未登录时为 nil。
func (c *CookieLogin) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}
