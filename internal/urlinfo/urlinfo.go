// Package urlinfo 从各平台的分享链接或页面地址中提取内容 ID 和作者 ID。
// 所有函数都是纯函数，已经是 ID 的输入原样返回。
package urlinfo

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnparseable 表示输入既不是 ID 也不是可识别的链接。
var ErrUnparseable = errors.New("unable to parse id from url")

const (
	PlatformBilibili = "bilibili"
	PlatformDouyin   = "douyin"
	PlatformKuaishou = "kuaishou"
	PlatformXhs      = "xhs"
)

// 视频链接类型
const (
	TypeNormal = "normal"
	// TypeShort 是需要客户端跟随跳转才能拿到 ID 的短链，ID 为空
	TypeShort = "short"
	TypeModal = "modal"
)

type VideoInfo struct {
	ID   string
	Type string
}

// CreatorInfo 是作者主页信息，小红书主页链接还会带上 xsec 参数。
type CreatorInfo struct {
	ID         string
	XsecToken  string
	XsecSource string
}

// NoteInfo 是小红书笔记信息，请求详情接口时需要原链接上的 xsec 参数。
type NoteInfo struct {
	ID         string
	XsecToken  string
	XsecSource string
}

func unparseable(platform, kind, input string) error {
	return fmt.Errorf("%w: %s %s from %q", ErrUnparseable, platform, kind, input)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// queryParam 取查询参数，'+' 保持原样（xsec_token 是 base64，可能含 '+'）。
func queryParam(rawURL, name string) string {
	_, query, ok := strings.Cut(rawURL, "?")
	if !ok {
		return ""
	}
	query, _, _ = strings.Cut(query, "#")
	for _, pair := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k != name {
			continue
		}
		if unescaped, err := url.PathUnescape(v); err == nil {
			return unescaped
		}
		return v
	}
	return ""
}

func firstGroup(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
