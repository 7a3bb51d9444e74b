package sign

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

const PlatformBilibili = "bilibili"

// mixinKeyEncTab 是 WBI 混淆表，对 imgKey+subKey 重排后取前 32 位作为盐。
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40,
	61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11,
	36, 20, 34, 44, 52,
}

// WbiSigner 实现 B 站 WBI 签名。盐只在密钥轮换时变化，所以在构造时算好。
type WbiSigner struct {
	salt string
	now  func() time.Time
}

// NewWbiSigner 用平台下发的 img_key 和 sub_key 创建签名器，密钥缺失或过短时返回 ErrMissingSecret。
func NewWbiSigner(imgKey, subKey string, opts ...Option) (*WbiSigner, error) {
	mixin := imgKey + subKey
	if imgKey == "" || subKey == "" || len(mixin) < len(mixinKeyEncTab) {
		return nil, fmt.Errorf("%w: bilibili img_key/sub_key must be 64 chars together, got %d", ErrMissingSecret, len(mixin))
	}
	o := buildOptions(opts)
	return &WbiSigner{salt: mixinKey(mixin), now: o.now}, nil
}

func mixinKey(mixin string) string {
	var b strings.Builder
	b.Grow(len(mixinKeyEncTab))
	for _, i := range mixinKeyEncTab {
		b.WriteByte(mixin[i])
	}
	return b.String()[:32]
}

func (s *WbiSigner) Platform() string { return PlatformBilibili }

// Salt 返回派生出的 32 位盐。
func (s *WbiSigner) Salt() string { return s.salt }

// Sign 对 req.Params 签名，返回带 wts 和 w_rid 的完整参数集。
func (s *WbiSigner) Sign(_ context.Context, req Request) (Result, error) {
	params, err := s.SignParams(req.Params)
	if err != nil {
		return Result{}, err
	}
	return Result{Params: params}, nil
}

// SignParams 不修改入参：复制参数，加入 wts，值字符串化并去掉 !'()*，
// 按 key 排序做表单编码，拼上盐取 md5 作为 w_rid。
func (s *WbiSigner) SignParams(params map[string]any) (map[string]string, error) {
	values := make(url.Values, len(params)+2)
	for k, v := range params {
		str, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("stringify param %q: %w", k, err)
		}
		values.Set(k, stripWbiChars(str))
	}
	values.Set("wts", strconv.FormatInt(s.now().Unix(), 10))

	// Encode 按 key 排序，编码规则与表单编码一致
	query := values.Encode()
	sum := md5.Sum([]byte(query + s.salt))

	signed := make(map[string]string, len(values)+1)
	for k := range values {
		signed[k] = values.Get(k)
	}
	signed["w_rid"] = hex.EncodeToString(sum[:])
	return signed, nil
}

func stripWbiChars(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		}
		return r
	}, s)
}

// stringify 把参数值转成签名使用的字符串形式，嵌套结构使用紧凑 JSON。
func stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", t), nil
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return CompactJSON(v)
	}
}

// CompactJSON 输出没有多余空白的 JSON，不转义 HTML 字符和非 ASCII 字符。
func CompactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ExtractKey 从导航接口返回的 img_url / sub_url 中取出密钥，即文件名去掉扩展名。
// 例如 https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png。
func ExtractKey(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
