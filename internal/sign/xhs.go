package sign

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"
)

const PlatformXhs = "xhs"

// Mnsv2Func 是小红书页面内 window.mnsv2(c, d) 的实现。该算法在浏览器侧且会随版本变化，
// 由调用方提供（例如通过浏览器自动化执行页面脚本）。
type Mnsv2Func func(ctx context.Context, c, d string) (string, error)

// xsPayload 字段顺序即 JSON 顺序，不能调整。
type xsPayload struct {
	X0 string `json:"x0"`
	X1 string `json:"x1"`
	X2 string `json:"x2"`
	X3 string `json:"x3"`
	X4 any    `json:"x4"`
}

// XhsSigner 生成小红书的 X-S / X-T 请求头。
type XhsSigner struct {
	mnsv2 Mnsv2Func
	now   func() time.Time
}

func NewXhsSigner(mnsv2 Mnsv2Func, opts ...Option) *XhsSigner {
	o := buildOptions(opts)
	return &XhsSigner{mnsv2: mnsv2, now: o.now}
}

func (s *XhsSigner) Platform() string { return PlatformXhs }

// Sign 计算 X-S。GET 请求的查询参数拼到 URI 上参与签名，POST 请求签名请求体。
func (s *XhsSigner) Sign(ctx context.Context, req Request) (Result, error) {
	if s.mnsv2 == nil {
		return Result{}, fmt.Errorf("%w: xhs mnsv2 strategy not configured", ErrMissingSecret)
	}

	uri := req.URI
	if len(req.Params) > 0 {
		params, err := StringParams(req.Params)
		if err != nil {
			return Result{}, err
		}
		values := make(url.Values, len(params))
		for k, v := range params {
			values.Set(k, v)
		}
		uri += "?" + values.Encode()
	}

	payload := req.Payload
	if payload == nil {
		payload = ""
	}

	c, err := BuildCanonical(uri, payload)
	if err != nil {
		return Result{}, err
	}
	d := MD5Hex(c)
	x3, err := s.mnsv2(ctx, c, d)
	if err != nil {
		return Result{}, fmt.Errorf("mnsv2: %w", err)
	}

	raw, err := CompactJSON(xsPayload{
		X0: "4.2.6",
		X1: "xhs-pc-web",
		X2: "Mac OS",
		X3: x3,
		X4: payload,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Headers: map[string]string{
			"X-S":          "XYS_" + base64.StdEncoding.EncodeToString([]byte(raw)),
			"X-T":          strconv.FormatInt(s.now().UnixMilli(), 10),
			"X-B3-Traceid": traceID(),
		},
	}, nil
}

// BuildCanonical 拼接签名原文：对象和数组用紧凑 JSON（不转义 HTML 和非 ASCII 字符），
// 字符串原样拼接，其他类型不参与。
func BuildCanonical(prefix string, payload any) (string, error) {
	switch t := payload.(type) {
	case nil:
		return prefix, nil
	case string:
		return prefix + t, nil
	case json.RawMessage:
		// 调用方自己保证 key 顺序
		return prefix + string(t), nil
	}
	if !isObjectOrArray(payload) {
		return prefix, nil
	}
	body, err := CompactJSON(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return prefix + body, nil
}

func isObjectOrArray(v any) bool {
	switch v.(type) {
	case map[string]any, map[string]string, []any, []string, []map[string]any:
		return true
	}
	// 结构体和其他 map/slice 通过 JSON 首字符判断
	raw, err := json.Marshal(v)
	if err != nil || len(raw) == 0 {
		return false
	}
	return raw[0] == '{' || raw[0] == '['
}

// MD5Hex 返回 UTF-8 字节的 md5 十六进制摘要。
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

const traceAlphabet = "abcdef0123456789"

func traceID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = traceAlphabet[rand.IntN(len(traceAlphabet))]
	}
	return string(b)
}
