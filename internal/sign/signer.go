// Package sign 实现各平台请求签名协议。签名器是无状态的纯计算，
// 每个平台一个实例，在所有抓取任务间共享。
package sign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrMissingSecret 表示签名所需的密钥缺失，不能在空密钥上计算签名。
var ErrMissingSecret = errors.New("signing secret missing")

// Request 是一次待签名的出站请求。
type Request struct {
	Method string
	// URI 是不含 host 的请求路径
	URI     string
	Params  map[string]any
	Payload any
}

// Result 是签名产物。Params 是需要替换原查询参数的完整参数集，Headers 需要追加到请求头。
type Result struct {
	Params  map[string]string
	Headers map[string]string
}

// Signer 是平台签名协议的统一接口。
type Signer interface {
	Platform() string
	Sign(ctx context.Context, req Request) (Result, error)
}

// StringParams 按签名时的规则把参数值转成字符串，发请求时用它保证实际发送的和签名的一致。
func StringParams(params map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for k, v := range params {
		str, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("stringify param %q: %w", k, err)
		}
		out[k] = str
	}
	return out, nil
}

type options struct {
	now func() time.Time
}

// Option 配置签名器。
type Option func(*options)

// WithClock 替换签名使用的时钟，相同时钟与相同输入得到相同签名。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Registry 按平台名保存签名器。
type Registry struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

func NewRegistry(signers ...Signer) *Registry {
	r := &Registry{signers: make(map[string]Signer)}
	for _, s := range signers {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[s.Platform()] = s
}

// Get 返回平台对应的签名器。没有注册的平台不需要签名，返回 false。
func (r *Registry) Get(platform string) (Signer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.signers[platform]
	return s, ok
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.signers))
	for name := range r.signers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
