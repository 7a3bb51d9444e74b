package validator

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawler_nexus/internal/shared/types"
	"crawler_nexus/proxypool/model"
)

// ipFromServer 把 httptest 服务地址转成 IpInfo，让它充当 HTTP 代理
func ipFromServer(t *testing.T, rawURL string) *model.IpInfo {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &model.IpInfo{IP: u.Hostname(), Port: port}
}

func deadAddr(t *testing.T) *model.IpInfo {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	return &model.IpInfo{IP: "127.0.0.1", Port: addr.Port}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(types.ValidatorConf{TargetURL: "http://probe.test/", TimeoutSeconds: 2, Concurrency: 2})
	require.NoError(t, err)
	return v
}

func TestValidate_KeepsWorkingProxiesInOrder(t *testing.T) {
	var sawAuth atomic.Value
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Proxy-Authorization") != "" {
			sawAuth.Store(r.Header.Get("Proxy-Authorization"))
		}
		assert.Equal(t, "probe.test", r.URL.Host)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	first := ipFromServer(t, good.URL)
	withAuth := ipFromServer(t, good.URL)
	withAuth.User, withAuth.Password = "u", "p"
	rejected := ipFromServer(t, bad.URL)
	dead := deadAddr(t)

	v := newTestValidator(t)
	got := v.Validate(context.Background(), []*model.IpInfo{first, rejected, dead, withAuth})

	require.Len(t, got, 2)
	assert.Same(t, first, got[0])
	assert.Same(t, withAuth, got[1])
	assert.Equal(t, "Basic dTpw", sawAuth.Load())
}

func TestValidate_Empty(t *testing.T) {
	v := newTestValidator(t)
	assert.Empty(t, v.Validate(context.Background(), nil))
}

func TestValidate_CancelledContextRejectsAll(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newTestValidator(t)
	got := v.Validate(ctx, []*model.IpInfo{ipFromServer(t, good.URL), ipFromServer(t, good.URL), ipFromServer(t, good.URL)})
	assert.Empty(t, got)
}

// serveSocks5 实现一个只应答握手的最小 SOCKS5 服务，不真正转发流量
func serveSocks5(t *testing.T) *model.IpInfo {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleSocks5(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &model.IpInfo{IP: "127.0.0.1", Port: addr.Port, Protocol: "socks5"}
}

func handleSocks5(conn net.Conn) {
	defer conn.Close()

	// 问候: VER NMETHODS METHODS...
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return
	}
	methods := make([]byte, head[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	// 请求: VER CMD RSV ATYP DST.ADDR DST.PORT
	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	var addrLen int
	switch req[3] {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		l := make([]byte, 1)
		if _, err := io.ReadFull(conn, l); err != nil {
			return
		}
		addrLen = int(l[0])
	default:
		return
	}
	rest := make([]byte, addrLen+2)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return
	}
	_, _ = conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	_, _ = io.Copy(io.Discard, conn)
}

func TestValidate_Socks5(t *testing.T) {
	socks := serveSocks5(t)
	dead := deadAddr(t)
	dead.Protocol = "socks5"

	v := newTestValidator(t)
	got := v.Validate(context.Background(), []*model.IpInfo{socks, dead})

	require.Len(t, got, 1)
	assert.Same(t, socks, got[0])
}

func TestNew_Defaults(t *testing.T) {
	v, err := New(types.ValidatorConf{})
	require.NoError(t, err)
	assert.Equal(t, defaultTarget, v.target.String())
	assert.Equal(t, defaultTimeout, v.timeout)
	assert.Equal(t, defaultConcurrency, v.concurrency)

	_, err = New(types.ValidatorConf{TargetURL: "not a url"})
	assert.Error(t, err)
}

func TestTargetAddr(t *testing.T) {
	u, _ := url.Parse("https://example.com/path")
	assert.Equal(t, "example.com:443", targetAddr(u))
	u, _ = url.Parse("http://example.com:8080/")
	assert.Equal(t, "example.com:8080", targetAddr(u))
}
