package crawlclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawler_nexus/internal/session"
	"crawler_nexus/internal/sign"
	"crawler_nexus/proxypool/model"
)

type seenRequest struct {
	method string
	url    string
	host   string
	header http.Header
	body   string
}

// recorder 既可以当目标站点，也可以当 HTTP 代理：代理收到的是绝对 URL
type recorder struct {
	mu   sync.Mutex
	seen []seenRequest
}

func (rc *recorder) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.seen = append(rc.seen, seenRequest{
		method: r.Method,
		url:    r.URL.String(),
		host:   r.Host,
		header: r.Header.Clone(),
		body:   string(body),
	})
	rc.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"code":0}`))
}

func (rc *recorder) last(t *testing.T) seenRequest {
	t.Helper()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	require.NotEmpty(t, rc.seen)
	return rc.seen[len(rc.seen)-1]
}

type staticSource struct {
	ip  *model.IpInfo
	err error
}

func (s *staticSource) GetProxy(context.Context) (*model.IpInfo, error) {
	return s.ip, s.err
}

func proxyFor(t *testing.T, srv *httptest.Server) *model.IpInfo {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &model.IpInfo{
		IP:            u.Hostname(),
		Port:          port,
		User:          "u",
		Password:      "p",
		Brand:         "TEST",
		ExpiredTimeTs: time.Now().Add(time.Hour).Unix(),
	}
}

func TestClient_GetThroughProxyWithWbiSignature(t *testing.T) {
	rc := &recorder{}
	proxySrv := httptest.NewServer(http.HandlerFunc(rc.handler))
	defer proxySrv.Close()

	signer, err := sign.NewWbiSigner(
		"7cd084941338484aae1ad9425b84077c", "4932caff0ff746eab6f01bf08b70ac45",
		sign.WithClock(func() time.Time { return time.Unix(1702204169, 0) }),
	)
	require.NoError(t, err)

	ip := proxyFor(t, proxySrv)
	c := New(Options{
		BaseURL: "http://api.bilibili.test",
		Proxies: &staticSource{ip: ip},
		Signer:  signer,
		Session: &session.Session{Platform: "bilibili", Cookies: map[string]string{"SESSDATA": "s1"}},
	})

	task := NewTask("bilibili", "search", "golang")
	resp, err := c.Get(context.Background(), task, "/x/web-interface/search", map[string]any{"foo": "114", "bar": "514", "zab": 1919810})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"code":0}`, string(resp.Body))
	assert.Equal(t, ip.Addr(), resp.Proxy)

	got := rc.last(t)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "api.bilibili.test", got.host)
	u, err := url.Parse(got.url)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/x/web-interface/search", u.Path)
	assert.Equal(t, "1702204169", q.Get("wts"))
	assert.Equal(t, "8f6f2b5b3d485fe1886cec6a0be8c5d4", q.Get("w_rid"))
	assert.Equal(t, "1919810", q.Get("zab"))
	assert.Equal(t, "Basic dTpw", got.header.Get("Proxy-Authorization"))
	assert.Contains(t, got.header.Get("Cookie"), "SESSDATA=s1")
}

func TestClient_PostWithXhsHeaders(t *testing.T) {
	rc := &recorder{}
	target := httptest.NewServer(http.HandlerFunc(rc.handler))
	defer target.Close()

	var canonical string
	signer := sign.NewXhsSigner(func(_ context.Context, c, d string) (string, error) {
		canonical = c
		return "mns0101_" + d, nil
	})
	c := New(Options{BaseURL: target.URL, Signer: signer})

	payload := map[string]any{"note_id": "64b8a1c2000000001203d9a1", "source": "<pc&feed>"}
	resp, err := c.Post(context.Background(), NewTask("xhs", "detail", ""), "/api/sns/web/v1/feed", payload)
	require.NoError(t, err)
	assert.Empty(t, resp.Proxy)

	got := rc.last(t)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, `{"note_id":"64b8a1c2000000001203d9a1","source":"<pc&feed>"}`, got.body)
	assert.Equal(t, "/api/sns/web/v1/feed"+got.body, canonical)
	assert.Contains(t, got.header.Get("Content-Type"), "application/json")
	assert.Regexp(t, `^XYS_`, got.header.Get("X-S"))
	assert.NotEmpty(t, got.header.Get("X-T"))
}

func TestClient_GetWithoutSignerKeepsParams(t *testing.T) {
	rc := &recorder{}
	target := httptest.NewServer(http.HandlerFunc(rc.handler))
	defer target.Close()

	c := New(Options{BaseURL: target.URL, Headers: map[string]string{"Referer": "https://www.douyin.com/"}})
	_, err := c.Get(context.Background(), NewTask("douyin", "search", "go"), "/aweme/v1/web/search", map[string]any{"keyword": "go", "count": 10, "is_filter": true})
	require.NoError(t, err)

	got := rc.last(t)
	u, err := url.Parse(got.url)
	require.NoError(t, err)
	assert.Equal(t, "10", u.Query().Get("count"))
	assert.Equal(t, "true", u.Query().Get("is_filter"))
	assert.Equal(t, "https://www.douyin.com/", got.header.Get("Referer"))
}

func TestClient_ProxyErrorStopsRequest(t *testing.T) {
	rc := &recorder{}
	target := httptest.NewServer(http.HandlerFunc(rc.handler))
	defer target.Close()

	boom := errors.New("pool empty")
	c := New(Options{BaseURL: target.URL, Proxies: &staticSource{err: boom}})
	_, err := c.Get(context.Background(), NewTask("xhs", "search", "go"), "/", nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rc.seen)
}

func TestClient_SignErrorStopsRequest(t *testing.T) {
	rc := &recorder{}
	target := httptest.NewServer(http.HandlerFunc(rc.handler))
	defer target.Close()

	c := New(Options{BaseURL: target.URL, Signer: sign.NewXhsSigner(nil)})
	_, err := c.Post(context.Background(), NewTask("xhs", "search", "go"), "/api", map[string]any{"a": 1})
	assert.ErrorIs(t, err, sign.ErrMissingSecret)
	assert.Empty(t, rc.seen)
}

func TestNewTask(t *testing.T) {
	a := NewTask("bilibili", "creator", "")
	b := NewTask("bilibili", "creator", "")
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "creator", a.CrawlerType)
}
