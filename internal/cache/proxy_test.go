package cache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecodoc/agent/internal/config"
)

func newTestProxy(upstreamURL string) *Proxy {
	return NewProxy(nil, config.CacheConfig{
		TTL:        10 * time.Minute,
		StaticTTL:  30 * 24 * time.Hour,
		MaxEntries: 100,
		Version:    "v1",
	}, config.UpstreamConfig{
		BaseURL:       upstreamURL,
		SessionCookie: "JSESSIONID=abc",
	}, nil, zap.NewNop())
}

func newTestRouter(p *Proxy) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any("/api/*path", p.APIHandler())
	r.GET("/static/*path", p.StaticHandler())
	return r
}

func TestProxy_PassthroughWithoutRedis(t *testing.T) {
	t.Run("GET 直通并转发查询串", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/departments", r.URL.Path)
			assert.Equal(t, "page=2", r.URL.RawQuery)
			assert.Contains(t, r.Header.Get("Cookie"), "JSESSIONID=abc")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":1}]`))
		}))
		defer srv.Close()

		router := newTestRouter(newTestProxy(srv.URL))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/departments?page=2", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, `[{"id":1}]`, rec.Body.String())
	})

	t.Run("POST 等变更请求直通且携带请求体", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, `{"subject":"x"}`, string(body))
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		router := newTestRouter(newTestProxy(srv.URL))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"subject":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("上游错误状态原样透传", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		router := newTestRouter(newTestProxy(srv.URL))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestProxy_OfflineWithoutCache(t *testing.T) {
	// 网络不可达且没有缓存副本：503 + 可读错误信息
	router := newTestRouter(newTestProxy("http://127.0.0.1:1"))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, "/api/messages", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, method)
		assert.Contains(t, rec.Body.String(), "upstream unreachable")
	}
}

func TestProxy_KeyNamespacing(t *testing.T) {
	p := newTestProxy("http://example.invalid")

	assert.Equal(t, "ecodoc:offline:v1:api:/api/messages?page=1", p.key("api", "/api/messages?page=1"))
	assert.Equal(t, "ecodoc:offline:v1:static:/static/app.js", p.key("static", "/static/app.js"))
	assert.Equal(t, "ecodoc:offline:v1:lru", p.lruKey())

	// 版本变化产生不相交的命名空间，旧版本条目可整体清除
	p2 := NewProxy(nil, config.CacheConfig{Version: "v2"}, config.UpstreamConfig{BaseURL: "http://example.invalid"}, nil, zap.NewNop())
	assert.NotEqual(t, p.key("api", "/api/messages"), p2.key("api", "/api/messages"))
}

func TestRequestPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/messages?sent=true", nil)
	assert.Equal(t, "/api/messages?sent=true", requestPath(r))

	r = httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	assert.Equal(t, "/api/messages", requestPath(r))
}

func TestProxy_ActivateWithoutRedis(t *testing.T) {
	p := newTestProxy("http://example.invalid")
	assert.NoError(t, p.Activate(context.Background()))
	// 预缓存同样退化为无操作
	p.Precache(context.Background(), []string{"/static/app.js"})
}
