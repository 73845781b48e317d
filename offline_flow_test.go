package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/logging"
)

// storefrontStub 模拟店面源站，down 为 true 时直接断开连接以模拟断网。
type storefrontStub struct {
	server *httptest.Server
	down   atomic.Bool

	mu     sync.Mutex
	orders []recordedOrder
}

type recordedOrder struct {
	CSRF string
	Body map[string]any
}

func newStorefrontStub(t *testing.T) *storefrontStub {
	t.Helper()
	stub := &storefrontStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head><link href="https://cdn.tailwindcss.com/base.css" rel="stylesheet"></head><body>`+
			`<div id="connection-status"></div>`+
			`<form><input type="hidden" name="csrfmiddlewaretoken" value="tok-home"></form>`+
			`<div class="offline-only">offline banner</div></body></html>`)
	})
	mux.HandleFunc("/offline/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><div id="connection-status"></div>offline page</body></html>`)
	})
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, "body{color:#333}")
	})
	mux.HandleFunc("/api/orders/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		stub.mu.Lock()
		stub.orders = append(stub.orders, recordedOrder{CSRF: r.Header.Get("X-CSRFToken"), Body: body})
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"created"}`)
	})
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if stub.down.Load() {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *storefrontStub) received() []recordedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedOrder(nil), s.orders...)
}

func TestOfflineRoundTrip(t *testing.T) {
	stub := newStorefrontStub(t)
	dir := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
StoragePath = "%s"
Upstream = "%s"
CacheGeneration = "shop-v2"
Precache = ["/", "/static/style.css"]

[Sync]
OrderEndpoint = "/api/orders/"
`, filepath.ToSlash(filepath.Join(dir, "storage")), stub.server.URL))

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	rt, err := buildRuntime(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("初始化运行时失败: %v", err)
	}
	t.Cleanup(rt.close)
	app := rt.app

	home := navigate(t, app, "/")
	if home.status != http.StatusOK || home.header.Get("X-Offline-Hub-Cache-Hit") != "true" {
		t.Fatalf("首页应来自预缓存: %d %v", home.status, home.header)
	}
	if !strings.Contains(home.body, "connection-status online") {
		t.Fatalf("首页应标记为在线: %s", home.body)
	}
	if !strings.Contains(home.body, `href="/-/cdn/cdn.tailwindcss.com/base.css"`) {
		t.Fatalf("CDN 链接应改写到本地挂载点: %s", home.body)
	}

	stub.down.Store(true)
	post(t, app, "/-/connectivity/offline", "")

	page := navigate(t, app, "/shop/cart/")
	if page.status != http.StatusOK || !strings.Contains(page.body, "offline page") {
		t.Fatalf("断网导航应返回离线页: %d %s", page.status, page.body)
	}
	if !strings.Contains(page.body, "connection-status offline") {
		t.Fatalf("离线页应标记为离线: %s", page.body)
	}

	api := fetch(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/api/products/", nil))
	if api.status != http.StatusOK || !strings.Contains(api.body, `"offline":true`) {
		t.Fatalf("断网 API 请求应返回离线 JSON: %d %s", api.status, api.body)
	}

	if status := post(t, app, "/-/orders", `{"item":"sapin-sapin","qty":3}`); status != http.StatusCreated {
		t.Fatalf("离线订单保存失败: %d", status)
	}

	stub.down.Store(false)
	post(t, app, "/-/connectivity/online", "")
	rt.controller.Wait()

	orders := stub.received()
	if len(orders) != 1 {
		t.Fatalf("恢复联网后应提交 1 笔订单，得到 %d", len(orders))
	}
	if orders[0].CSRF != "tok-home" {
		t.Fatalf("应携带页面 CSRF token，得到 %q", orders[0].CSRF)
	}
	if orders[0].Body["item"] != "sapin-sapin" || orders[0].Body["offline"] != true {
		t.Fatalf("提交内容不符: %v", orders[0].Body)
	}
	if _, ok := orders[0].Body["_queue_id"]; ok {
		t.Fatalf("队列 ID 不应发送到上游")
	}

	queued := fetch(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/-/orders", nil))
	if !strings.Contains(queued.body, `"orders":[]`) {
		t.Fatalf("同步后队列应为空: %s", queued.body)
	}
}

type fetched struct {
	status int
	header http.Header
	body   string
}

func fetch(t *testing.T, app *fiber.App, req *http.Request) fetched {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return fetched{status: resp.StatusCode, header: resp.Header, body: string(data)}
}

func navigate(t *testing.T, app *fiber.App, target string) fetched {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://localhost"+target, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	return fetch(t, app, req)
}

func post(t *testing.T, app *fiber.App, target, body string) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, "http://localhost"+target, reader)
	req.Header.Set("Content-Type", "application/json")
	return fetch(t, app, req).status
}
