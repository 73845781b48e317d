package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/server"
)

type markerDecorator struct {
	calls int
}

func (d *markerDecorator) DecorateHTML(body []byte) ([]byte, error) {
	d.calls++
	return bytes.Replace(body, []byte("</body>"), []byte("<p>decorated</p></body>"), 1), nil
}

func newHandlerApp(t *testing.T, upstream string, decorator PageDecorator) (*fiber.App, *Worker) {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort: 5000,
			Upstream:   upstream,
			CDNOrigins: []string{"cdn.tailwindcss.com"},
		},
	}
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	worker, _ := newTestWorker(t, upstream, nil, nil)
	handler := NewHandler(worker, registry, decorator, logging.Discard())
	app, err := server.NewApp(server.AppOptions{
		Logger:     logging.Discard(),
		Registry:   registry,
		Proxy:      handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	return app, worker
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHandlerDecoratesAndRewritesHTML(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head><script src="https://cdn.tailwindcss.com"></script>`+
			`<script src="https://other.example.com/x.js"></script></head><body>shop</body></html>`)
	}))
	defer upstream.Close()

	decorator := &markerDecorator{}
	app, _ := newHandlerApp(t, upstream.URL, decorator)

	resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if decorator.calls != 1 || !strings.Contains(body, "<p>decorated</p>") {
		t.Fatalf("html must be decorated: %s", body)
	}
	if !strings.Contains(body, `src="/-/cdn/cdn.tailwindcss.com/"`) {
		t.Fatalf("allow-listed cdn links must be rewritten: %s", body)
	}
	if !strings.Contains(body, `src="https://other.example.com/x.js"`) {
		t.Fatalf("other links must be kept: %s", body)
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "false" {
		t.Fatalf("expected cache miss header")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHandlerReportsCacheHit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, "body{}")
	}))
	defer upstream.Close()

	app, worker := newHandlerApp(t, upstream.URL, nil)

	resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/static/css/site.css", nil))
	if resp.StatusCode != http.StatusOK || body != "body{}" {
		t.Fatalf("unexpected first response: %d %s", resp.StatusCode, body)
	}
	worker.Wait()
	upstream.Close()

	resp, body = doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/static/css/site.css", nil))
	if resp.StatusCode != http.StatusOK || body != "body{}" {
		t.Fatalf("unexpected cached response: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit header, got %q", resp.Header.Get("X-Offline-Hub-Cache-Hit"))
	}
}

func TestHandlerOfflineFallbacks(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	base := upstream.URL
	upstream.Close()

	app, _ := newHandlerApp(t, base, nil)

	nav := httptest.NewRequest(http.MethodGet, "http://localhost/cart/", nil)
	nav.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, body := doRequest(t, app, nav)
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(body, `"upstream_failed"`) {
		t.Fatalf("navigation without offline page must fail: %d %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/api/cart/", nil))
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"offline":true`) {
		t.Fatalf("api fallback expected: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Offline-Hub-Source") != string(SourceOfflineJSON) {
		t.Fatalf("unexpected source header %q", resp.Header.Get("X-Offline-Hub-Source"))
	}

	resp, body = doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://localhost/media/a.png", nil))
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(body, `"upstream_failed"`) {
		t.Fatalf("other requests have no substitute: %d %s", resp.StatusCode, body)
	}
}

func TestHandlerForwardsPostBody(t *testing.T) {
	var received string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received = r.Method + " " + string(data) + " " + r.Header.Get("X-CSRFToken")
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	app, _ := newHandlerApp(t, upstream.URL, nil)
	req := httptest.NewRequest(http.MethodPost, "http://localhost/orders/", strings.NewReader(`{"a":1}`))
	req.Header.Set("X-CSRFToken", "tok")
	resp, _ := doRequest(t, app, req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if received != `POST {"a":1} tok` {
		t.Fatalf("unexpected upstream request: %s", received)
	}
}
