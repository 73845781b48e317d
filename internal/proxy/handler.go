package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/server"
)

// PageDecorator 在 HTML 页面返回前注入连接状态与通知。
type PageDecorator interface {
	DecorateHTML(body []byte) ([]byte, error)
}

// Handler 把 Fiber 请求转换为出站 http.Request 交给 Worker，
// 再将结果（缓存、网络或回退）写回客户端。
type Handler struct {
	worker    *Worker
	registry  *server.OriginRegistry
	decorator PageDecorator
	logger    *logrus.Logger
}

// NewHandler constructs a proxy handler around a worker and origin registry.
func NewHandler(worker *Worker, registry *server.OriginRegistry, decorator PageDecorator, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		worker:    worker,
		registry:  registry,
		decorator: decorator,
		logger:    logger,
	}
}

// Handle 执行缓存优先查找与回源，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, target *server.Target) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildUpstreamRequest(ctx, c, target)
	if err != nil {
		h.logResult(c, target, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	result, err := h.worker.Fetch(ctx, req)
	if err != nil {
		h.logResult(c, target, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	resp := result.Response
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Hub-Source", string(result.Source))
	c.Set("X-Offline-Hub-Cache-Hit", strconv.FormatBool(result.CacheHit()))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(c, target, requestID, resp.StatusCode, result.CacheHit(), started, nil)
		return nil
	}

	if isHTML(resp.Header) {
		err = h.serveHTML(c, resp)
	} else {
		if resp.ContentLength > 0 {
			c.Response().Header.SetContentLength(int(resp.ContentLength))
		}
		_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	}
	h.logResult(c, target, requestID, resp.StatusCode, result.CacheHit(), started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) serveHTML(c fiber.Ctx, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if rewritten, rewriteErr := rewriteCDNLinks(body, h.registry); rewriteErr == nil {
		body = rewritten
	} else {
		h.logger.WithError(rewriteErr).WithField("action", "cdn_rewrite").Warn("cdn_rewrite_failed")
	}
	if h.decorator != nil {
		if decorated, decorateErr := h.decorator.DecorateHTML(body); decorateErr == nil {
			body = decorated
		} else {
			h.logger.WithError(decorateErr).WithField("action", "decorate").Warn("decorate_failed")
		}
	}
	c.Response().Header.Del(fiber.HeaderContentLength)
	_, err = c.Response().BodyWriter().Write(body)
	return err
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, target *server.Target) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.URL.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = target.URL.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	c fiber.Ctx,
	target *server.Target,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	upstream := ""
	if target != nil && target.URL != nil {
		upstream = target.URL.String()
	}
	fields := logging.RequestFields(
		h.worker.Generation(),
		c.Method(),
		upstream,
		c.Get("Sec-Fetch-Dest"),
		cacheHit,
	)
	fields["action"] = "proxy"
	if target != nil {
		fields["origin"] = string(target.Kind)
	}
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func isHTML(header http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range server.ForwardableHeaders(headers) {
		if key == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
