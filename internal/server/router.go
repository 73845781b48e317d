package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component responsible for answering proxied
// storefront/CDN requests. It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *Target) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *Target) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, target *Target) error {
	return f(c, target)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyTarget    = "_offlinehub_target"
	contextKeyRequestID = "_offlinehub_request_id"
)

// NewApp builds a Fiber application with origin resolution middleware and
// structured error handling. Admin routes under /-/ are registered by callers.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("origin registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		target, _ := getTargetFromContext(c)
		if target == nil {
			return renderOriginUnmapped(c, opts.Logger, string(c.Request().URI().Path()))
		}
		return opts.Proxy.Handle(c, target)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并把请求路径解析为出站 Target。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		rawPath := string(c.Request().URI().Path())
		if isDiagnosticsPath(rawPath) {
			return c.Next()
		}

		target, ok := opts.Registry.Resolve(rawPath, string(c.Request().URI().QueryString()))
		if !ok {
			return renderOriginUnmapped(c, opts.Logger, rawPath)
		}

		c.Locals(contextKeyTarget, target)
		return c.Next()
	}
}

func renderOriginUnmapped(c fiber.Ctx, logger *logrus.Logger, path string) error {
	logger.WithFields(logrus.Fields{
		"action": "origin_lookup",
		"path":   path,
	}).Warn("origin unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "origin_unmapped",
	})
}

func getTargetFromContext(c fiber.Ctx) (*Target, bool) {
	if value := c.Locals(contextKeyTarget); value != nil {
		if target, ok := value.(*Target); ok {
			return target, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// isDiagnosticsPath 判断是否为本地管理接口；CDN 挂载点仍然走代理。
func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/") && !strings.HasPrefix(path, CDNMountPrefix)
}
