package routes

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/connectivity"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/orders"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/ui"
)

// Dependencies 汇总 /-/ 管理接口需要访问的组件。
type Dependencies struct {
	Worker     *proxy.Worker
	Monitor    *connectivity.Monitor
	Controller *ui.Controller
	Queue      *orders.Queue
	Cache      cache.Store
	Metrics    *metrics.Metrics
}

// RegisterAdminRoutes 暴露连通性事件、后台同步、离线订单、通知与缓存代等本地管理接口。
func RegisterAdminRoutes(app *fiber.App, deps Dependencies) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		queued := 0
		if deps.Queue != nil {
			snap, err := deps.Queue.Load(requestContext(c))
			if err != nil {
				return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
			}
			queued = len(snap.Records)
		}
		return c.JSON(fiber.Map{
			"online":        deps.Controller.Online(),
			"generation":    deps.Worker.Generation(),
			"queued_orders": queued,
			"notifications": len(deps.Controller.Notifications()),
		})
	})

	app.Post("/-/connectivity/:state", func(c fiber.Ctx) error {
		var online bool
		switch strings.ToLower(c.Params("state")) {
		case "online":
			online = true
		case "offline":
			online = false
		default:
			return writeError(c, fiber.StatusBadRequest, "invalid_state")
		}
		changed := deps.Monitor.Report(requestContext(c), online)
		return c.JSON(fiber.Map{"online": online, "changed": changed})
	})

	app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
		tag := c.Params("tag")
		handled, err := deps.Worker.HandleSync(requestContext(c), tag)
		if !handled {
			return writeError(c, fiber.StatusNotFound, "unknown_sync_tag")
		}
		if err != nil {
			return writeError(c, fiber.StatusBadGateway, "sync_failed")
		}
		return c.JSON(fiber.Map{"tag": tag, "status": "ok"})
	})

	app.Get("/-/orders", func(c fiber.Ctx) error {
		snap, err := deps.Queue.Load(requestContext(c))
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
		}
		records := snap.Records
		if records == nil {
			records = []orders.Record{}
		}
		return c.JSON(fiber.Map{"revision": snap.Revision, "orders": records})
	})

	app.Post("/-/orders", func(c fiber.Ctx) error {
		fields, err := orders.DecodeFields(c.Body())
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_order")
		}
		rec, err := deps.Controller.SaveOfflineOrder(requestContext(c), fields)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	})

	app.Delete("/-/orders", func(c fiber.Ctx) error {
		if err := deps.Queue.Clear(requestContext(c)); err != nil {
			return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		list := deps.Controller.Notifications()
		if list == nil {
			list = []*ui.Notification{}
		}
		return c.JSON(fiber.Map{"notifications": list})
	})

	app.Delete("/-/notifications/:id", func(c fiber.Ctx) error {
		if !deps.Controller.Dismiss(c.Params("id")) {
			return writeError(c, fiber.StatusNotFound, "notification_not_found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/skeleton/:container", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(ui.SkeletonHTML())
	})

	app.Post("/-/skeleton/:container", func(c fiber.Ctx) error {
		applied := ui.ShowSkeleton(deps.Controller.Page(), c.Params("container"))
		return c.JSON(fiber.Map{"container": c.Params("container"), "applied": applied})
	})

	app.Delete("/-/skeleton/:container", func(c fiber.Ctx) error {
		applied := ui.HideSkeleton(deps.Controller.Page(), c.Params("container"))
		return c.JSON(fiber.Map{"container": c.Params("container"), "applied": applied})
	})

	app.Get("/-/cache/generations", func(c fiber.Ctx) error {
		generations, err := deps.Cache.Generations(requestContext(c))
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "cache_unavailable")
		}
		if generations == nil {
			generations = []string{}
		}
		return c.JSON(fiber.Map{"current": deps.Worker.Generation(), "generations": generations})
	})

	if deps.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}
}

// requestContext 剥离请求级取消，保证由管理接口触发的后台同步不会随请求结束而中断。
func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
