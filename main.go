package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/connectivity"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/orders"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/server/routes"
	"github.com/offline-hub/offline-hub/internal/storage"
	"github.com/offline-hub/offline-hub/internal/ui"
	"github.com/offline-hub/offline-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Global.Upstream
		fields["generation"] = cfg.Global.CacheGeneration
		fields["precache"] = len(cfg.InstallList())
		fields["clear_policy"] = string(cfg.Sync.ClearPolicy)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer rt.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["generation"] = cfg.Global.CacheGeneration
	fields["cdn_origins"] = cfg.Global.CDNOrigins
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	rt.monitor.Start(ctx)

	if err := startHTTPServer(ctx, cfg, rt.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// appRuntime 持有一次进程生命周期内共享的组件。
type appRuntime struct {
	local      *storage.Store
	worker     *proxy.Worker
	monitor    *connectivity.Monitor
	controller *ui.Controller
	app        *fiber.App
}

func (r *appRuntime) close() {
	r.controller.Wait()
	r.worker.Wait()
	_ = r.local.Close()
}

// buildRuntime 遵循“本地存储 → 缓存代安装/激活 → 连通性监控 → 页面控制器 → Fiber”顺序组装组件，
// 保证页面控制器与后台同步共享同一个订单队列与 Syncer。
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*appRuntime, error) {
	local, err := storage.Open(cfg.Sync.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("打开本地存储失败: %w", err)
	}
	store, err := cache.NewStore(cfg.CacheDir())
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Global.MetricsEnabled {
		m = metrics.New()
	}

	clients := server.NewClients(cfg)
	state := connectivity.NewState(true)
	queue := orders.NewQueue(local, cfg.Sync.QueueSlot)
	syncer := orders.NewSyncer(orders.SyncerOptions{
		Queue:     queue,
		Submitter: orders.NewHTTPSubmitter(clients.Orders, cfg.OrderEndpointURL()),
		Policy:    cfg.Sync.ClearPolicy,
		Logger:    logger,
		Recorder:  m,
	})

	controller, err := ui.NewController(ui.Options{
		State:           state,
		Syncer:          syncer,
		NotificationTTL: cfg.Global.NotificationTTL.DurationValue(),
		Logger:          logger,
	})
	if err != nil {
		local.Close()
		return nil, err
	}

	worker := proxy.NewWorker(proxy.WorkerOptions{
		Options:  proxy.OptionsFromConfig(cfg),
		Client:   clients.Upstream,
		Store:    store,
		Logger:   logger,
		Recorder: m,
		Reconciler: proxy.ReconcilerFunc(func(ctx context.Context) error {
			_, err := syncer.Sync(ctx, controller.CSRFToken())
			return err
		}),
	})
	if err := worker.Install(ctx); err != nil {
		logger.WithError(err).WithField("action", "install").Warn("缓存代安装失败，沿用旧缓存代")
		if _, resumeErr := worker.Resume(ctx); resumeErr != nil {
			logger.WithError(resumeErr).WithField("action", "resume").Warn("读取已有缓存代失败")
		}
	} else if _, err := worker.Activate(ctx); err != nil {
		logger.WithError(err).WithField("action", "activate").Warn("清理旧缓存代失败")
	}

	probeURL := cfg.Global.ProbePath
	if base := cfg.UpstreamURL(); base != nil {
		probeURL = base.JoinPath(cfg.Global.ProbePath).String()
	}
	monitor := connectivity.NewMonitor(connectivity.MonitorOptions{
		State:    state,
		Client:   clients.Probe,
		ProbeURL: probeURL,
		Interval: cfg.Global.ProbeInterval.DurationValue(),
		Logger:   logger,
		Gauge:    m,
	})
	controller.Init(monitor)

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		local.Close()
		return nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewHandler(worker, registry, controller, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		local.Close()
		return nil, err
	}
	routes.RegisterAdminRoutes(app, routes.Dependencies{
		Worker:     worker,
		Monitor:    monitor,
		Controller: controller,
		Queue:      queue,
		Cache:      store,
		Metrics:    m,
	})

	return &appRuntime{
		local:      local,
		worker:     worker,
		monitor:    monitor,
		controller: controller,
		app:        app,
	}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭失败")
		}
	}()

	err := app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
