package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"nerfbot-server-go/internal/domain/device/client"
	"nerfbot-server-go/internal/domain/device/service"
	"nerfbot-server-go/internal/domain/eventbus"
	"nerfbot-server-go/internal/domain/gun"
	gunrepo "nerfbot-server-go/internal/domain/gun/repository"
	"nerfbot-server-go/internal/domain/ledger"
	ledgerstore "nerfbot-server-go/internal/domain/ledger/store"
	platformconfig "nerfbot-server-go/internal/platform/config"
	platformerrors "nerfbot-server-go/internal/platform/errors"
	platformlogging "nerfbot-server-go/internal/platform/logging"
	platformobservability "nerfbot-server-go/internal/platform/observability"
	platformstorage "nerfbot-server-go/internal/platform/storage"
	httptransport "nerfbot-server-go/internal/transport/http"
)

const logTag = "引导"

// Options 控制启动参数；Config 非空时跳过配置文件加载
type Options struct {
	ConfigPath string
	Config     *platformconfig.Config
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	db         *gorm.DB

	registry              *prometheus.Registry
	metrics               *platformobservability.Metrics
	observabilityShutdown platformobservability.ShutdownFunc

	ledgerStore ledgerstore.Store
	ledger      *ledger.Ledger
	bus         *eventbus.Bus
	events      *platformstorage.FireEventRepository
	arbitrator  *gun.Arbitrator
	startedAt   time.Time
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	state := &appState{config: opts.Config, configPath: opts.ConfigPath, startedAt: time.Now()}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.close(context.Background())
		return err
	}
	logger := state.logger
	logBootstrapGraph(steps, logger)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		state.close(shutdownCtx)
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}
	logger.InfoTag(logTag, "服务已成功启动")

	return waitForShutdown(signalCtx, groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag(logTag, "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag(logTag, "%s: %s", step.ID, step.Title)
			continue
		}
		logger.InfoTag(logTag, "%s: %s (依赖 %v)", step.ID, step.Title, step.DependsOn)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "observability:setup",
			Title:     "Setup metrics and spans",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "ledger:init-store",
			Title:     "Initialise credit ledger",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindLedger,
			Execute:   initLedgerStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Initialise event bus and audit trail",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "gun:init-arbitrator",
			Title:     "Initialise fire arbitrator",
			DependsOn: []string{"ledger:init-store", "events:init-bus", "observability:setup"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initArbitratorStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	if state.config != nil {
		if state.configPath == "" {
			state.configPath = "inline"
		}
		return nil
	}
	result, err := platformconfig.NewLoader(state.configPath).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	if !result.FromFile {
		state.configPath = result.Path + " (defaults)"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag(logTag, "日志模块就绪 [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(state.config.Database.Path)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = db
	state.logger.InfoTag(logTag, "数据库已就绪: %s", state.config.Database.Path)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := platformobservability.MustNewMetrics(registry)

	cfg := platformobservability.Config{Enabled: state.config.Observability.Enabled}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog(), metrics)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup", "failed to setup observability hooks", err)
	}
	state.registry = registry
	state.metrics = metrics
	state.observabilityShutdown = shutdown
	return nil
}

func initLedgerStep(_ context.Context, state *appState) error {
	cfg := state.config.Ledger
	storeCfg := ledgerstore.Config{
		Driver: cfg.Driver,
		SQLite: &ledgerstore.SQLiteConfig{DSN: cfg.SQLite.DSN},
		Redis: &ledgerstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		},
	}
	st, err := ledgerstore.New(storeCfg, ledgerstore.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindLedger, "ledger:init-store", "failed to create ledger store", err)
	}
	state.ledgerStore = st
	state.ledger = ledger.New(st, state.logger)
	state.logger.InfoTag("账本", "积分账本已就绪 (driver=%s)", cfg.Driver)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New()
	state.events = platformstorage.NewFireEventRepository(state.db)
	if err := eventbus.SetupAuditHandlers(state.bus, eventbus.NewAuditHandler(state.events, state.logger)); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "events:init-bus", "failed to subscribe audit handlers", err)
	}
	return nil
}

func gunDefaults(cfg platformconfig.GunDefaults) gun.GunConfig {
	return gun.GunConfig{
		MinHorizontal:    cfg.MinHorizontal,
		MaxHorizontal:    cfg.MaxHorizontal,
		MinVertical:      cfg.MinVertical,
		MaxVertical:      cfg.MaxVertical,
		HorizontalOffset: cfg.HorizontalOffset,
		VerticalOffset:   cfg.VerticalOffset,
		HomeX:            cfg.HomeX,
		HomeY:            cfg.HomeY,
		IdleTimeoutSecs:  cfg.IdleTimeout,
		Active:           cfg.Active,
	}
}

func initArbitratorStep(ctx context.Context, state *appState) error {
	cfg := state.config

	source := gunrepo.NewSystemConfig(state.db, gunDefaults(cfg.Gun))
	gunConfig, err := gun.NewConfigState(ctx, source, gunDefaults(cfg.Gun))
	if err != nil {
		return err
	}

	deviceClient := client.New(client.Config{
		BaseURL:        cfg.Device.URL,
		RequestTimeout: cfg.Device.RequestTimeout,
		PollInterval:   cfg.Device.PollInterval,
		AwaitTimeout:   cfg.Device.AwaitTimeout,
	}, state.logger)

	state.arbitrator = gun.NewArbitrator(service.NewDeviceService(deviceClient, nil), state.ledger, gunConfig, gun.Options{
		Owners:           cfg.Channel.Owners,
		FollowerRequired: cfg.Channel.FollowerRequired,
		AwaitTimeout:     cfg.Device.AwaitTimeout,
		PollInterval:     cfg.Device.PollInterval,
		WatchdogInterval: cfg.Watchdog.Interval,
		Publisher:        state.bus,
		Metrics:          state.metrics,
		Logger:           state.logger,
	})
	state.logger.InfoTag("开火", "仲裁器已就绪，设备地址 %s", cfg.Device.URL)
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	config := state.config
	logger := state.logger

	router, err := httptransport.NewAPI(httptransport.Dependencies{
		Config:     config,
		Logger:     logger,
		Arbitrator: state.arbitrator,
		Ledger:     state.ledger,
		Events:     state.events,
		Migrations: platformstorage.NewMigrationManager(state.db),
		Gatherer:   state.registry,
		StartedAt:  state.startedAt,
	})
	if err != nil {
		return err
	}

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "api Not found", nil)
	})

	httpServer := &http.Server{
		Addr:              config.Server.Addr(),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})
	return nil
}

func waitForShutdown(
	ctx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-ctx.Done():
		logger.InfoTag(logTag, "收到系统信号 %v，正在进行资源清理", context.Cause(ctx))
	case <-groupCtx.Done():
		logger.WarnTag(logTag, "服务异常退出，正在进行资源清理")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(logTag, "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag(logTag, "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag(logTag, "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}

// close 按依赖逆序释放资源，可在部分初始化后调用
func (s *appState) close(ctx context.Context) {
	logger := s.logger
	if s.arbitrator != nil {
		if err := s.arbitrator.Shutdown(ctx); err != nil {
			logger.WarnTag(logTag, "仲裁器未正常关闭: %v", err)
		}
	}
	s.bus.WaitAsync()
	if s.ledgerStore != nil {
		if err := s.ledgerStore.Close(ctx); err != nil {
			logger.WarnTag("账本", "账本存储未正常关闭: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			logger.WarnTag(logTag, "数据库未正常关闭: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		if err := s.observabilityShutdown(ctx); err != nil {
			logger.WarnTag(logTag, "可观测性未正常关闭: %v", err)
		}
	}
	if logger != nil {
		_ = logger.Close()
	}
}
