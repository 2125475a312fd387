package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/flowforge/flowforge/config"
	"github.com/flowforge/flowforge/pkg/action"
	"github.com/flowforge/flowforge/pkg/api"
	"github.com/flowforge/flowforge/pkg/api/events"
	"github.com/flowforge/flowforge/pkg/api/handlers"
	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/eventbus"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/progress"
	"github.com/flowforge/flowforge/pkg/retention"
	"github.com/flowforge/flowforge/pkg/schedule"
	"github.com/flowforge/flowforge/pkg/storage"
	"github.com/flowforge/flowforge/pkg/storage/badger"
	"github.com/flowforge/flowforge/pkg/storage/memory"
	"github.com/flowforge/flowforge/pkg/telemetry/tracing"
	"github.com/flowforge/flowforge/pkg/timer"
	"github.com/flowforge/flowforge/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting flowforge",
		"version", version.Version,
		"build_time", version.BuildTime,
		"git_commit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracing shutdown failed", "error", err)
		}
	}()

	// Storage backend
	var store storage.Store
	switch cfg.Storage.Type {
	case "badger":
		store, err = badger.NewStore(&badger.Config{
			Path:              cfg.Storage.Badger.Path,
			SyncWrites:        cfg.Storage.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Storage.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Storage.Badger.NumVersionsToKeep,
		})
		if err != nil {
			log.Error("failed to open badger storage", "error", err)
			os.Exit(1)
		}
		log.Info("initialized badger storage", "path", cfg.Storage.Badger.Path)
	default:
		store = memory.NewStore()
		log.Info("initialized memory storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("error closing storage", "error", err)
		}
	}()

	// Metrics
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)
	if metricsManager.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	// Event bus and lifecycle publisher
	nodeID, _ := os.Hostname()
	if nodeID == "" {
		nodeID = "flowforge"
	}
	retryCfg := eventbus.RetryConfig{
		MaxRetries:     cfg.Events.Retry.MaxRetries,
		InitialBackoff: cfg.Events.Retry.InitialBackoff,
		MaxBackoff:     cfg.Events.Retry.MaxBackoff,
		BackoffFactor:  cfg.Events.Retry.BackoffFactor,
	}

	var transport eventbus.Transport
	var lifecycleSub *eventbus.Subscription
	switch cfg.Events.Bus {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		})
		defer client.Close()
		bus := eventbus.NewRedisBus(client, cfg.Events.ChannelPrefix, cfg.Events.BufferSize)
		lifecycleSub, err = bus.Subscribe(ctx, eventbus.SubjectPrefix+".>")
		if err != nil {
			log.Error("failed to subscribe to redis event bus", "error", err)
			os.Exit(1)
		}
		transport = bus
		log.Info("initialized redis event bus", "address", cfg.Events.Redis.Address)
	default:
		bus := eventbus.NewMemoryBus()
		lifecycleSub, err = bus.Subscribe(eventbus.SubjectPrefix+".>", cfg.Events.BufferSize)
		if err != nil {
			log.Error("failed to subscribe to memory event bus", "error", err)
			os.Exit(1)
		}
		transport = bus
		log.Info("initialized in-process event bus")
	}
	defer lifecycleSub.Close()

	publisher, err := eventbus.NewPublisher(nodeID, transport, retryCfg, metricsManager)
	if err != nil {
		log.Error("failed to create event publisher", "error", err)
		os.Exit(1)
	}

	// Fan lifecycle events out to websocket clients.
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()
	go broadcaster.Pump(ctx, lifecycleSub.C(), eventbus.NewEnvelopeConsumer(eventbus.NewDefaultSchemaRouter()))

	// Progress aggregation
	aggregator, err := progress.NewAggregator(store,
		progress.WithPublisher(publisher),
		progress.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to create progress aggregator", "error", err)
		os.Exit(1)
	}

	// Action registry with builtins
	registry := action.NewRegistry()
	if err := registry.Register(action.WaitUntilType, action.NewWaitUntil()); err != nil {
		log.Error("failed to register builtin actions", "error", err)
		os.Exit(1)
	}

	// Timer service delivers synthetic timeout events to suspended steps.
	// The engine does not exist yet, so deliveries go through a closure.
	var eng *engine.Engine
	timers, err := timer.NewService(store, func(ctx context.Context, externalWorkflowID string, eventData map[string]any) error {
		return eng.DeliverTimeout(ctx, externalWorkflowID, eventData)
	}, timer.WithLogger(log))
	if err != nil {
		log.Error("failed to create timer service", "error", err)
		os.Exit(1)
	}
	defer timers.Close()

	// Engine
	eng, err = engine.New(store, registry, aggregator,
		engine.WithLogger(log),
		engine.WithMetrics(metricsManager),
		engine.WithRetryBackoff(cfg.Engine.RetryBackoff),
		engine.WithDeadlines(timers),
	)
	if err != nil {
		log.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if recovered, err := timers.Recover(ctx); err != nil {
		log.Error("timer recovery failed", "error", err)
	} else if recovered > 0 {
		log.Info("recovered suspended step deadlines", "count", recovered)
	}

	// Schedule poller
	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.Scheduler.Enabled {
		pollerOpts := []schedule.Option{
			schedule.WithLogger(log),
			schedule.WithMaxConcurrent(cfg.Scheduler.MaxTriggersPerSweep),
		}
		if cfg.Scheduler.TriggerRate > 0 {
			pollerOpts = append(pollerOpts, schedule.WithTriggerRate(rate.Limit(cfg.Scheduler.TriggerRate), cfg.Scheduler.TriggerBurst))
		}
		poller, err := schedule.NewPoller(store, eng, pollerOpts...)
		if err != nil {
			log.Error("failed to create schedule poller", "error", err)
			os.Exit(1)
		}
		go runScheduler(schedulerCtx, poller, metricsManager, log, cfg.Scheduler.PollInterval)
	}

	// Retention cleaner
	retentionCtx, stopRetention := context.WithCancel(ctx)
	defer stopRetention()
	if cfg.Retention.Enabled {
		cleaner, err := retention.NewCleaner(store, cfg.Retention.Days,
			retention.WithBatchSize(cfg.Retention.BatchSize),
			retention.WithLogger(log),
		)
		if err != nil {
			log.Error("failed to create retention cleaner", "error", err)
			os.Exit(1)
		}
		go runRetention(retentionCtx, cleaner, metricsManager, log, cfg.Retention.Interval)
	}

	// HTTP API
	wsHandler := handlers.NewWebSocketHandler(log, broadcaster, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	go wsHandler.Run(ctx)
	defer wsHandler.Close()

	apiHandlers := &api.Handlers{
		Definitions: handlers.NewDefinitionHandler(store, log),
		Executions:  handlers.NewExecutionHandler(eng, store, aggregator, log),
		Schedules:   handlers.NewScheduleHandler(store, log),
		Health:      handlers.NewHealthHandler(store),
		WebSocket:   wsHandler,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Config hot reload
	if *configPath != "" {
		watchConfig(ctx, *configPath, log, cfg)
	}

	log.Info("flowforge is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
		"event_bus", cfg.Events.Bus,
	)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down HTTP server", "error", err)
	}
	stopScheduler()
	stopRetention()

	log.Info("flowforge stopped gracefully")
}

// runScheduler sweeps due schedules on a fixed interval, recording sweep
// metrics.
func runScheduler(ctx context.Context, poller *schedule.Poller, m *metrics.Manager, log logger.Logger, interval time.Duration) {
	log.Info("schedule poller started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := poller.Poll(ctx)
			if err != nil {
				log.Error("schedule sweep failed", "error", err)
				continue
			}
			m.RecordSweep(summary.DueCount, summary.TriggeredCount, summary.ErrorCount)
		}
	}
}

// runRetention runs periodic cleanup passes, recording run metrics.
func runRetention(ctx context.Context, cleaner *retention.Cleaner, m *metrics.Manager, log logger.Logger, interval time.Duration) {
	log.Info("retention cleaner started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := cleaner.Run(ctx)
			if err != nil {
				log.Error("retention run failed", "error", err)
				m.RecordRetentionRun("failed", 0, nil)
				continue
			}
			m.RecordRetentionRun(report.Status, report.Elapsed, map[string]int{
				"executions":      report.Deleted.Executions,
				"step_executions": report.Deleted.StepExecutions,
				"progress_events": report.Deleted.ProgressEvents,
				"subscriptions":   report.Deleted.Subscriptions,
			})
		}
	}
}

// watchConfig applies hot-reloadable settings when the config file changes.
func watchConfig(ctx context.Context, path string, log logger.Logger, current *config.Config) {
	watcher, err := config.NewWatcher(path, config.NewLoader())
	if err != nil {
		log.Warn("config watching disabled", "error", err)
		return
	}

	previous := config.ExtractHotReloadable(current)
	watcher.OnChange(func(next *config.Config) {
		reloaded := config.ExtractHotReloadable(next)
		if !reloaded.Changed(previous) {
			return
		}
		if reloaded.LogLevel != previous.LogLevel {
			log.SetLevel(logger.ParseLevel(reloaded.LogLevel))
			log.Info("log level changed", "level", reloaded.LogLevel)
		}
		log.Info("configuration reloaded", "path", path)
		previous = reloaded
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()
}

func buildOverrides() map[string]any {
	overrides := make(map[string]any)

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("FlowForge - ML Pipeline Orchestration Control Plane\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("FlowForge - workflow orchestration daemon\n\n")
	fmt.Printf("Usage: flowforged [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  flowforged                                  # Run with default config\n")
	fmt.Printf("  flowforged -config config.yaml              # Use specific config file\n")
	fmt.Printf("  flowforged -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  flowforged -version                         # Print version info\n")
}
