package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"Rivalz-Swarm/internal/agent"
	"Rivalz-Swarm/internal/api"
	"Rivalz-Swarm/internal/auth"
	"Rivalz-Swarm/internal/config"
	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/internal/observability/alerting"
	"Rivalz-Swarm/internal/observability/metrics"
	"Rivalz-Swarm/internal/pipeline"
	"Rivalz-Swarm/internal/readiness"
	"Rivalz-Swarm/internal/session"
	"Rivalz-Swarm/internal/task"
	"Rivalz-Swarm/internal/toolkit"
	"Rivalz-Swarm/pkg/logger"
)

// startupTaskPrefix 与启动时间拼接成启动构建任务的 ID。
const startupTaskPrefix = "startup-"

// main 是 rivalzd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("rivalzd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv(config.DefaultPathEnv)
	if configPath == "" {
		configPath = filepath.Join("configs", "rivalz.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("rivalzd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 缺少密钥时直接失败。
	gateway, err := kbstore.New(cfg.KnowledgeStore.Token(),
		kbstore.WithBaseURL(cfg.KnowledgeStore.BaseURL),
		kbstore.WithTimeout(cfg.KnowledgeStore.Timeout()),
	)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	oracle, err := createOracle(cfg.LLM)
	if err != nil {
		return err
	}

	searchBackend, closeSearch, err := createSearchBackend(ctx, cfg.Tools.Search, cfg.Storage.Redis, cfg.Tools.HTTPClientTimeout())
	if err != nil {
		return err
	}
	defer closeSearch()

	chain, closeChain, err := createChain(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer closeChain()

	kit := toolkit.New(toolkit.Dependencies{
		Store:       gateway,
		Search:      searchBackend,
		Chain:       chain,
		TopicPhrase: cfg.Tools.TopicPhrase,
		TVLURL:      cfg.Tools.TVLURL,
		TVLRetries:  cfg.Tools.TVLRetries,
		PriceURL:    cfg.Tools.PriceURL,
	})
	registry, err := agent.RivalzTopology(kit, agent.TopologyOptions{ExtendedTools: cfg.Agents.ExtendedTools})
	if err != nil {
		return err
	}

	dispatcherOpts := []agent.Option{
		agent.WithMaxTurns(cfg.Agents.MaxTurns),
		agent.WithLLMTimeout(providerTimeout(cfg.LLM)),
	}
	if m != nil {
		dispatcherOpts = append(dispatcherOpts, agent.WithObserver(m))
	}
	dispatcher := agent.NewDispatcher(oracle, dispatcherOpts...)

	archive, err := createTranscriptArchive(ctx, cfg.Storage.Transcript, cfg.Runtime.DataDir)
	if err != nil {
		return err
	}
	sessionOpts := []session.Option{
		session.WithIdleTTL(time.Duration(cfg.Server.SessionIdleMinutes) * time.Minute),
	}
	if archive != nil {
		defer archive.Close()
		sessionOpts = append(sessionOpts, session.WithArchive(archive))
	}
	if m != nil {
		sessionOpts = append(sessionOpts, session.WithSessionGauge(m.SetActiveSessions))
	}
	sessions, err := session.New(dispatcher, registry.MustGet(agent.TriageAgent), sessionOpts...)
	if err != nil {
		return err
	}

	pollerOpts := []readiness.Option{readiness.WithInterval(cfg.Setup.PollInterval())}
	if cfg.Setup.UnboundedWait {
		pollerOpts = append(pollerOpts, readiness.WithoutDeadline())
	} else {
		pollerOpts = append(pollerOpts, readiness.WithDeadline(cfg.Setup.ReadyTimeout()))
	}
	if m != nil {
		pollerOpts = append(pollerOpts, readiness.WithCheckHook(m.ObserveReadinessCheck))
	}
	poller := readiness.New(gateway, pollerOpts...)
	setup := pipeline.New(gateway, poller, pipeline.WithDefaults(cfg.Setup.DocumentsDir, cfg.Setup.KnowledgeBaseName))

	taskStore, err := createTaskStore(ctx, cfg.Storage.Transcript)
	if err != nil {
		return err
	}
	taskQueue, err := createTaskQueue(ctx, cfg.TaskQueue)
	if err != nil {
		_ = taskStore.Close()
		return err
	}
	taskService := task.NewService(taskStore, taskQueue, cfg.Setup.MaxRetries)
	defer func() {
		if err := taskService.Close(); err != nil {
			lg.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if webhook := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, 10*time.Second); webhook != nil {
		notifiers = append(notifiers, webhook)
	}
	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithRecoveryHandler(pipeline.NewFallback(gateway, cfg.Setup.KnowledgeBaseName)),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		task.WithCompletionHook(func(_ context.Context, t *task.Task) {
			if t.Result != nil && t.Result.KnowledgeBaseID != "" {
				sessions.SetDefaultKnowledgeBase(t.Result.KnowledgeBaseID)
			}
		}),
	}
	if m != nil {
		processorOpts = append(processorOpts, task.WithObserver(m))
	}
	processor := task.NewProcessor(setup, taskStore, taskQueue, taskQueue, processorOpts...)

	adminKeys := make([]auth.Key, 0, len(cfg.Server.AdminKeys))
	for _, k := range cfg.Server.AdminKeys {
		adminKeys = append(adminKeys, auth.Key{Name: k.Name, Secret: k.Value()})
	}
	serverOpts := []api.Option{
		api.WithAdminAuth(auth.New(adminKeys)),
		api.WithKnowledgeStore(gateway),
		api.WithTaskService(taskService),
		api.WithChatRateLimit(cfg.Server.ChatRatePerSecond, cfg.Server.ChatBurst),
	}
	if m != nil {
		serverOpts = append(serverOpts, api.WithMetrics(m))
		if cfg.Metrics.Address != "" {
			serverOpts = append(serverOpts, api.WithSeparateMetricsListener())
		}
	}
	server := api.NewServer(cfg.Server.Address, sessions, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return sessions.Run(gctx) })
	if m != nil && cfg.Metrics.Address != "" {
		g.Go(func() error { return m.StartServer(gctx, cfg.Metrics.Address) })
	}

	// 启动构建失败只记录日志，状态通过 /healthz 暴露。
	if cfg.Setup.Enabled {
		id := startupTaskPrefix + time.Now().UTC().Format("20060102T150405")
		if _, err := taskService.Submit(gctx, pipeline.Request{}, task.TriggerStartup, task.WithTaskID(id)); err != nil {
			lg.Error("提交启动构建任务失败", slog.Any("error", err))
		}
	}

	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("rivalzd 已退出")
	return nil
}
