package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sshcollectorpro/confbackup/api/router"
	"github.com/sshcollectorpro/confbackup/internal/artifact"
	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/connector"
	"github.com/sshcollectorpro/confbackup/internal/database"
	"github.com/sshcollectorpro/confbackup/internal/diff"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/internal/service"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

const defaultConfigPath = "configs/config.yaml"

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}
}

func main() {
	configPath := defaultConfigPath
	if p := os.Getenv("CONFBACKUP_CONFIG"); p != "" {
		configPath = p
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(loggerConfig(cfg)); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("Starting Config Backup Server", "version", router.Version)

	if model.InitSecrets(cfg.Security.EncryptionKey) {
		logger.Warn("security.encryption_key not set, device credentials are sealed with the built-in key")
	}

	// 初始化数据库
	db, err := database.Open(cfg.Database.SQLite)
	if err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer database.Close(db)

	// 备份文件存储
	blob, err := artifact.NewBlob(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize artifact storage", "error", err)
	}
	store := artifact.NewStore(db, blob)
	logger.Info("Artifact storage ready", "backend", store.Backend())

	conn := connector.NewRouter(cfg)
	engine := diff.NewEngine(cfg.Diff)
	metrics := service.NewMetricsCollector()

	orch, err := service.NewOrchestrator(service.OrchestratorConfig{
		DB:        db,
		Connector: conn,
		Artifacts: store,
		Backup:    cfg.Backup,
		Metrics:   metrics,
	})
	if err != nil {
		logger.Fatal("Failed to create orchestrator", "error", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := orch.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", "error", err)
	}
	defer orch.Stop()

	schedules, err := service.NewScheduleService(db, orch, cfg.Schedule, nil)
	if err != nil {
		logger.Fatal("Failed to create schedule service", "error", err)
	}
	if err := schedules.Start(ctx); err != nil {
		logger.Fatal("Failed to start schedule service", "error", err)
	}
	defer schedules.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 设置路由
	r := router.SetupRouter(router.Services{
		DB:           db,
		Orchestrator: orch,
		Comparer:     service.NewComparer(db, store, engine),
		Devices:      service.NewDeviceService(db, conn, cfg.Backup.AttemptTimeout),
		Schedules:    schedules,
		Gatherer:     reg,
		Mode:         cfg.Server.Mode,
	})

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.Info("Server starting", "addr", server.Addr, "mode", cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	go watchConfig(ctx, configPath, func(newCfg *config.Config) {
		_ = logger.Init(loggerConfig(newCfg))
		orch.SetLimits(newCfg.Backup)
		engine.Configure(newCfg.Diff)
		logger.Info("Config reloaded")
	})

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}

// watchConfig 监听配置文件，防抖后重新加载；加载失败时保留旧配置
func watchConfig(ctx context.Context, path string, apply func(*config.Config)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Config watch init failed", "error", err)
		return
	}
	defer watcher.Close()
	// 监听目录，编辑器替换文件时仍能收到事件
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("Config watch add failed", "error", err)
		return
	}

	var debounce *time.Timer
	debounceInterval := 300 * time.Millisecond
	trigger := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.Warn("Config reload failed", "error", err)
			return
		}
		apply(newCfg)
	}
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watch error", "error", err)
		}
	}
}
