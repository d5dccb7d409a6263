package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"PlanPilot/internal/agent"
	"PlanPilot/internal/api"
	"PlanPilot/internal/auth"
	"PlanPilot/internal/config"
	"PlanPilot/internal/observability/alerting"
	"PlanPilot/internal/observability/metrics"
	"PlanPilot/internal/playbook"
	"PlanPilot/internal/run"
	"PlanPilot/internal/storage/mysql"
	"PlanPilot/pkg/logger"
)

// main 是 PlanPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx); err != nil {
		log.Fatalf("planpilotd 运行失败: %v", err)
	}
}

func serve(ctx context.Context) error {
	configPath := os.Getenv("PLANPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "planpilot.json")
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

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 步骤历史镜像。
	var stepRepo mysql.StepRepository
	switch cfg.Storage.StepStore.Driver {
	case "memory", "":
		repo, err := mysql.NewMemoryStepRepository(dataDir)
		if err != nil {
			return err
		}
		stepRepo = repo
	case "mysql":
		repo, err := mysql.NewSQLStepRepository(ctx, stepStoreConfig(cfg.Storage.StepStore))
		if err != nil {
			return err
		}
		stepRepo = repo
	default:
		return mysql.ErrUnsupportedDriver
	}
	if closer, ok := stepRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 运行状态存储。
	var runStore run.Store
	switch cfg.Storage.RunStore.Driver {
	case "memory", "":
		runStore = run.NewMemoryStore()
	case "mysql":
		store, err := run.NewMySQLStore(cfg.Storage.RunStore.DSN)
		if err != nil {
			return err
		}
		runStore = store
	default:
		return mysql.ErrUnsupportedDriver
	}
	defer func() {
		if runStore != nil {
			_ = runStore.Close()
		}
	}()

	// 运行队列。
	var runQueue run.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		runQueue = run.NewMemoryQueue(1024)
	case "redis":
		queue, err := run.NewRedisQueue(run.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		runQueue = queue
	case "rabbitmq":
		queue, err := run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		runQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if runQueue != nil {
			if err := runQueue.Close(); err != nil {
				logger.L().Error("关闭运行队列失败", "error", err)
			}
		}
	}()

	// 规划模板。
	profile := playbook.Default()
	if cfg.Agent.PlaybookPath != "" {
		definitions, err := playbook.Load(cfg.Agent.PlaybookPath)
		if err != nil {
			return err
		}
		profile = definitions.Profile(cfg.Agent.Profile)
	}

	ag := agent.New(
		cfg.Agent.SuccessProbabilityOrDefault(agent.DefaultSuccessProbability),
		agent.WithProfile(profile),
		agent.WithStepRepository(stepRepo),
	)

	runService := run.NewService(runStore, runQueue, cfg.Storage.RunStore.Retries)
	processor := run.NewProcessor(ag, runStore, runQueue, runQueue,
		run.WithWorkerCount(cfg.Queue.Workers),
		run.WithProcessorLogger(logger.Named("processor")),
		run.WithAlertDispatcher(alerting.NewFanout()),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", "error", err)
		}
	}()

	// 独立的指标服务。
	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	serverOpts := []api.ServerOption{
		api.WithAgent(ag),
		api.WithStepHistory(stepRepo),
	}
	if authSvc, err := buildAuthService(ctx, cfg); err != nil {
		return err
	} else if authSvc != nil {
		serverOpts = append(serverOpts, api.WithAuthService(authSvc))
	}

	server := api.NewServer(cfg.Server.Address, runService, serverOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// stepStoreConfig 将配置转换为 MySQL 连接参数。
func stepStoreConfig(cfg config.StepStoreConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

// buildAuthService 根据配置构造鉴权服务，认证关闭时返回 nil。
// 步骤存储使用 MySQL 时，用户账号同样落到 MySQL。
func buildAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, error) {
	authCfg := cfg.Auth
	if authCfg.Mode == "" || authCfg.Mode == string(auth.ModeDisabled) {
		return nil, nil
	}
	seeds := make([]auth.Seed, 0, len(authCfg.Seeds))
	for _, seed := range authCfg.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	var store auth.Store
	if cfg.Storage.StepStore.Driver == "mysql" {
		sqlStore, err := mysql.NewSQLAuthStore(ctx, stepStoreConfig(cfg.Storage.StepStore))
		if err != nil {
			return nil, err
		}
		store = sqlStore
	} else {
		memStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, err
		}
		store = memStore
	}

	return auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(authCfg.Mode),
		JWT: auth.JWTOptions{
			Secret:     authCfg.JWT.Secret,
			Issuer:     authCfg.JWT.Issuer,
			Audience:   authCfg.JWT.Audience,
			AccessTTL:  authCfg.JWT.AccessTTL,
			RefreshTTL: authCfg.JWT.RefreshTTL,
		},
		Seeds: seeds,
	}, store)
}
