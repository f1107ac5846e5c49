package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/api/handler"
	"pg-pointage/backend/internal/api/router"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/lock"
	"pg-pointage/backend/internal/metrics"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
	"pg-pointage/backend/internal/service"
	"pg-pointage/backend/pkg/database"
	"pg-pointage/backend/pkg/jwt"
	applogger "pg-pointage/backend/pkg/logger"
	"pg-pointage/backend/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（缺省查找 ./config/config.yaml）")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("lock_backend", cfg.Engine.LockBackend),
		zap.String("timezone", cfg.Engine.DefaultTimezone),
	)

	// 3. 连接数据库并执行迁移
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	if err := database.RunMigrations(db, cfg.Database.Driver, logger, model.AllModels()...); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（未启用或连接失败时降级：本地锁、不限流、不查黑名单）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			if cfg.Engine.LockBackend == "redis" {
				logger.Fatal("分布式锁需要 Redis", zap.Error(err))
			}
			logger.Warn("Redis 连接失败，限流与 Token 黑名单将不可用", zap.Error(err))
			rdb = nil
		}
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Engine.LockBackend == "redis" {
		locker = lock.NewDistributed(rdb, cfg.Engine.LockTTL, logger)
	}

	// 5. 指标
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("注册指标失败", zap.Error(err))
	}

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	svc, err := service.NewService(cfg, repo, locker, clock.Real{}, logger)
	if err != nil {
		logger.Fatal("初始化业务层失败", zap.Error(err))
	}
	h := handler.NewHandler(svc)
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 7. 日终对账
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Engine.Sweep.Enabled {
		sweeper, err := service.NewSweeper(&cfg.Engine, svc.Rescan, clock.Real{}, logger)
		if err != nil {
			logger.Fatal("初始化日终对账失败", zap.Error(err))
		}
		go sweeper.Run(ctx)
	}

	// 8. 启动 HTTP 服务器（优雅关闭）
	engine := router.Setup(cfg, h, jwtMgr, rdb, db, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if sqlDB, _ := db.DB(); sqlDB != nil {
		sqlDB.Close()
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
