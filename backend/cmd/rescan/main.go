// rescan 批量重扫命令行：用于定时任务与手工修复
//
//	rescan -start 2024-01-01 -end 2024-01-31 -site <uuid> -force
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/lock"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
	"pg-pointage/backend/internal/service"
	"pg-pointage/backend/pkg/database"
	applogger "pg-pointage/backend/pkg/logger"
	"pg-pointage/backend/pkg/redis"
)

func main() {
	var (
		configPath    = flag.String("config", "", "配置文件路径")
		start         = flag.String("start", "", "起始日期 YYYY-MM-DD（缺省为结束日期前 rescan_default_days 天）")
		end           = flag.String("end", "", "结束日期 YYYY-MM-DD（缺省为今天）")
		siteID        = flag.String("site", "", "仅重扫该站点")
		employeeID    = flag.String("employee", "", "仅重扫该员工")
		force         = flag.Bool("force", false, "清空区间内异常后重建")
		checkAbsences = flag.Bool("check-absences", true, "检查有排班但无打卡的日期")
		ignoreErrors  = flag.Bool("ignore-errors", false, "跳过失败的打卡或日期而不是整体回滚")
		timeout       = flag.Duration("timeout", 30*time.Minute, "整体超时")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, &dto.RescanRequest{
		StartDate:     *start,
		EndDate:       *end,
		SiteID:        *siteID,
		EmployeeID:    *employeeID,
		ForceUpdate:   *force,
		CheckAbsences: checkAbsences,
		IgnoreErrors:  *ignoreErrors,
	}, *timeout); err != nil {
		logger.Error("重扫失败", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, req *dto.RescanRequest, timeout time.Duration) error {
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}()
	if err := database.RunMigrations(db, cfg.Database.Driver, logger, model.AllModels()...); err != nil {
		return err
	}

	// 与在线服务共用 Redis 锁，避免与实时录入交错
	var locker lock.Locker = lock.NewLocal()
	if cfg.Engine.LockBackend == "redis" {
		rdb, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewDistributed(rdb, cfg.Engine.LockTTL, logger)
	}

	svc, err := service.NewService(cfg, repository.NewRepository(db), locker, clock.Real{}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := svc.Rescan.Rescan(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
