package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"user-directory/internal/core/cache"
	"user-directory/internal/core/config"
	"user-directory/internal/core/database"
	"user-directory/internal/core/logger"
	"user-directory/internal/core/server"
	"user-directory/internal/domain"
	"user-directory/internal/repo"
	"user-directory/internal/service"
	"user-directory/internal/transport/http/handler"
	"user-directory/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := newLogger(cfg.Log)
	defer cleanup()
	defer logger.RedirectStdLog(log, zapcore.InfoLevel)()

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 存储后端启动时选定，不按请求切换
	store := mustOpenStore(cfg, log)
	log.Info("user store ready", zap.String("backend", cfg.Store.Backend))

	opts := []service.Option{service.WithLogger(log.Named("directory"))}
	if cfg.Redis.Addr != "" {
		c := cache.New(cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, DialTimeout: time.Second})
		defer c.Close()
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Ping(pctx)
		cancel()
		if err != nil {
			log.Warn("redis unreachable, profile cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			opts = append(opts, service.WithCache(cache.NewProfileCache(c, time.Duration(cfg.Redis.TTLSec)*time.Second)))
			log.Info("profile cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}
	userSvc := service.NewUserService(store, opts...)

	// 引导管理员
	if cfg.Bootstrap.AdminLogin != "" {
		if _, err := userSvc.EnsureAdmin(context.Background(),
			cfg.Bootstrap.AdminLogin, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminName); err != nil {
			log.Fatal("bootstrap admin failed", zap.Error(err))
		}
	}

	// 路由
	r := router.NewAPIEngine(log, cfg.Limits, handler.NewUserHandler(userSvc))

	// 启动日志
	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("user directory api starting",
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("users", baseURL+"/api/v1/users"),
	)

	// SIGINT / SIGTERM 触发优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.Serve(ctx, server.New(cfg.App.HTTP, r), log, 10*time.Second); err != nil {
		log.Fatal("user directory api FAILED", zap.Error(err))
	}
	log.Info("user directory api stopped gracefully")
}

func newLogger(c config.Log) (*zap.Logger, func()) {
	return logger.New(logger.Options{
		Level:      c.Level,
		JSON:       c.JSON,
		Filename:   c.File.Filename,
		MaxSizeMB:  c.File.MaxSizeMB,
		MaxBackups: c.File.MaxBackups,
		MaxAgeDays: c.File.MaxAgeDays,
		Compress:   c.File.Compress,
	})
}

func mustOpenStore(cfg *config.Config, l *zap.Logger) domain.UserStore {
	if cfg.Store.Backend == config.BackendMemory {
		return repo.NewMemoryUserRepo()
	}
	db := mustOpenDB(cfg, l)
	l.Info("database connected", zap.String("driver", cfg.DB.Driver))
	r := repo.NewUserRepo(db)
	if cfg.DB.AutoMigrate {
		if err := r.Migrate(); err != nil {
			l.Fatal("automigrate failed", zap.Error(err))
		}
		l.Info("automigrate done")
	}
	return r
}

func mustOpenDB(cfg *config.Config, l *zap.Logger) *gorm.DB {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
		Writer:             logger.ToWriter(l.Named("gorm"), zapcore.WarnLevel),
	})
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	return db
}
