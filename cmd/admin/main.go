// Command admin 在数据库里创建引导管理员账号（已存在则不动）。
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"user-directory/internal/core/config"
	"user-directory/internal/core/database"
	"user-directory/internal/core/logger"
	"user-directory/internal/repo"
	"user-directory/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))

	login := flag.StringP("login", "l", cfg.Bootstrap.AdminLogin, "admin login")
	password := flag.StringP("password", "p", cfg.Bootstrap.AdminPassword, "admin password")
	name := flag.String("name", cfg.Bootstrap.AdminName, "admin display name")
	flag.Parse()

	log, cleanup := logger.New(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	defer cleanup()

	if *login == "" || *password == "" {
		log.Fatal("login and password are required")
	}

	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
		Writer:             logger.ToWriter(log.Named("gorm"), zapcore.WarnLevel),
	})
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	r := repo.NewUserRepo(db)
	if err := r.Migrate(); err != nil {
		log.Fatal("automigrate failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	created, err := service.NewUserService(r, service.WithLogger(log)).EnsureAdmin(ctx, *login, *password, *name)
	if err != nil {
		log.Fatal("ensure admin failed", zap.Error(err))
	}
	if !created {
		log.Info("login already exists, nothing to do", zap.String("login", *login))
	}
}
