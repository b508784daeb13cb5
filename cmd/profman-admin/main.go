// Command profman-admin runs schema migrations and bootstraps accounts.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/repository"
	"github.com/noah-isme/profman-api/internal/service"
	"github.com/noah-isme/profman-api/migrations"
	"github.com/noah-isme/profman-api/pkg/config"
	"github.com/noah-isme/profman-api/pkg/database"
	"github.com/noah-isme/profman-api/pkg/logger"
	"github.com/noah-isme/profman-api/pkg/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	cli := &commandLine{
		migrate: func(ctx context.Context, direction database.MigrationDirection) error {
			return database.Migrate(ctx, db, migrations.FS, direction, logr)
		},
		users: service.NewUserService(repository.NewUserRepository(db), validation.New(), logr),
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			logr.Error("command failed", zap.Error(err))
		}
		os.Exit(1)
	}
}
