//go:build wireinject
// +build wireinject

package wire

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/wire"

	"github.com/STageSub/orchestra-system-sub002/internal/app"
	"github.com/STageSub/orchestra-system-sub002/internal/conflict"
	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/db"
	"github.com/STageSub/orchestra-system-sub002/internal/dispatch"
	"github.com/STageSub/orchestra-system-sub002/internal/logger"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/reminder"
	"github.com/STageSub/orchestra-system-sub002/internal/selector"
	"github.com/STageSub/orchestra-system-sub002/internal/server"
	"github.com/STageSub/orchestra-system-sub002/internal/server/handler"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
	"github.com/STageSub/orchestra-system-sub002/internal/token"
)

func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	wire.Build(
		app.NewApp,
		server.NewServer,
		config.LoadConfig,
		db.NewDatabase,
		storage.NewStore,
		selector.New,
		conflict.New,
		token.NewService,
		notify.NewBatcher,
		dispatch.NewEngine,
		reminder.NewScheduler,
		providePool,
		provideNotifier,
		provideOrchestrator,
		provideProgressReader,
		provideBatchConfig,
		provideLoggerConfig,
		provideLogWriter,
		provideSlogLogger,
		provideDBConfig,
	)
	return &app.App{}, nil, nil
}

func providePool(engine *dispatch.Engine, cfg *config.Config, logger *slog.Logger) *dispatch.Pool {
	return dispatch.NewPool(engine, cfg.MaxWorkers, logger)
}

func provideNotifier(logger *slog.Logger) core.Notifier {
	return notify.NewLogNotifier(logger)
}

func provideOrchestrator(pool *dispatch.Pool) core.Orchestrator {
	return pool
}

func provideProgressReader(batcher *notify.Batcher) handler.ProgressReader {
	return batcher
}

func provideBatchConfig(cfg *config.Config) config.BatchConfig {
	return cfg.Batch
}

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return cfg.Logger
}

func provideDBConfig(cfg *config.Config) *config.DBConfig {
	return cfg.Database
}

func provideLogWriter(cfg *config.Config) io.Writer {
	switch cfg.Logger.Output {
	case "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		f, _ := os.OpenFile("engine.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		return f
	default:
		return os.Stdout
	}
}

func provideSlogLogger(loggerConfig logger.Config, writer io.Writer) *slog.Logger {
	return logger.NewLogger(loggerConfig, writer)
}
