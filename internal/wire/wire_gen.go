// Code generated manually. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package wire

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/STageSub/orchestra-system-sub002/internal/app"
	"github.com/STageSub/orchestra-system-sub002/internal/conflict"
	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/db"
	"github.com/STageSub/orchestra-system-sub002/internal/dispatch"
	"github.com/STageSub/orchestra-system-sub002/internal/logger"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/reminder"
	"github.com/STageSub/orchestra-system-sub002/internal/selector"
	"github.com/STageSub/orchestra-system-sub002/internal/server"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
	"github.com/STageSub/orchestra-system-sub002/internal/token"
)

// InitializeApp creates and wires all application dependencies.
func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	var logWriter io.Writer
	switch cfg.Logger.Output {
	case "stderr":
		logWriter = os.Stderr
	case "file":
		f, _ := os.OpenFile("engine.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		logWriter = f
	default:
		logWriter = os.Stdout
	}
	slogLogger := logger.NewLogger(cfg.Logger, logWriter)

	// Database (runs migrations)
	dbConn, dbCleanup, err := db.NewDatabase(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Storage
	store := storage.NewStore(dbConn.DB)

	// Ranking selector and conflict resolver
	sel := selector.New(store)
	resolver := conflict.New(store, slogLogger)

	// Response tokens
	tokens := token.NewService(store)

	// Notifications
	notifier := notify.NewLogNotifier(slogLogger)
	batcher := notify.NewBatcher(notifier, cfg.Batch, slogLogger)

	// Dispatch engine and worker pool
	engine := dispatch.NewEngine(store, sel, resolver, tokens, batcher, cfg, slogLogger)
	pool := dispatch.NewPool(engine, cfg.MaxWorkers, slogLogger)

	// Reminder scheduler
	scheduler := reminder.NewScheduler(store, engine, batcher, cfg, slogLogger)

	// Server
	srv := server.NewServer(ctx, cfg, pool, store, batcher, slogLogger)

	// App
	application := app.NewApp(ctx, cfg, dbConn, store, engine, pool, batcher, scheduler, srv, slogLogger)

	cleanup := func() {
		dbCleanup()
	}

	return application, cleanup, nil
}
