// Package app ties together the main components of the dispatch engine:
// storage, the strategy engine, the reminder scheduler, the notification
// batcher and the HTTP server.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/db"
	"github.com/STageSub/orchestra-system-sub002/internal/dispatch"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/reminder"
	"github.com/STageSub/orchestra-system-sub002/internal/server"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// App holds the main application components.
type App struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	DB        *db.DB
	Store     storage.Store
	Engine    *dispatch.Engine
	Pool      *dispatch.Pool
	Batcher   *notify.Batcher
	Scheduler *reminder.Scheduler
	Server    *server.Server

	ctx           context.Context
	stopScheduler context.CancelFunc
	schedulerDone chan struct{}
}

// NewApp creates the application from its already-wired components.
func NewApp(
	ctx context.Context,
	cfg *config.Config,
	database *db.DB,
	store storage.Store,
	engine *dispatch.Engine,
	pool *dispatch.Pool,
	batcher *notify.Batcher,
	scheduler *reminder.Scheduler,
	srv *server.Server,
	logger *slog.Logger,
) *App {
	return &App{
		Cfg:       cfg,
		Logger:    logger,
		DB:        database,
		Store:     store,
		Engine:    engine,
		Pool:      pool,
		Batcher:   batcher,
		Scheduler: scheduler,
		Server:    srv,
		ctx:       ctx,
	}
}

// Start launches the reminder scheduler and runs the HTTP server.
func (a *App) Start() error {
	a.Logger.Info("starting dispatch engine",
		"server_port", a.Cfg.ServerPort,
		"conflict_policy", a.Cfg.ConflictPolicy,
		"reminder_interval", a.Cfg.ReminderInterval,
		"max_workers", a.Cfg.MaxWorkers)

	schedCtx, cancel := context.WithCancel(a.ctx)
	a.stopScheduler = cancel
	a.schedulerDone = make(chan struct{})
	go func() {
		defer close(a.schedulerDone)
		if err := a.Scheduler.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("reminder scheduler stopped", "error", err)
		}
	}()

	if err := a.Server.Start(); err != nil {
		a.Logger.Error("failed to start HTTP server", "error", err)
		return err
	}
	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.Logger.Info("shutting down dispatch engine")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.Server.Stop()
	if serverErr != nil {
		a.Logger.Error("error during HTTP server shutdown", "error", serverErr)
	}

	if a.stopScheduler != nil {
		a.stopScheduler()
		<-a.schedulerDone
	}

	// Drain queued dispatch cycles, then in-flight notification sessions.
	a.Pool.Stop()
	a.Batcher.Stop()

	if serverErr != nil {
		return serverErr
	}
	a.Logger.Info("dispatch engine stopped successfully")
	return nil
}
