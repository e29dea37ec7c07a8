package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/codernetes/internal/config"
	"github.com/yungbote/codernetes/internal/db"
	"github.com/yungbote/codernetes/internal/dispatch"
	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/handlers"
	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/observability"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/server"
	"github.com/yungbote/codernetes/internal/services"
	"github.com/yungbote/codernetes/internal/ws"
)

// ErrNothingToDo is returned when both listeners are disabled and the
// process would idle forever.
var ErrNothingToDo = errors.New("both websocket and http listeners are disabled")

const shutdownTimeout = 10 * time.Second

// App owns the wired master: store, hub, scheduler loops and both listeners.
type App struct {
	log    *logger.Logger
	cfg    *config.Config
	store  *db.SQLiteService
	bus    events.Bus
	hub    *ws.Hub
	wsSrv  *ws.Server
	apiSrv *http.Server
	health *ws.HealthMonitor
	disp   *dispatch.Dispatcher
	jobs   services.JobService

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	log.Info("Loading configuration...")
	cfg, err := config.Load(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "codernetes-master",
		Environment: "production",
	})

	log.Info("Opening job store", "path", cfg.Master.DBPath)
	store, err := db.NewSQLiteService(cfg.Master.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := store.AutoMigrateAll(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	theDB := store.DB()

	// Repos
	jobRepo := repos.NewJobRepo(theDB, log)
	jobLogRepo := repos.NewJobLogRepo(theDB, log)
	nodeRepo := repos.NewNodeRepo(theDB, log)
	tokenRepo := repos.NewUserTokenRepo(theDB, log)

	// Event bus: redis when configured, otherwise a no-op sink.
	var bus events.Bus
	if cfg.Events.RedisAddr != "" {
		bus, err = events.NewRedisBus(cfg.Events.RedisAddr, cfg.Events.Channel, log)
		if err != nil {
			log.Warn("Redis event bus unavailable, continuing without it", "error", err)
			bus = events.NewNoopBus()
		}
	} else {
		bus = events.NewNoopBus()
	}

	// Node-facing plane
	hub := ws.NewHub(nodeRepo, bus, log)
	wsRouter := ws.NewRouter(hub, jobRepo, jobLogRepo, bus, log)
	wsAddr := fmt.Sprintf("%s:%d", cfg.Master.Host, cfg.Master.Port)
	var wsSrv *ws.Server
	if cfg.Master.Port > 0 {
		wsSrv = ws.NewServer(wsAddr, hub, wsRouter, log)
	}

	health := ws.NewHealthMonitor(hub, cfg.HealthInterval, cfg.HealthTimeout, log)
	disp := dispatch.NewDispatcher(hub, jobRepo, bus, cfg.DispatchInterval, cfg.WorkdirRoot, log)

	// Services
	jobService := services.NewJobService(theDB, log, jobRepo, jobLogRepo, bus)
	nodeService := services.NewNodeService(theDB, log, nodeRepo)

	// Submission surface
	var apiSrv *http.Server
	if cfg.Master.HTTPPort > 0 {
		router := server.NewRouter(server.RouterConfig{
			JobsHandler:     handlers.NewJobsHandler(jobService),
			NodesHandler:    handlers.NewNodesHandler(nodeService),
			MessagesHandler: handlers.NewMessagesHandler(hub),
			ConfigHandler:   handlers.NewConfigHandler(cfg),
			TokensHandler:   handlers.NewTokensHandler(tokenRepo),
			Tracing:         observability.Enabled(),
		})
		apiSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Master.HTTPHost, cfg.Master.HTTPPort),
			Handler: router,
		}
	}

	if wsSrv == nil && apiSrv == nil {
		store.Close()
		return nil, ErrNothingToDo
	}

	return &App{
		log:          log,
		cfg:          cfg,
		store:        store,
		bus:          bus,
		hub:          hub,
		wsSrv:        wsSrv,
		apiSrv:       apiSrv,
		health:       health,
		disp:         disp,
		jobs:         jobService,
		otelShutdown: otelShutdown,
	}, nil
}

// Run starts the listeners and scheduler loops and blocks until ctx is
// cancelled or a listener fails.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Job.FailRunningOnStart {
		count, err := a.jobs.SweepStaleRunning(ctx, a.cfg.RunningGrace())
		if err != nil {
			a.log.Warn("Stale running sweep failed", "error", err)
		} else if count > 0 {
			a.log.Info("Failed stale running jobs from previous run", "count", count)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if a.wsSrv != nil {
		a.log.Info("WebSocket listener starting", "addr", fmt.Sprintf("%s:%d", a.cfg.Master.Host, a.cfg.Master.Port))
		group.Go(func() error {
			return a.wsSrv.ListenAndServe()
		})
	}
	if a.apiSrv != nil {
		a.log.Info("HTTP API listening", "addr", a.apiSrv.Addr)
		group.Go(func() error {
			err := a.apiSrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		a.health.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		a.disp.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		a.shutdown()
		return nil
	})

	return group.Wait()
}

func (a *App) shutdown() {
	a.log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.hub.CloseAll(shutdownCtx)
	if a.wsSrv != nil {
		if err := a.wsSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("WebSocket server shutdown error", "error", err)
		}
	}
	if a.apiSrv != nil {
		if err := a.apiSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("HTTP server shutdown error", "error", err)
		}
	}
	if err := a.bus.Close(); err != nil {
		a.log.Warn("Event bus close error", "error", err)
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(shutdownCtx); err != nil {
			a.log.Warn("Tracer shutdown error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("Store close error", "error", err)
	}
}
