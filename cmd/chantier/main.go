package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/chantier-hq/chantier/internal/app"
	"github.com/chantier-hq/chantier/internal/audit"
	"github.com/chantier-hq/chantier/internal/authz"
	"github.com/chantier-hq/chantier/internal/bootstrap"
	"github.com/chantier-hq/chantier/internal/core"
	"github.com/chantier-hq/chantier/internal/fleet"
	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/identity"
	"github.com/chantier-hq/chantier/internal/mutation"
	"github.com/chantier-hq/chantier/internal/observability"
	"github.com/chantier-hq/chantier/internal/persistence"
	"github.com/chantier-hq/chantier/internal/platform/cache"
	"github.com/chantier-hq/chantier/internal/platform/db"
	"github.com/chantier-hq/chantier/internal/principal"
	"github.com/chantier-hq/chantier/internal/shared"
	"github.com/chantier-hq/chantier/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "chantier_session", cfg.SessionTTL, cfg.IsProduction())

	store := hierarchy.NewStore(cfg.LockWait)
	vehicles := fleet.NewStore()
	registry := principal.NewRegistry(store)
	snapshots := persistence.NewSnapshotStore(dbpool)
	if state, err := snapshots.Load(ctx); err == nil {
		if err := store.Restore(state.Hierarchy); err != nil {
			logger.Error("restore hierarchy snapshot", slog.Any("error", err))
			os.Exit(1)
		}
		if err := registry.Restore(state.Principals); err != nil {
			logger.Error("restore principals", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("state restored from snapshot",
			slog.Int("regions", len(state.Hierarchy.Regions)),
			slog.Int("sites", len(state.Hierarchy.Sites)),
			slog.Int("principals", len(state.Principals)))
	} else if !errors.Is(err, shared.ErrNotFound) {
		logger.Error("load snapshot", slog.Any("error", err))
		os.Exit(1)
	}

	engine := authz.NewEngine()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	var sink audit.Sink
	if cfg.AuditAsync {
		sink = audit.NewAsynqSink(asynqClient, jobs.QueueDefault)
	} else {
		sink = audit.NewPostgresSink(dbpool)
	}

	coordinator := mutation.NewCoordinator(store, vehicles, registry, engine, sink, logger)

	metrics := observability.NewMetrics()

	service := core.NewService(registry, store, vehicles, engine, coordinator, sink, logger)
	service.SetDecisionRecorder(metrics)

	verifier := identity.NewGitHubVerifier(http.DefaultClient, cfg.GitHubAPIURL)
	identityHandler := identity.NewHandler(logger, sessionManager, verifier, identity.OAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		AuthorizeURL: cfg.GitHubAuthorizeURL,
		TokenURL:     cfg.GitHubTokenURL,
		RedirectURL:  cfg.OAuthRedirectURL,
	}, http.DefaultClient)

	coreHandler := core.NewHandler(logger, service, verifier)

	bootstrapService := bootstrap.NewService(store, vehicles, registry, sink, logger)
	bootstrapHandler := bootstrap.NewHandler(logger, bootstrapService, cfg.AdminTokenHash)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CoreHandler:      coreHandler,
		IdentityHandler:  identityHandler,
		BootstrapHandler: bootstrapHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				task, err := jobs.NewSnapshotPersistTask(persistence.State{
					Hierarchy:  store.Snapshot(),
					Principals: registry.Export(),
				})
				if err != nil {
					logger.Warn("build snapshot task", slog.Any("error", err))
					continue
				}
				if _, err := asynqClient.EnqueueContext(groupCtx, task, asynq.Queue(jobs.QueueDefault)); err != nil {
					logger.Warn("enqueue snapshot", slog.Any("error", err))
				}
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
