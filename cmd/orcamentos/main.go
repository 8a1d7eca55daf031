package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orcamentos/orcamentos/cmd/orcamentos/cli"
	"github.com/orcamentos/orcamentos/internal/app"
	"github.com/orcamentos/orcamentos/internal/auth"
	"github.com/orcamentos/orcamentos/internal/observability"
	"github.com/orcamentos/orcamentos/internal/platform/cache"
	"github.com/orcamentos/orcamentos/internal/platform/db"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/roles"
	"github.com/orcamentos/orcamentos/internal/shared"
	"github.com/orcamentos/orcamentos/internal/users"
	"github.com/orcamentos/orcamentos/jobs"
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// The login throttle fails open, so a missing Redis only degrades startup.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, auditLogger, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	var activity rbac.ActivityRecorder
	if cfg.LastLoginQueue {
		activity = auth.NewQueueRecorder(jobClient, logger)
	} else {
		activity = auth.NewDirectRecorder(rbacService, logger)
	}

	tokens, err := auth.NewTokenCodec(cfg.TokenConfig())
	if err != nil {
		logger.Error("init token codec", slog.Any("error", err))
		os.Exit(1)
	}

	rbacMiddleware := rbac.Middleware{
		Tokens:     tokens,
		Identities: rbacService,
		Activity:   activity,
		Observer:   metrics,
		Logger:     logger,
	}

	authService := auth.NewService(auth.Deps{
		Repo:     rbacRepo,
		Tokens:   tokens,
		Throttle: auth.NewThrottle(redisClient, cfg.ThrottleConfig(), logger),
		Activity: activity,
		Audit:    auditLogger,
		Observer: metrics,
		Logger:   logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        auth.NewHandler(logger, authService, rbacMiddleware, cfg.LoginPerMinute),
		RolesHandler:       roles.NewHandler(logger, rbacService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, users.NewService(rbacRepo, auditLogger, logger), rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		RBACMiddleware:     rbacMiddleware,
		Pool:               dbpool,
		Redis:              redisClient,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `orcamentos jobs <trigger NAME|stats|scheduled>`.
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	if len(args) == 0 {
		return errors.New("usage: orcamentos jobs <trigger NAME|stats|scheduled>")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: orcamentos jobs trigger NAME")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s: pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		infos, err := jobsCLI.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s\t%s\t%s\n", info.ID, info.Type, info.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
