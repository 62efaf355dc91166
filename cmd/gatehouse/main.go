package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-authz/gatehouse/internal/app"
	"github.com/gatehouse-authz/gatehouse/internal/authz"
	authzhttp "github.com/gatehouse-authz/gatehouse/internal/authz/http"
	"github.com/gatehouse-authz/gatehouse/internal/observability"
	"github.com/gatehouse-authz/gatehouse/internal/platform/cache"
	"github.com/gatehouse-authz/gatehouse/internal/platform/db"
	"github.com/gatehouse-authz/gatehouse/jobs"
)

const roleHeader = "X-Role-Slug"

// headerRoleResolver trusts the role slug set by the upstream identity proxy.
func headerRoleResolver(service *authz.Service, logger *slog.Logger) authz.RoleResolver {
	return func(r *http.Request) (authz.Role, bool) {
		slug := strings.TrimSpace(r.Header.Get(roleHeader))
		if slug == "" {
			return authz.Role{}, false
		}
		role, err := service.RoleBySlug(r.Context(), slug)
		if err != nil {
			if !errors.Is(err, authz.ErrNotFound) {
				logger.Warn("resolve role header", slog.String("role_slug", slug), slog.Any("error", err))
			}
			return authz.Role{}, false
		}
		if !role.Active {
			return authz.Role{}, false
		}
		return role, true
	}
}

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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	authzMetrics := observability.NewAuthzMetrics(metrics.Registerer())

	store := authz.NewRepository(dbpool)
	hierarchy := authz.NewHierarchy(store)
	var cache *authz.ResolutionCache
	if cfg.CacheEnabled {
		cache = authz.NewResolutionCache(authz.NewRedisBackend(redisClient), cfg.CacheKeyPrefix, cfg.CacheTTL)
	}
	service := authz.NewService(store, hierarchy, cache, authz.Config{
		MasterRoleSlug: cfg.MasterRoleSlug,
		CacheEnabled:   cfg.CacheEnabled,
	}, logger, authzMetrics).WithAudit(authz.NewAuditRecorder(dbpool))

	authzHandler := authzhttp.NewHandler(logger, service)
	authzMiddleware := authz.Middleware{
		Service: service,
		Logger:  logger,
		Role:    headerRoleResolver(service, logger),
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthzHandler: authzHandler,
		Authz:        authzMiddleware,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
