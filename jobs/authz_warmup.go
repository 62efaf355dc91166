package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-authz/gatehouse/internal/authz"
	jobmetrics "github.com/gatehouse-authz/gatehouse/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CacheWarmupJob pre-populates the resolution cache so the first checks after a
// deploy or flush hit warm entries.
type CacheWarmupJob struct {
	Authz   *authz.Service
	Store   authz.Store
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(service *authz.Service, store authz.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		Authz:   service,
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cache warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuthzCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting cache warmup")

	roles, err := j.fetchRoles(ctx, payload.RoleSlugs)
	if err != nil {
		resultErr = err
		logger.Error("load warmup roles", slog.Any("error", err))
		return resultErr
	}
	if len(roles) == 0 {
		logger.Info("no roles discovered for warmup")
		return resultErr
	}

	slugs, err := j.Store.ListSlugs(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load permission slugs", slog.Any("error", err))
		return resultErr
	}

	start := j.now()
	warmed := 0
	for _, role := range roles {
		if err := j.warmRole(ctx, role, slugs); err != nil {
			resultErr = err
			logger.Error("warm role", slog.Int64("role_id", role.ID), slog.String("role_slug", role.Slug), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed cache warmup", slog.Int("roles", warmed), slog.Int("slugs", len(slugs)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmupJob) warmRole(ctx context.Context, role authz.Role, slugs []string) error {
	if j.Authz == nil {
		return nil
	}
	// Tighten each role execution with a timeout to avoid long-running jobs.
	roleCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	for _, slug := range slugs {
		if _, err := j.Authz.HasPermission(roleCtx, role, slug); err != nil {
			return err
		}
	}
	return nil
}

func (j *CacheWarmupJob) fetchRoles(ctx context.Context, only []string) ([]authz.Role, error) {
	if j.Store == nil {
		return nil, errors.New("cache warmup: store not configured")
	}
	if len(only) == 0 {
		return j.Store.ListActiveRoles(ctx)
	}
	roles := make([]authz.Role, 0, len(only))
	for _, slug := range only {
		role, err := j.Store.FindRoleBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, authz.ErrNotFound) {
				continue
			}
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthzCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAuthzCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
