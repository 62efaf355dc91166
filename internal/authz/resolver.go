package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-authz/gatehouse/internal/observability"
)

// Config carries the tunables of the authorization core. Values are passed
// explicitly into constructors; nothing is read from ambient globals at call
// time.
type Config struct {
	MasterRoleSlug string
	CacheEnabled   bool
}

// Service resolves permission checks and synchronizes role assignments.
type Service struct {
	store     Store
	hierarchy *Hierarchy
	cache     *ResolutionCache
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.AuthzMetrics
	audit     *AuditRecorder
	flight    singleflight.Group
}

// NewService wires the resolver. cache may be nil when caching is disabled;
// metrics and audit are optional.
func NewService(store Store, hierarchy *Hierarchy, cache *ResolutionCache, cfg Config, logger *slog.Logger, metrics *observability.AuthzMetrics) *Service {
	if cfg.MasterRoleSlug == "" {
		cfg.MasterRoleSlug = "master-admin"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		hierarchy: hierarchy,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithAudit attaches an audit recorder for synchronization writes.
func (s *Service) WithAudit(audit *AuditRecorder) *Service {
	s.audit = audit
	return s
}

// Hierarchy exposes the descendant/ancestor resolver.
func (s *Service) Hierarchy() *Hierarchy {
	return s.hierarchy
}

// Resolve decides whether the role holds the permission slug and reports the
// rule that granted it. Unknown slugs deny without error: checks sit on hot
// paths and a missing feature flag must not fail the request.
func (s *Service) Resolve(ctx context.Context, role Role, slug string) (Decision, error) {
	if role.Slug == s.cfg.MasterRoleSlug {
		s.metrics.ObserveDecision(DecisionBypass.String())
		return DecisionBypass, nil
	}

	if s.cacheActive() {
		decision, err := s.cache.GetDecision(ctx, role.ID, slug)
		if err == nil {
			s.metrics.CacheHit()
			s.metrics.ObserveDecision(decision.String())
			return decision, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			// Degrade to direct computation; the cache being down must not
			// fail the permission check.
			s.metrics.CacheError()
			s.logger.Warn("resolution cache read degraded", slog.Int64("role_id", role.ID), slog.String("slug", slug), slog.Any("error", err))
		} else {
			s.metrics.CacheMiss()
		}
	}

	key := fmt.Sprintf("%d:%s", role.ID, slug)
	result, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.compute(ctx, role, slug)
	})
	if err != nil {
		return DecisionDeny, err
	}
	decision := result.(Decision)

	if s.cacheActive() {
		if err := s.cache.PutDecision(ctx, role.ID, slug, decision); err != nil {
			s.metrics.CacheError()
			s.logger.Warn("resolution cache write degraded", slog.Int64("role_id", role.ID), slog.String("slug", slug), slog.Any("error", err))
		}
	}
	s.metrics.ObserveDecision(decision.String())
	return decision, nil
}

func (s *Service) compute(ctx context.Context, role Role, slug string) (Decision, error) {
	perm, err := s.store.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DecisionDeny, nil
		}
		return DecisionDeny, err
	}

	assigned, err := s.store.AssignedIDs(ctx, role.ID)
	if err != nil {
		return DecisionDeny, err
	}
	if _, ok := assigned[perm.ID]; ok {
		return DecisionDirect, nil
	}

	// Only modules aggregate visibility from their subtree. An action with
	// children does not become visible through them, and propagation never
	// chains past a non-module ancestor.
	if perm.Kind != KindModule {
		return DecisionDeny, nil
	}
	descendants, err := s.hierarchy.DescendantIDs(ctx, perm.ID)
	if err != nil {
		return DecisionDeny, err
	}
	for id := range descendants {
		if _, ok := assigned[id]; ok {
			return DecisionDescendant, nil
		}
	}
	return DecisionDeny, nil
}

// HasPermission reports whether the role holds the slug.
func (s *Service) HasPermission(ctx context.Context, role Role, slug string) (bool, error) {
	decision, err := s.Resolve(ctx, role, slug)
	if err != nil {
		return false, err
	}
	return decision.Granted(), nil
}

// HasAnyPermission short-circuits on the first grant.
func (s *Service) HasAnyPermission(ctx context.Context, role Role, slugs []string) (bool, error) {
	for _, slug := range slugs {
		ok, err := s.HasPermission(ctx, role, slug)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions short-circuits on the first deny.
func (s *Service) HasAllPermissions(ctx context.Context, role Role, slugs []string) (bool, error) {
	for _, slug := range slugs {
		ok, err := s.HasPermission(ctx, role, slug)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// CanAccessRoute checks the permission guarding a route key. Routes with no
// declared permission are unguarded and allow by default.
func (s *Service) CanAccessRoute(ctx context.Context, role Role, routeKey string) (bool, error) {
	perm, err := s.store.FindByRouteKey(ctx, routeKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return s.HasPermission(ctx, role, perm.Slug)
}

// HasRole is an identity compare on the role slug.
func (s *Service) HasRole(role Role, slug string) bool {
	return role.Slug == slug
}

// HasAnyRole reports whether the role slug matches any of the given slugs.
func (s *Service) HasAnyRole(role Role, slugs []string) bool {
	for _, slug := range slugs {
		if role.Slug == slug {
			return true
		}
	}
	return false
}

// ClearCache evicts cached decisions for one role.
func (s *Service) ClearCache(ctx context.Context, roleID int64) error {
	if !s.cacheActive() {
		return nil
	}
	s.metrics.Eviction()
	return s.cache.EvictRole(ctx, roleID)
}

// ClearCacheAll flushes every cached decision.
func (s *Service) ClearCacheAll(ctx context.Context) error {
	if !s.cacheActive() {
		return nil
	}
	s.metrics.Eviction()
	return s.cache.Flush(ctx)
}

func (s *Service) cacheActive() bool {
	return s.cfg.CacheEnabled && s.cache != nil
}
