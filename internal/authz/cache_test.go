package authz

import (
	"context"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*ResolutionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResolutionCache(NewRedisBackend(client), "role_permission", time.Minute), mr
}

func newCachedService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	cache, mr := newRedisCache(t)
	svc := NewService(store, NewHierarchy(store), cache, Config{MasterRoleSlug: "master-admin", CacheEnabled: true}, nil, nil)
	return svc, mr
}

func TestResolutionCacheRoundTrip(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	_, err := cache.GetDecision(ctx, 2, "reports")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.PutDecision(ctx, 2, "reports", DecisionDescendant))
	decision, err := cache.GetDecision(ctx, 2, "reports")
	require.NoError(t, err)
	require.Equal(t, DecisionDescendant, decision)
}

func TestEvictRoleIsScoped(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutDecision(ctx, 2, "reports", DecisionDirect))
	require.NoError(t, cache.PutDecision(ctx, 3, "reports", DecisionDeny))

	require.NoError(t, cache.EvictRole(ctx, 2))

	_, err := cache.GetDecision(ctx, 2, "reports")
	require.ErrorIs(t, err, ErrCacheMiss)

	decision, err := cache.GetDecision(ctx, 3, "reports")
	require.NoError(t, err, "other roles keep their entries")
	require.Equal(t, DecisionDeny, decision)
}

func TestFlushInvalidatesEveryRole(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutDecision(ctx, 2, "reports", DecisionDirect))
	require.NoError(t, cache.PutDecision(ctx, 3, "reports", DecisionDeny))

	require.NoError(t, cache.Flush(ctx))

	_, err := cache.GetDecision(ctx, 2, "reports")
	require.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetDecision(ctx, 3, "reports")
	require.ErrorIs(t, err, ErrCacheMiss)
}

// flatBackend simulates a store without per-role version counters.
type flatBackend struct {
	data map[string]string
}

func (b *flatBackend) Get(_ context.Context, key string) (string, error) {
	val, ok := b.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return val, nil
}

func (b *flatBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	b.data[key] = value
	return nil
}

func (b *flatBackend) Incr(_ context.Context, key string) (int64, error) {
	ver, _ := strconv.ParseInt(b.data[key], 10, 64)
	ver++
	b.data[key] = strconv.FormatInt(ver, 10)
	return ver, nil
}

func (b *flatBackend) SupportsScopedEviction() bool { return false }

func TestEvictRoleFallsBackToFlush(t *testing.T) {
	cache := NewResolutionCache(&flatBackend{data: make(map[string]string)}, "role_permission", time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.PutDecision(ctx, 2, "reports", DecisionDirect))
	require.NoError(t, cache.PutDecision(ctx, 3, "reports", DecisionDeny))

	require.NoError(t, cache.EvictRole(ctx, 2))

	_, err := cache.GetDecision(ctx, 2, "reports")
	require.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.GetDecision(ctx, 3, "reports")
	require.ErrorIs(t, err, ErrCacheMiss, "without scoped eviction the whole cache is flushed")
}

func TestResolveMemoizesDecision(t *testing.T) {
	store := newFixtureStore()
	store.assign(2, 3)
	svc, _ := newCachedService(t, store)
	analyst := Role{ID: 2, Slug: "analyst", Active: true}
	ctx := context.Background()

	decision, err := svc.Resolve(ctx, analyst, "reports")
	require.NoError(t, err)
	require.Equal(t, DecisionDescendant, decision)
	require.Equal(t, 1, store.assignedCalls)

	decision, err = svc.Resolve(ctx, analyst, "reports")
	require.NoError(t, err)
	require.Equal(t, DecisionDescendant, decision)
	require.Equal(t, 1, store.assignedCalls, "second check must be served from cache")
}

func TestResolveDegradesWhenCacheIsDown(t *testing.T) {
	store := newFixtureStore()
	store.assign(2, 3)
	svc, mr := newCachedService(t, store)
	analyst := Role{ID: 2, Slug: "analyst", Active: true}

	mr.Close()

	decision, err := svc.Resolve(context.Background(), analyst, "reports.finance.view")
	require.NoError(t, err, "cache outage must not fail the check")
	require.Equal(t, DecisionDirect, decision)
}

func TestClearCacheForcesRecompute(t *testing.T) {
	store := newFixtureStore()
	store.assign(2, 3)
	svc, _ := newCachedService(t, store)
	analyst := Role{ID: 2, Slug: "analyst", Active: true}
	ctx := context.Background()

	granted, err := svc.HasPermission(ctx, analyst, "reports.finance.view")
	require.NoError(t, err)
	require.True(t, granted)

	// A direct store mutation is invisible until eviction.
	store.assignments[2] = map[int64]struct{}{}
	granted, err = svc.HasPermission(ctx, analyst, "reports.finance.view")
	require.NoError(t, err)
	require.True(t, granted, "stale entry still served")

	require.NoError(t, svc.ClearCache(ctx, analyst.ID))
	granted, err = svc.HasPermission(ctx, analyst, "reports.finance.view")
	require.NoError(t, err)
	require.False(t, granted)
}

func TestClearCacheAllAffectsAllRoles(t *testing.T) {
	store := newFixtureStore()
	store.assign(2, 3)
	store.assign(3, 6)
	svc, _ := newCachedService(t, store)
	analyst := Role{ID: 2, Slug: "analyst", Active: true}
	viewer := Role{ID: 3, Slug: "viewer", Active: true}
	ctx := context.Background()

	_, err := svc.Resolve(ctx, analyst, "reports.finance.view")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, viewer, "reports.sales.view")
	require.NoError(t, err)
	require.Equal(t, 2, store.assignedCalls)

	require.NoError(t, svc.ClearCacheAll(ctx))

	_, err = svc.Resolve(ctx, analyst, "reports.finance.view")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, viewer, "reports.sales.view")
	require.NoError(t, err)
	require.Equal(t, 4, store.assignedCalls, "both roles recompute after a flush")
}
