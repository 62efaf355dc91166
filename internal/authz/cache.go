package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss reports an absent cache entry.
var ErrCacheMiss = errors.New("authz: cache miss")

// CacheBackend is the minimal key/value contract the resolution cache needs.
// SupportsScopedEviction tells the synchronizer whether per-role eviction is
// available or a full flush is the only safe invalidation.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	SupportsScopedEviction() bool
}

// RedisBackend adapts a go-redis client to CacheBackend.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps the client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get fetches a key, translating redis.Nil into ErrCacheMiss.
func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

// Set stores a key with TTL. Version counters use ttl 0 and never expire.
func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Incr bumps a counter key.
func (b *RedisBackend) Incr(ctx context.Context, key string) (int64, error) {
	return b.client.Incr(ctx, key).Result()
}

// SupportsScopedEviction reports true: redis can keep a version counter per
// role, which orphans that role's entries without touching other roles.
func (b *RedisBackend) SupportsScopedEviction() bool {
	return true
}

// ResolutionCache memoizes permission check decisions keyed by (role, slug).
// Entries embed a global and a per-role version in the key; bumping a version
// orphans the old generation, which expires via TTL. This mirrors a
// version-stamped key scheme rather than scanning for keys to delete.
type ResolutionCache struct {
	backend CacheBackend
	prefix  string
	ttl     time.Duration
}

// NewResolutionCache constructs the cache helper.
func NewResolutionCache(backend CacheBackend, prefix string, ttl time.Duration) *ResolutionCache {
	if prefix == "" {
		prefix = "role_permission"
	}
	return &ResolutionCache{backend: backend, prefix: prefix, ttl: ttl}
}

func (c *ResolutionCache) globalVersionKey() string {
	return c.prefix + ":ver"
}

func (c *ResolutionCache) roleVersionKey(roleID int64) string {
	return fmt.Sprintf("%s:ver:role:%d", c.prefix, roleID)
}

func (c *ResolutionCache) version(ctx context.Context, key string) (int64, error) {
	val, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		if err := c.backend.Set(ctx, key, "1", 0); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	var ver int64
	if _, err := fmt.Sscanf(val, "%d", &ver); err != nil || ver <= 0 {
		return 1, nil
	}
	return ver, nil
}

func (c *ResolutionCache) entryKey(ctx context.Context, roleID int64, slug string) (string, error) {
	global, err := c.version(ctx, c.globalVersionKey())
	if err != nil {
		return "", err
	}
	roleVer := int64(1)
	if c.backend.SupportsScopedEviction() {
		roleVer, err = c.version(ctx, c.roleVersionKey(roleID))
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s:%d:%d:%d:%s", c.prefix, global, roleID, roleVer, slug), nil
}

// GetDecision returns a memoized decision for (role, slug).
func (c *ResolutionCache) GetDecision(ctx context.Context, roleID int64, slug string) (Decision, error) {
	key, err := c.entryKey(ctx, roleID, slug)
	if err != nil {
		return DecisionDeny, err
	}
	val, err := c.backend.Get(ctx, key)
	if err != nil {
		return DecisionDeny, err
	}
	decision, ok := ParseDecision(val)
	if !ok {
		return DecisionDeny, ErrCacheMiss
	}
	return decision, nil
}

// PutDecision stores the decision under the current versions with TTL.
func (c *ResolutionCache) PutDecision(ctx context.Context, roleID int64, slug string, decision Decision) error {
	key, err := c.entryKey(ctx, roleID, slug)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, key, decision.String(), c.ttl)
}

// EvictRole drops every entry for the role. Without scoped eviction support
// the whole cache is flushed instead; stale answers past a write are worse
// than a cold cache.
func (c *ResolutionCache) EvictRole(ctx context.Context, roleID int64) error {
	if c.backend.SupportsScopedEviction() {
		_, err := c.backend.Incr(ctx, c.roleVersionKey(roleID))
		return err
	}
	return c.Flush(ctx)
}

// Flush invalidates every cached decision by bumping the global version.
func (c *ResolutionCache) Flush(ctx context.Context) error {
	_, err := c.backend.Incr(ctx, c.globalVersionKey())
	return err
}
