package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzCacheWarmup is the task type for pre-populating the resolution cache.
	TaskAuthzCacheWarmup = "authz:cache_warmup"
)

// CacheWarmupPayload scopes a warmup run. An empty RoleSlugs slice warms every
// active role.
type CacheWarmupPayload struct {
	RoleSlugs []string `json:"role_slugs,omitempty"`
}

// NewCacheWarmupTask constructs an Asynq task for cache warmup.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzCacheWarmup, data), nil
}
