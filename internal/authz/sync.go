package authz

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SyncPermissions replaces the role's entire assignment set. When recursive is
// true each requested id is expanded with its descendants before the replace.
// The operation is all-or-nothing: unknown ids reject the whole request and a
// store failure leaves the previous set intact.
func (s *Service) SyncPermissions(ctx context.Context, role Role, permissionIDs []int64, recursive bool) error {
	requested := dedupeIDs(permissionIDs)

	existing, err := s.store.ExistAll(ctx, requested)
	if err != nil {
		s.metrics.SyncResult("error")
		return err
	}
	var missing []int64
	for _, id := range requested {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		s.metrics.SyncResult("rejected")
		return &InvalidAssignmentError{Missing: missing}
	}

	target := requested
	if recursive {
		expanded := make(map[int64]struct{}, len(requested))
		for _, id := range requested {
			expanded[id] = struct{}{}
			descendants, err := s.hierarchy.DescendantIDs(ctx, id)
			if err != nil {
				s.metrics.SyncResult("error")
				return err
			}
			for descID := range descendants {
				expanded[descID] = struct{}{}
			}
		}
		target = make([]int64, 0, len(expanded))
		for id := range expanded {
			target = append(target, id)
		}
		sort.Slice(target, func(i, j int) bool { return target[i] < target[j] })
	}

	if err := s.store.ReplaceAssignments(ctx, role.ID, target); err != nil {
		s.metrics.SyncResult("error")
		return err
	}

	// Evict only after the store write committed so a racing reader never
	// sees an empty cache backed by the old assignment set. A failed
	// eviction is logged, not returned: the write itself succeeded and
	// stale entries age out with the TTL.
	if err := s.ClearCache(ctx, role.ID); err != nil {
		s.logger.Error("cache eviction after sync failed", slog.Int64("role_id", role.ID), slog.Any("error", err))
	}

	s.metrics.SyncResult("applied")
	s.recordSyncAudit(ctx, role, len(requested), len(target), recursive)
	return nil
}

func (s *Service) recordSyncAudit(ctx context.Context, role Role, requested, applied int, recursive bool) {
	if s.audit == nil {
		return
	}
	entry := AuditLog{
		Ref:    uuid.New(),
		RoleID: role.ID,
		Action: "permissions.sync",
		Meta: map[string]any{
			"role_slug": role.Slug,
			"requested": requested,
			"applied":   applied,
			"recursive": recursive,
		},
		At: time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("sync audit write failed", slog.Int64("role_id", role.ID), slog.Any("error", err))
	}
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
