package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"basegraph.app/postprocess/internal/cache"
)

const dedupTTL = time.Hour

func DedupKey(projectID int64, eventID string) string {
	return fmt.Sprintf("pp:%d/%s", projectID, eventID)
}

// DedupGuard detects redelivery of an event already post-processed within the last hour.
// A guard without a cache always claims.
type DedupGuard struct {
	cache  cache.Cache
	policy cache.FailurePolicy
	now    func() time.Time
}

func NewDedupGuard(c cache.Cache, policy cache.FailurePolicy) *DedupGuard {
	return &DedupGuard{cache: c, policy: policy, now: time.Now}
}

// TryClaim returns true when the caller owns the event and should process it.
func (g *DedupGuard) TryClaim(ctx context.Context, projectID int64, eventID string) (bool, error) {
	if g == nil || g.cache == nil {
		return true, nil
	}

	claimed, err := g.cache.SetNX(ctx, DedupKey(projectID, eventID), strconv.FormatInt(g.now().Unix(), 10), dedupTTL)
	if err != nil {
		if g.policy == cache.FailClosed {
			return false, fmt.Errorf("claiming dedup lock: %w", err)
		}
		slog.WarnContext(ctx, "dedup lock unavailable, processing anyway", "error", err)
		return true, nil
	}
	return claimed, nil
}
