package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/store"
)

// SnoozeCounter counts recent activity for rate-based snoozes.
type SnoozeCounter interface {
	CountSince(ctx context.Context, groupID int64, since time.Time) (int64, error)
	CountUsersSince(ctx context.Context, groupID int64, since time.Time) (int64, error)
}

// StoreProvider exposes the stores a snooze transition writes to.
type StoreProvider interface {
	Groups() store.GroupStore
	Snoozes() store.SnoozeStore
}

// TxRunner runs fn in a transaction with stores bound to it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type SnoozeEvaluator struct {
	snoozes store.SnoozeStore
	counter SnoozeCounter
	tx      TxRunner
	now     func() time.Time
}

func NewSnoozeEvaluator(snoozes store.SnoozeStore, counter SnoozeCounter, tx TxRunner, now func() time.Time) *SnoozeEvaluator {
	if now == nil {
		now = time.Now
	}
	return &SnoozeEvaluator{snoozes: snoozes, counter: counter, tx: tx, now: now}
}

// Evaluate removes an expired snooze and unresolves the group.
// It reports whether the group reappeared.
func (e *SnoozeEvaluator) Evaluate(ctx context.Context, group *model.Group) (bool, error) {
	snooze, err := e.snoozes.GetByGroup(ctx, group.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading snooze: %w", err)
	}

	valid, err := e.IsValid(ctx, snooze, group)
	if err != nil {
		return false, err
	}
	if valid {
		return false, nil
	}

	err = e.tx.WithTx(ctx, func(s StoreProvider) error {
		if err := s.Snoozes().Delete(ctx, snooze.ID); err != nil {
			return fmt.Errorf("deleting snooze %d: %w", snooze.ID, err)
		}
		if err := s.Groups().UpdateStatus(ctx, group.ID, model.GroupStatusUnresolved); err != nil {
			return fmt.Errorf("unresolving group: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "snooze no longer valid, group unresolved",
		"snooze_id", snooze.ID,
		"previous_status", group.Status)
	group.Status = model.GroupStatusUnresolved
	return true, nil
}

// IsValid reports whether the snooze still mutes the group, testing rate thresholds too.
func (e *SnoozeEvaluator) IsValid(ctx context.Context, s *model.GroupSnooze, group *model.Group) (bool, error) {
	now := e.now()

	if s.Until != nil && !now.Before(*s.Until) {
		return false, nil
	}

	if positive(s.Count) {
		if positive(s.Window) {
			seen, err := e.counter.CountSince(ctx, group.ID, now.Add(-minutes(*s.Window)))
			if err != nil {
				return false, fmt.Errorf("counting events in snooze window: %w", err)
			}
			if seen >= *s.Count {
				return false, nil
			}
		} else if *s.Count <= group.TimesSeen-s.StateTimesSeen {
			return false, nil
		}
	}

	if positive(s.UserCount) {
		if positive(s.UserWindow) {
			seen, err := e.counter.CountUsersSince(ctx, group.ID, now.Add(-minutes(*s.UserWindow)))
			if err != nil {
				return false, fmt.Errorf("counting users in snooze window: %w", err)
			}
			if seen >= *s.UserCount {
				return false, nil
			}
		} else if *s.UserCount <= group.UsersSeen-s.StateUsersSeen {
			return false, nil
		}
	}

	return true, nil
}

func positive(v *int64) bool {
	return v != nil && *v > 0
}

func minutes(n int64) time.Duration {
	return time.Duration(n) * time.Minute
}
