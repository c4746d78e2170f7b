package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/store"
)

// OwnershipAssigner auto-assigns unowned groups from the project's ownership rules.
// It never replaces an existing assignee.
type OwnershipAssigner struct {
	ownership store.OwnershipStore
	groups    store.GroupStore
}

func NewOwnershipAssigner(ownership store.OwnershipStore, groups store.GroupStore) *OwnershipAssigner {
	return &OwnershipAssigner{ownership: ownership, groups: groups}
}

// Assign reports whether this call assigned the group.
func (a *OwnershipAssigner) Assign(ctx context.Context, group *model.Group, event *model.Event) (bool, error) {
	if group.IsAssigned() {
		return false, nil
	}

	ownership, err := a.ownership.GetByProject(ctx, group.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading ownership: %w", err)
	}
	if !ownership.AutoAssignment {
		return false, nil
	}

	owner, ok := MatchOwner(ownership.Rules, event.Data)
	if !ok {
		return false, nil
	}

	assigned, err := a.groups.AssignIfUnassigned(ctx, group, owner)
	if err != nil {
		return false, fmt.Errorf("assigning group: %w", err)
	}
	if !assigned {
		slog.DebugContext(ctx, "group assigned concurrently, leaving it")
		return false, nil
	}

	group.Assignee = &owner
	slog.InfoContext(ctx, "group auto-assigned", "owner_type", owner.Type, "owner_id", owner.ID)
	return true, nil
}
