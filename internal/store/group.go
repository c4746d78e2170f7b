package store

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/model"
	"github.com/jackc/pgx/v5"
)

const selectGroup = `
SELECT g.id, g.project_id, g.status, g.platform, g.times_seen, g.users_seen,
       g.first_seen, g.last_seen, a.owner_type, a.owner_id
FROM groups g
LEFT JOIN group_assignees a ON a.group_id = g.id
WHERE g.id = $1`

type groupStore struct {
	db db.DBTX
}

func newGroupStore(conn db.DBTX) GroupStore {
	return &groupStore{db: conn}
}

func (s *groupStore) GetByID(ctx context.Context, id int64) (*model.Group, error) {
	var (
		g         model.Group
		status    string
		ownerType *string
		ownerID   *int64
	)
	err := s.db.QueryRow(ctx, selectGroup, id).Scan(
		&g.ID, &g.ProjectID, &status, &g.Platform, &g.TimesSeen, &g.UsersSeen,
		&g.FirstSeen, &g.LastSeen, &ownerType, &ownerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g.Status = model.GroupStatus(status)
	if ownerType != nil && ownerID != nil {
		g.Assignee = &model.Owner{Type: model.OwnerType(*ownerType), ID: *ownerID}
	}
	return &g, nil
}

func (s *groupStore) GetWithRedirect(ctx context.Context, id int64) (*model.Group, error) {
	group, err := s.GetByID(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return group, err
	}

	var target int64
	err = s.db.QueryRow(ctx,
		`SELECT group_id FROM group_redirects WHERE previous_group_id = $1`, id,
	).Scan(&target)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolving group redirect: %w", err)
	}
	return s.GetByID(ctx, target)
}

func (s *groupStore) UpdateStatus(ctx context.Context, id int64, status model.GroupStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE groups SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *groupStore) AssignIfUnassigned(ctx context.Context, group *model.Group, owner model.Owner) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO group_assignees (group_id, project_id, owner_type, owner_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (group_id) DO NOTHING`,
		group.ID, group.ProjectID, string(owner.Type), owner.ID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
