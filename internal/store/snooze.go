package store

import (
	"context"
	"errors"

	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/model"
	"github.com/jackc/pgx/v5"
)

type snoozeStore struct {
	db db.DBTX
}

func newSnoozeStore(conn db.DBTX) SnoozeStore {
	return &snoozeStore{db: conn}
}

func (s *snoozeStore) GetByGroup(ctx context.Context, groupID int64) (*model.GroupSnooze, error) {
	var sn model.GroupSnooze
	err := s.db.QueryRow(ctx, `
SELECT id, group_id, until, count, "window", user_count, user_window,
       state_times_seen, state_users_seen, created_at
FROM group_snoozes
WHERE group_id = $1`, groupID,
	).Scan(
		&sn.ID, &sn.GroupID, &sn.Until, &sn.Count, &sn.Window, &sn.UserCount, &sn.UserWindow,
		&sn.StateTimesSeen, &sn.StateUsersSeen, &sn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sn, nil
}

// Delete is idempotent; a concurrent invocation may already have removed the row.
func (s *snoozeStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM group_snoozes WHERE id = $1`, id)
	return err
}
