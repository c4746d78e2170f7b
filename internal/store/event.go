package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/model"
	"github.com/jackc/pgx/v5"
)

type eventStore struct {
	db db.DBTX
}

func newEventStore(conn db.DBTX) EventStore {
	return &eventStore{db: conn}
}

func (s *eventStore) Get(ctx context.Context, projectID int64, eventID string) (*model.Event, error) {
	var (
		e    model.Event
		data []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT project_id, event_id, group_id, organization_id, event_type, platform, size, data, date_created
FROM events
WHERE project_id = $1 AND event_id = $2`, projectID, eventID,
	).Scan(&e.ProjectID, &e.EventID, &e.GroupID, &e.OrganizationID, &e.Type, &e.Platform, &e.Size, &data, &e.DateCreated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("decoding event data: %w", err)
		}
	}
	return &e, nil
}

func (s *eventStore) CountSince(ctx context.Context, groupID int64, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM events WHERE group_id = $1 AND date_created >= $2`, groupID, since,
	).Scan(&n)
	return n, err
}

func (s *eventStore) CountUsersSince(ctx context.Context, groupID int64, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT count(DISTINCT user_hash) FROM events
WHERE group_id = $1 AND date_created >= $2 AND user_hash IS NOT NULL`, groupID, since,
	).Scan(&n)
	return n, err
}
