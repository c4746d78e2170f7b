package store

import (
	"context"
	"fmt"
	"time"

	"basegraph.app/postprocess/common/id"
	"basegraph.app/postprocess/core/db"
	"github.com/jackc/pgx/v5"
)

var eventTagColumns = []string{
	"id", "project_id", "group_id", "environment_id", "event_id", "key", "value", "date_added",
}

type tagStore struct {
	db db.DBTX
}

func newTagStore(conn db.DBTX) TagStore {
	return &tagStore{db: conn}
}

func (s *tagStore) CreateEventTags(ctx context.Context, tags EventTags) error {
	if len(tags.Tags) == 0 {
		return nil
	}
	dateAdded := tags.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	ids := id.NewBatch(len(tags.Tags))
	rows := make([][]any, len(tags.Tags))
	for i, t := range tags.Tags {
		rows[i] = []any{
			ids[i], tags.ProjectID, tags.GroupID, tags.EnvironmentID, tags.EventID, t.Key, t.Value, dateAdded,
		}
	}

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{"event_tags"}, eventTagColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copying event tags: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copying event tags: wrote %d of %d rows", n, len(rows))
	}
	return nil
}
