package store

import (
	"context"

	"basegraph.app/postprocess/core/db"
	"github.com/jackc/pgx/v5"
)

type pluginStore struct {
	db db.DBTX
}

func newPluginStore(conn db.DBTX) PluginStore {
	return &pluginStore{db: conn}
}

func (s *pluginStore) ListEnabled(ctx context.Context, projectID int64) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT slug FROM project_plugins WHERE project_id = $1 AND enabled ORDER BY slug`, projectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
