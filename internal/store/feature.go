package store

import (
	"context"
	"errors"

	"basegraph.app/postprocess/core/db"
	"github.com/jackc/pgx/v5"
)

type featureStore struct {
	db db.DBTX
}

func newFeatureStore(conn db.DBTX) FeatureStore {
	return &featureStore{db: conn}
}

func (s *featureStore) IsEnabled(ctx context.Context, name string, scope FeatureScope, scopeID int64) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx,
		`SELECT enabled FROM feature_flags WHERE name = $1 AND scope = $2 AND scope_id = $3`,
		name, string(scope), scopeID,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return enabled, nil
}
