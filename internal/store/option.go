package store

import (
	"context"
	"errors"

	"basegraph.app/postprocess/core/db"
	"github.com/jackc/pgx/v5"
)

type optionStore struct {
	db db.DBTX
}

func newOptionStore(conn db.DBTX) OptionStore {
	return &optionStore{db: conn}
}

func (s *optionStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM options WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}
