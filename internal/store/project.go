package store

import (
	"context"
	"errors"

	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/model"
	"github.com/jackc/pgx/v5"
)

type projectStore struct {
	db db.DBTX
}

func newProjectStore(conn db.DBTX) ProjectStore {
	return &projectStore{db: conn}
}

func (s *projectStore) GetByID(ctx context.Context, id int64) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRow(ctx,
		`SELECT id, organization_id, slug, platform FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.OrganizationID, &p.Slug, &p.Platform)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
