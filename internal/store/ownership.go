package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/model"
	"github.com/jackc/pgx/v5"
)

type ownershipStore struct {
	db db.DBTX
}

func newOwnershipStore(conn db.DBTX) OwnershipStore {
	return &ownershipStore{db: conn}
}

func (s *ownershipStore) GetByProject(ctx context.Context, projectID int64) (*model.ProjectOwnership, error) {
	var (
		o     model.ProjectOwnership
		rules []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT project_id, rules, auto_assignment FROM project_ownership WHERE project_id = $1`, projectID,
	).Scan(&o.ProjectID, &rules, &o.AutoAssignment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(rules, &o.Rules); err != nil {
		return nil, fmt.Errorf("decoding ownership rules: %w", err)
	}
	return &o, nil
}
