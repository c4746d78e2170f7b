package store

import (
	"context"

	"basegraph.app/postprocess/core/db"
	"basegraph.app/postprocess/internal/model"
	"github.com/jackc/pgx/v5"
)

type serviceHookStore struct {
	db db.DBTX
}

func newServiceHookStore(conn db.DBTX) ServiceHookStore {
	return &serviceHookStore{db: conn}
}

func (s *serviceHookStore) ListByProject(ctx context.Context, projectID int64) ([]model.ServiceHook, error) {
	rows, err := s.db.Query(ctx, `
SELECT h.id, h.events
FROM service_hooks h
JOIN service_hook_projects p ON p.service_hook_id = h.id
WHERE p.project_id = $1
ORDER BY h.id`, projectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ServiceHook, error) {
		var h model.ServiceHook
		err := row.Scan(&h.ID, &h.Events)
		return h, err
	})
}

func (s *serviceHookStore) OrganizationSubscribes(ctx context.Context, organizationID int64, event string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM service_hooks WHERE organization_id = $1 AND events @> ARRAY[$2]::text[])`,
		organizationID, event,
	).Scan(&exists)
	return exists, err
}
