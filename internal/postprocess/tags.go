package postprocess

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"basegraph.app/postprocess/internal/metrics"
	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/store"
)

type TagIndexRequest struct {
	OrganizationID int64
	ProjectID      int64
	EventID        string
	GroupID        int64
	EnvironmentID  int64
	Tags           []model.TagPair
	DateAdded      *time.Time
}

// TagIndexer writes an event's tags. Each event must be indexed once; a repeat writes duplicates.
type TagIndexer struct {
	tags    store.TagStore
	metrics metrics.Recorder
}

func NewTagIndexer(tags store.TagStore, rec metrics.Recorder) *TagIndexer {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &TagIndexer{tags: tags, metrics: rec}
}

func (t *TagIndexer) Index(ctx context.Context, req TagIndexRequest) error {
	t.metrics.Timing("tagstore.tags_per_event", float64(len(req.Tags)), map[string]string{
		"organization_id": strconv.FormatInt(req.OrganizationID, 10),
	})

	tags := store.EventTags{
		ProjectID:     req.ProjectID,
		GroupID:       req.GroupID,
		EnvironmentID: req.EnvironmentID,
		EventID:       req.EventID,
		Tags:          req.Tags,
	}
	if req.DateAdded != nil {
		tags.DateAdded = *req.DateAdded
	}
	if err := t.tags.CreateEventTags(ctx, tags); err != nil {
		return fmt.Errorf("writing event tags: %w", err)
	}
	return nil
}
