package plugin

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamMirror copies a reference to every processed event onto a Redis stream.
type StreamMirror struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewStreamMirror(client redis.Cmdable, stream string, maxLen int64) *StreamMirror {
	return &StreamMirror{client: client, stream: stream, maxLen: maxLen}
}

func (m *StreamMirror) Slug() string {
	return "stream-mirror"
}

func (m *StreamMirror) PostProcess(ctx context.Context, in Input) error {
	if in.Event == nil || in.Group == nil {
		return fmt.Errorf("%w: missing event or group", ErrPlugin)
	}
	return m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]any{
			"project_id":    in.Event.ProjectID,
			"event_id":      in.Event.EventID,
			"group_id":      in.Group.ID,
			"group_status":  string(in.Group.Status),
			"is_new":        in.IsNew,
			"is_regression": in.IsRegression,
			"is_sample":     in.IsSample,
		},
	}).Err()
}
