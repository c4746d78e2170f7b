package postprocess

import (
	"context"
	"fmt"
	"strconv"

	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/queue"
)

type ResourceChangeEnqueuer interface {
	EnqueueResourceChange(ctx context.Context, task queue.ResourceChangeTask) error
}

// ResourceChangeNotifier schedules "created" notifications for errors and new groups.
type ResourceChangeNotifier struct {
	hooks    *HookRegistry
	producer ResourceChangeEnqueuer
}

func NewResourceChangeNotifier(hooks *HookRegistry, producer ResourceChangeEnqueuer) *ResourceChangeNotifier {
	return &ResourceChangeNotifier{hooks: hooks, producer: producer}
}

func (n *ResourceChangeNotifier) Notify(ctx context.Context, project *model.Project, event *model.Event, isNew bool) error {
	traceID := traceIDFromContext(ctx)

	if event.Type == model.EventTypeError {
		enabled, err := n.hooks.ErrorHooksEnabled(ctx, project)
		if err != nil {
			return err
		}
		if enabled {
			ref := event.Ref()
			err := n.producer.EnqueueResourceChange(ctx, queue.ResourceChangeTask{
				Action:     queue.ActionCreated,
				Sender:     queue.SenderError,
				InstanceID: event.EventID,
				Event:      &ref,
				TraceID:    traceID,
			})
			if err != nil {
				return fmt.Errorf("scheduling error resource change: %w", err)
			}
		}
	}

	if isNew {
		err := n.producer.EnqueueResourceChange(ctx, queue.ResourceChangeTask{
			Action:     queue.ActionCreated,
			Sender:     queue.SenderGroup,
			InstanceID: strconv.FormatInt(event.GroupID, 10),
			TraceID:    traceID,
		})
		if err != nil {
			return fmt.Errorf("scheduling group resource change: %w", err)
		}
	}
	return nil
}
