package postprocess

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"basegraph.app/postprocess/internal/features"
	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/queue"
)

type ServiceHookEnqueuer interface {
	EnqueueServiceHook(ctx context.Context, task queue.ServiceHookTask) error
}

// FanoutDispatcher schedules one delivery per hook interested in this event.
type FanoutDispatcher struct {
	features FeatureChecker
	hooks    *HookRegistry
	producer ServiceHookEnqueuer
}

func NewFanoutDispatcher(features FeatureChecker, hooks *HookRegistry, producer ServiceHookEnqueuer) *FanoutDispatcher {
	return &FanoutDispatcher{features: features, hooks: hooks, producer: producer}
}

// AllowedHookEvents always contains event.created; event.alert only when a rule fired.
func AllowedHookEvents(hasAlert bool) map[string]struct{} {
	allowed := map[string]struct{}{model.HookEventCreated: {}}
	if hasAlert {
		allowed[model.HookEventAlert] = struct{}{}
	}
	return allowed
}

// Dispatch returns the number of deliveries scheduled.
func (d *FanoutDispatcher) Dispatch(ctx context.Context, project *model.Project, event *model.Event, hasAlert bool) (int, error) {
	enabled, err := d.features.ForProject(ctx, features.ProjectServiceHooks, project.ID)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, nil
	}

	hooks, err := d.hooks.ListHooks(ctx, project.ID)
	if err != nil {
		return 0, err
	}

	allowed := AllowedHookEvents(hasAlert)
	ref := event.Ref()
	traceID := traceIDFromContext(ctx)

	sent := 0
	for _, hook := range hooks {
		if !hook.Subscribes(allowed) {
			continue
		}
		err := d.producer.EnqueueServiceHook(ctx, queue.ServiceHookTask{
			ServiceHookID: hook.ID,
			Event:         ref,
			TraceID:       traceID,
		})
		if err != nil {
			return sent, fmt.Errorf("scheduling hook %d: %w", hook.ID, err)
		}
		sent++
	}
	return sent, nil
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
