package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"basegraph.app/postprocess/internal/model"
	"github.com/redis/go-redis/v9"
)

type ServiceHookTask struct {
	ServiceHookID int64
	Event         model.EventRef
	TraceID       string
}

// ResourceChangeTask carries the event reference only for SenderError.
type ResourceChangeTask struct {
	Action     string
	Sender     ResourceSender
	InstanceID string
	Event      *model.EventRef
	TraceID    string
}

type EventProcessedTask struct {
	Event       model.EventRef
	PrimaryHash string
	TraceID     string
}

type ProducerStreams struct {
	ServiceHook    string
	ResourceChange string
	EventProcessed string
}

type Producer interface {
	EnqueueServiceHook(ctx context.Context, task ServiceHookTask) error
	EnqueueResourceChange(ctx context.Context, task ResourceChangeTask) error
	EnqueueEventProcessed(ctx context.Context, task EventProcessedTask) error
	Close() error
}

type redisProducer struct {
	client  *redis.Client
	streams ProducerStreams
	logger  *slog.Logger
}

func NewRedisProducer(client *redis.Client, streams ProducerStreams, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:  client,
		streams: streams,
		logger:  logger,
	}
}

func (p *redisProducer) EnqueueServiceHook(ctx context.Context, task ServiceHookTask) error {
	fields := map[string]any{
		"task_type":      string(TaskTypeServiceHook),
		"servicehook_id": task.ServiceHookID,
		"project_id":     task.Event.ProjectID,
		"event_id":       task.Event.EventID,
		"group_id":       task.Event.GroupID,
		"attempt":        1,
	}
	if err := p.add(ctx, p.streams.ServiceHook, fields, task.TraceID); err != nil {
		return fmt.Errorf("enqueue service hook %d: %w", task.ServiceHookID, err)
	}

	p.logger.DebugContext(ctx, "enqueued service hook", "servicehook_id", task.ServiceHookID)
	return nil
}

func (p *redisProducer) EnqueueResourceChange(ctx context.Context, task ResourceChangeTask) error {
	fields := map[string]any{
		"task_type":   string(TaskTypeResourceChange),
		"action":      task.Action,
		"sender":      string(task.Sender),
		"instance_id": task.InstanceID,
		"attempt":     1,
	}
	if task.Event != nil {
		ref, err := json.Marshal(task.Event)
		if err != nil {
			return fmt.Errorf("encoding event ref: %w", err)
		}
		fields["instance"] = string(ref)
	}
	if err := p.add(ctx, p.streams.ResourceChange, fields, task.TraceID); err != nil {
		return fmt.Errorf("enqueue resource change %s/%s: %w", task.Sender, task.InstanceID, err)
	}

	p.logger.DebugContext(ctx, "enqueued resource change", "sender", task.Sender, "instance_id", task.InstanceID)
	return nil
}

func (p *redisProducer) EnqueueEventProcessed(ctx context.Context, task EventProcessedTask) error {
	fields := map[string]any{
		"task_type":  string(TaskTypeEventProcessed),
		"project_id": task.Event.ProjectID,
		"event_id":   task.Event.EventID,
		"group_id":   task.Event.GroupID,
	}
	if task.PrimaryHash != "" {
		fields["primary_hash"] = task.PrimaryHash
	}
	if err := p.add(ctx, p.streams.EventProcessed, fields, task.TraceID); err != nil {
		return fmt.Errorf("enqueue event processed: %w", err)
	}
	return nil
}

func (p *redisProducer) add(ctx context.Context, stream string, fields map[string]any, traceID string) error {
	if stream == "" {
		return fmt.Errorf("no stream configured for %v", fields["task_type"])
	}
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Err()
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
