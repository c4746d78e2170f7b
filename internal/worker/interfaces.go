package worker

import (
	"context"

	"basegraph.app/postprocess/internal/postprocess"
	"basegraph.app/postprocess/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TaskProcessor abstracts the post-process pipeline for testability.
type TaskProcessor interface {
	ProcessEvent(ctx context.Context, req postprocess.EventRequest) error
	ProcessPlugin(ctx context.Context, req postprocess.PluginRequest) error
	IndexEventTags(ctx context.Context, req postprocess.TagIndexRequest) error
}
