package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"basegraph.app/postprocess/common/logger"
	"basegraph.app/postprocess/internal/metrics"
	"basegraph.app/postprocess/internal/postprocess"
	"basegraph.app/postprocess/internal/queue"
)

type Config struct {
	MaxAttempts  int
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer  Consumer
	processor TaskProcessor
	metrics   metrics.Recorder
	cfg       Config

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor TaskProcessor, rec metrics.Recorder, cfg Config) *Worker {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		metrics:   rec,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(w.cfg.ErrorBackoff):
				}
			}
		}
	}
}

// Stop signals the loop to exit after the current batch and waits for it.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.HandleMessage(ctx, msg)
	}
	return nil
}

// HandleMessage processes msg and settles it: ack on success, otherwise
// requeue or dead-letter once attempts run out. Exported for the reclaimer.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) error {
	msgID := msg.ID
	taskType := string(msg.TaskType)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msgID,
		TaskType:  &taskType,
		ProjectID: &msg.ProjectID,
		EventID:   &msg.EventID,
	})

	start := time.Now()
	err := w.processMessageSafe(ctx, msg)
	w.metrics.Timing("worker.task_duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"task_type": taskType})

	if err != nil {
		slog.ErrorContext(ctx, "message processing failed", "error", err, "attempt", msg.Attempt)
		w.handleFailedMessage(ctx, msg, err)
		return err
	}

	w.metrics.Incr("worker.tasks", map[string]string{"task_type": taskType, "outcome": "success"})
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Left pending; the reclaimer redelivers it.
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage routes msg to the pipeline entry point for its task type.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker."+string(msg.TaskType))
	defer sc.End()
	ctx = sc.Context()

	slog.DebugContext(ctx, "processing message", "attempt", msg.Attempt)

	var err error
	switch msg.TaskType {
	case queue.TaskTypePostProcessGroup:
		err = w.processor.ProcessEvent(ctx, postprocess.EventRequest{
			ProjectID:             msg.ProjectID,
			EventID:               msg.EventID,
			Event:                 msg.Event,
			IsNew:                 msg.IsNew,
			IsRegression:          msg.IsRegression,
			IsSample:              msg.IsSample,
			IsNewGroupEnvironment: msg.IsNewGroupEnvironment,
			PrimaryHash:           msg.PrimaryHash,
		})
	case queue.TaskTypePluginPostProcess:
		err = w.processor.ProcessPlugin(ctx, postprocess.PluginRequest{
			Slug:         msg.PluginSlug,
			ProjectID:    msg.ProjectID,
			EventID:      msg.EventID,
			Event:        msg.Event,
			IsNew:        msg.IsNew,
			IsRegression: msg.IsRegression,
			IsSample:     msg.IsSample,
		})
	case queue.TaskTypeIndexEventTags:
		err = w.processor.IndexEventTags(ctx, postprocess.TagIndexRequest{
			OrganizationID: msg.OrganizationID,
			ProjectID:      msg.ProjectID,
			EventID:        msg.EventID,
			GroupID:        msg.GroupID,
			EnvironmentID:  msg.EnvironmentID,
			Tags:           msg.Tags,
			DateAdded:      msg.DateAdded,
		})
	default:
		err = fmt.Errorf("%w: %q", queue.ErrUnknownTaskType, msg.TaskType)
	}

	if err != nil {
		sc.RecordError(err)
	}
	return err
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	taskType := string(msg.TaskType)

	if msg.Attempt >= w.cfg.MaxAttempts {
		w.metrics.Incr("worker.tasks", map[string]string{"task_type": taskType, "outcome": "dead_lettered"})
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ", "attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	w.metrics.Incr("worker.tasks", map[string]string{"task_type": taskType, "outcome": "requeued"})
	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
