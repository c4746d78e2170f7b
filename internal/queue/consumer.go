package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"basegraph.app/postprocess/common/logger"
	"basegraph.app/postprocess/internal/model"
	"github.com/redis/go-redis/v9"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

// Message is one parsed inbound task. Fields not used by its TaskType are zero.
type Message struct {
	ID       string
	TaskType TaskType
	Attempt  int
	TraceID  string

	ProjectID int64
	EventID   string

	IsNew                 bool
	IsRegression          bool
	IsSample              bool
	IsNewGroupEnvironment bool
	PrimaryHash           string
	// Event is the payload handed over by ingestion. Nil for reference-only tasks.
	Event *model.Event

	PluginSlug string

	OrganizationID int64
	GroupID        int64
	EnvironmentID  int64
	Tags           []model.TagPair
	DateAdded      *time.Time

	Raw redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client redis.Cmdable
	cfg    ConsumerConfig
}

func NewRedisConsumer(client redis.Cmdable, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so a recreated group still sees tasks already in the stream.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "postprocess.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" = never delivered. Pending entries are the reclaimer's job.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				if dlqErr := c.SendDLQ(ctx, Message{ID: msg.ID, Raw: msg}, parseErr.Error()); dlqErr != nil {
					// Left pending; the reclaimer retries the DLQ hand-off.
					slog.ErrorContext(ctx, "failed to dead-letter unparseable message",
						"error", dlqErr,
						"raw_message_id", msg.ID)
				}
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	attempt := msg.Attempt + 1
	values := messageValues(msg, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

// SendDLQ writes the message to the DLQ stream before acking it, so a failed write
// leaves it pending.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := messageValues(msg, msg.Attempt)
	if msg.TaskType == "" && len(msg.Raw.Values) > 0 {
		// Unparseable: keep the original fields for inspection.
		values = make(map[string]any, len(msg.Raw.Values)+1)
		for k, v := range msg.Raw.Values {
			values[k] = v
		}
	}
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking dead-lettered message: %w", err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	v := msg.Values

	taskTypeStr, err := parseOptionalString(v, "task_type")
	if err != nil {
		return Message{}, err
	}
	if taskTypeStr == "" {
		return Message{}, fmt.Errorf("missing task_type")
	}

	attempt, err := parseOptionalInt(v, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}
	traceID, err := parseOptionalString(v, "trace_id")
	if err != nil {
		return Message{}, err
	}

	out := Message{
		ID:       msg.ID,
		TaskType: TaskType(taskTypeStr),
		Attempt:  attempt,
		TraceID:  traceID,
		Raw:      msg,
	}

	if out.ProjectID, err = parseInt64(v, "project_id"); err != nil {
		return Message{}, err
	}
	if out.EventID, err = parseString(v, "event_id"); err != nil {
		return Message{}, err
	}

	switch out.TaskType {
	case TaskTypePostProcessGroup:
		if err := parseEventFlags(v, &out); err != nil {
			return Message{}, err
		}
		if out.IsNewGroupEnvironment, err = parseOptionalBool(v, "is_new_group_environment"); err != nil {
			return Message{}, err
		}
		if out.PrimaryHash, err = parseOptionalString(v, "primary_hash"); err != nil {
			return Message{}, err
		}
		if err := parseEventPayload(v, &out); err != nil {
			return Message{}, err
		}
	case TaskTypePluginPostProcess:
		if out.PluginSlug, err = parseString(v, "plugin_slug"); err != nil {
			return Message{}, err
		}
		if err := parseEventFlags(v, &out); err != nil {
			return Message{}, err
		}
		if err := parseEventPayload(v, &out); err != nil {
			return Message{}, err
		}
	case TaskTypeIndexEventTags:
		if err := parseTagIndex(v, &out); err != nil {
			return Message{}, err
		}
	default:
		return Message{}, fmt.Errorf("%w %q", ErrUnknownTaskType, out.TaskType)
	}

	return out, nil
}

func parseEventFlags(v map[string]any, out *Message) error {
	var err error
	if out.IsNew, err = parseOptionalBool(v, "is_new"); err != nil {
		return err
	}
	if out.IsRegression, err = parseOptionalBool(v, "is_regression"); err != nil {
		return err
	}
	if out.IsSample, err = parseOptionalBool(v, "is_sample"); err != nil {
		return err
	}
	return nil
}

// parseEventPayload decodes the optional "event" field. The task's own project and
// event ids win over the payload's.
func parseEventPayload(v map[string]any, out *Message) error {
	raw, err := parseOptionalString(v, "event")
	if err != nil || raw == "" {
		return err
	}
	var event model.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return fmt.Errorf("parsing event: %w", err)
	}
	event.ProjectID = out.ProjectID
	event.EventID = out.EventID
	out.Event = &event
	return nil
}

func parseTagIndex(v map[string]any, out *Message) error {
	var err error
	if out.OrganizationID, err = parseInt64(v, "organization_id"); err != nil {
		return err
	}
	if out.GroupID, err = parseInt64(v, "group_id"); err != nil {
		return err
	}
	if out.EnvironmentID, err = parseInt64(v, "environment_id"); err != nil {
		return err
	}

	raw, err := parseString(v, "tags")
	if err != nil {
		return err
	}
	if out.Tags, err = DecodeTags(raw); err != nil {
		return err
	}

	dateAdded, err := parseOptionalString(v, "date_added")
	if err != nil {
		return err
	}
	if dateAdded != "" {
		t, err := time.Parse(time.RFC3339Nano, dateAdded)
		if err != nil {
			return fmt.Errorf("parsing date_added: %w", err)
		}
		out.DateAdded = &t
	}
	return nil
}

// DecodeTags reads the [[key, value], ...] wire form.
func DecodeTags(raw string) ([]model.TagPair, error) {
	var pairs [][2]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("parsing tags: %w", err)
	}
	tags := make([]model.TagPair, len(pairs))
	for i, p := range pairs {
		tags[i] = model.TagPair{Key: p[0], Value: p[1]}
	}
	return tags, nil
}

func EncodeTags(tags []model.TagPair) string {
	pairs := make([][2]string, len(tags))
	for i, t := range tags {
		pairs[i] = [2]string{t.Key, t.Value}
	}
	b, _ := json.Marshal(pairs)
	return string(b)
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return "", fmt.Errorf("empty %s", key)
	}
	return s, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalBool(values map[string]any, key string) (bool, error) {
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(fmt.Sprint(raw))
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"task_type":  string(msg.TaskType),
		"attempt":    attempt,
		"project_id": msg.ProjectID,
		"event_id":   msg.EventID,
	}

	switch msg.TaskType {
	case TaskTypePostProcessGroup, TaskTypePluginPostProcess:
		values["is_new"] = msg.IsNew
		values["is_regression"] = msg.IsRegression
		values["is_sample"] = msg.IsSample
		if msg.TaskType == TaskTypePostProcessGroup {
			values["is_new_group_environment"] = msg.IsNewGroupEnvironment
		}
		if msg.PrimaryHash != "" {
			values["primary_hash"] = msg.PrimaryHash
		}
		if msg.PluginSlug != "" {
			values["plugin_slug"] = msg.PluginSlug
		}
		if msg.Event != nil {
			if payload, err := json.Marshal(msg.Event); err == nil {
				values["event"] = string(payload)
			}
		}
	case TaskTypeIndexEventTags:
		values["organization_id"] = msg.OrganizationID
		values["group_id"] = msg.GroupID
		values["environment_id"] = msg.EnvironmentID
		values["tags"] = EncodeTags(msg.Tags)
		if msg.DateAdded != nil {
			values["date_added"] = msg.DateAdded.Format(time.RFC3339Nano)
		}
	}

	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}

	return values
}
