package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/postprocess/internal/model"
)

var _ = Describe("ParseMessage", func() {
	Context("post_process_group", func() {
		It("parses flags and the primary hash", func() {
			msg, err := ParseMessage(redis.XMessage{
				ID: "1-0",
				Values: map[string]any{
					"task_type":                "post_process_group",
					"project_id":               "42",
					"event_id":                 "abc",
					"is_new":                   "1",
					"is_regression":            "0",
					"is_sample":                "true",
					"is_new_group_environment": "1",
					"primary_hash":             "deadbeef",
					"trace_id":                 "0af7651916cd43dd8448eb211c80319c",
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.TaskType).To(Equal(TaskTypePostProcessGroup))
			Expect(msg.ProjectID).To(Equal(int64(42)))
			Expect(msg.EventID).To(Equal("abc"))
			Expect(msg.IsNew).To(BeTrue())
			Expect(msg.IsRegression).To(BeFalse())
			Expect(msg.IsSample).To(BeTrue())
			Expect(msg.IsNewGroupEnvironment).To(BeTrue())
			Expect(msg.PrimaryHash).To(Equal("deadbeef"))
			Expect(msg.Attempt).To(Equal(1))
		})

		It("decodes the carried event and keeps the task ids", func() {
			msg, err := ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{
				"task_type":  "post_process_group",
				"project_id": "42",
				"event_id":   "abc",
				"event":      `{"project_id":1,"event_id":"other","group_id":7,"organization_id":3,"type":"error","platform":"python","size":512,"data":{"message":"boom"}}`,
			}})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Event).NotTo(BeNil())
			Expect(msg.Event.ProjectID).To(Equal(int64(42)))
			Expect(msg.Event.EventID).To(Equal("abc"))
			Expect(msg.Event.GroupID).To(Equal(int64(7)))
			Expect(msg.Event.OrganizationID).To(Equal(int64(3)))
			Expect(msg.Event.Type).To(Equal(model.EventTypeError))
			Expect(msg.Event.Size).To(Equal(int64(512)))
			Expect(msg.Event.Data).To(HaveKeyWithValue("message", "boom"))
		})

		It("leaves the event nil for reference-only tasks", func() {
			msg, err := ParseMessage(redis.XMessage{Values: map[string]any{
				"task_type":  "post_process_group",
				"project_id": "42",
				"event_id":   "abc",
			}})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Event).To(BeNil())
		})

		It("rejects a malformed event payload", func() {
			_, err := ParseMessage(redis.XMessage{Values: map[string]any{
				"task_type":  "post_process_group",
				"project_id": "42",
				"event_id":   "abc",
				"event":      "{not json",
			}})
			Expect(err).To(MatchError(ContainSubstring("parsing event")))
		})

		It("rejects a message without an event id", func() {
			_, err := ParseMessage(redis.XMessage{Values: map[string]any{
				"task_type":  "post_process_group",
				"project_id": "42",
			}})
			Expect(err).To(MatchError(ContainSubstring("missing event_id")))
		})
	})

	Context("plugin_post_process_group", func() {
		It("requires a plugin slug", func() {
			_, err := ParseMessage(redis.XMessage{Values: map[string]any{
				"task_type":  "plugin_post_process_group",
				"project_id": "42",
				"event_id":   "abc",
			}})
			Expect(err).To(MatchError(ContainSubstring("plugin_slug")))
		})
	})

	Context("index_event_tags", func() {
		It("decodes tags and the optional date", func() {
			msg, err := ParseMessage(redis.XMessage{Values: map[string]any{
				"task_type":       "index_event_tags",
				"project_id":      "42",
				"event_id":        "abc",
				"organization_id": "1",
				"group_id":        "7",
				"environment_id":  "3",
				"tags":            `[["browser","Chrome"],["level","error"]]`,
				"date_added":      "2024-01-01T12:00:00Z",
				"attempt":         "2",
			}})
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Tags).To(Equal([]model.TagPair{
				{Key: "browser", Value: "Chrome"},
				{Key: "level", Value: "error"},
			}))
			Expect(msg.DateAdded).NotTo(BeNil())
			Expect(msg.DateAdded.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))).To(BeTrue())
			Expect(msg.Attempt).To(Equal(2))
		})

		It("rejects malformed tags", func() {
			_, err := ParseMessage(redis.XMessage{Values: map[string]any{
				"task_type":       "index_event_tags",
				"project_id":      "42",
				"event_id":        "abc",
				"organization_id": "1",
				"group_id":        "7",
				"environment_id":  "3",
				"tags":            `{"browser":"Chrome"}`,
			}})
			Expect(err).To(MatchError(ContainSubstring("parsing tags")))
		})
	})

	It("rejects unknown task types", func() {
		_, err := ParseMessage(redis.XMessage{Values: map[string]any{
			"task_type":  "reindex_everything",
			"project_id": "42",
			"event_id":   "abc",
		}})
		Expect(errors.Is(err, ErrUnknownTaskType)).To(BeTrue())
	})
})

var _ = Describe("messageValues", func() {
	It("round-trips a post_process_group task through ParseMessage", func() {
		original := Message{
			TaskType:              TaskTypePostProcessGroup,
			ProjectID:             42,
			EventID:               "abc",
			IsNew:                 true,
			IsNewGroupEnvironment: true,
			PrimaryHash:           "deadbeef",
			TraceID:               "trace",
		}

		values := messageValues(original, 3)
		Expect(values["attempt"]).To(Equal(3))

		parsed, err := ParseMessage(redis.XMessage{ID: "2-0", Values: stringify(values)})
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Attempt).To(Equal(3))
		Expect(parsed.IsNew).To(BeTrue())
		Expect(parsed.IsNewGroupEnvironment).To(BeTrue())
		Expect(parsed.PrimaryHash).To(Equal("deadbeef"))
		Expect(parsed.TraceID).To(Equal("trace"))
	})

	It("keeps the event payload across a requeue", func() {
		values := messageValues(Message{
			TaskType:  TaskTypePostProcessGroup,
			ProjectID: 42,
			EventID:   "abc",
			Event:     &model.Event{ProjectID: 42, EventID: "abc", GroupID: 7, Type: model.EventTypeError, Size: 512},
		}, 2)

		parsed, err := ParseMessage(redis.XMessage{ID: "3-0", Values: stringify(values)})
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Event).NotTo(BeNil())
		Expect(parsed.Event.GroupID).To(Equal(int64(7)))
		Expect(parsed.Event.Size).To(Equal(int64(512)))
	})

	It("keeps tags for index_event_tags", func() {
		values := messageValues(Message{
			TaskType:       TaskTypeIndexEventTags,
			ProjectID:      42,
			EventID:        "abc",
			OrganizationID: 1,
			GroupID:        7,
			EnvironmentID:  3,
			Tags:           []model.TagPair{{Key: "k", Value: "v"}},
		}, 1)
		Expect(values["tags"]).To(Equal(`[["k","v"]]`))
	})
})

var _ = Describe("RedisConsumer.Read", func() {
	var (
		streams  *fakeStreams
		consumer *RedisConsumer
	)

	BeforeEach(func() {
		streams = &fakeStreams{}
		consumer = &RedisConsumer{client: streams, cfg: ConsumerConfig{
			Stream:    "postprocess:tasks",
			Group:     "postprocess",
			Consumer:  "worker-0",
			DLQStream: "postprocess:dlq",
			BatchSize: 10,
		}}
	})

	It("dead-letters unparseable messages with their original fields", func() {
		streams.pending = []redis.XMessage{
			{ID: "1-0", Values: map[string]any{"task_type": "post_process_group", "project_id": "42"}},
			{ID: "2-0", Values: map[string]any{"task_type": "post_process_group", "project_id": "42", "event_id": "abc"}},
		}

		messages, err := consumer.Read(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(HaveLen(1))
		Expect(messages[0].ID).To(Equal("2-0"))

		Expect(streams.acked).To(Equal([]string{"1-0"}))
		Expect(streams.added).To(HaveLen(1))
		Expect(streams.added[0].Stream).To(Equal("postprocess:dlq"))
		dlq := streams.added[0].Values.(map[string]any)
		Expect(dlq).To(HaveKeyWithValue("project_id", "42"))
		Expect(dlq).To(HaveKeyWithValue("task_type", "post_process_group"))
		Expect(dlq["error"]).To(ContainSubstring("missing event_id"))
	})

	It("leaves an unparseable message pending when the DLQ write fails", func() {
		streams.pending = []redis.XMessage{{ID: "1-0", Values: map[string]any{"project_id": "42"}}}
		streams.addErr = errors.New("redis down")

		messages, err := consumer.Read(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(BeEmpty())
		Expect(streams.added).To(BeEmpty())
		Expect(streams.acked).To(BeEmpty())
	})
})

// fakeStreams implements the stream commands the consumer uses.
type fakeStreams struct {
	redis.Cmdable
	pending []redis.XMessage
	acked   []string
	added   []*redis.XAddArgs
	addErr  error
}

func (f *fakeStreams) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: f.pending}})
	return cmd
}

func (f *fakeStreams) XAck(ctx context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeStreams) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.addErr != nil {
		cmd.SetErr(f.addErr)
		return cmd
	}
	f.added = append(f.added, a)
	cmd.SetVal("9-0")
	return cmd
}

// stringify mimics what Redis hands back: every field value as a string.
func stringify(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case bool:
			if t {
				out[k] = "1"
			} else {
				out[k] = "0"
			}
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
