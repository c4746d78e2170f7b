package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/postprocess"
	"basegraph.app/postprocess/internal/queue"
	"basegraph.app/postprocess/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		consumer  *mockConsumer
		processor *mockTaskProcessor
		rec       *countingMetrics
		w         *worker.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		processor = &mockTaskProcessor{}
		rec = &countingMetrics{}
		w = worker.New(consumer, processor, rec, worker.Config{MaxAttempts: 3})
	})

	Describe("ProcessMessage", func() {
		It("routes post_process_group to ProcessEvent", func() {
			var got postprocess.EventRequest
			processor.processEventFn = func(_ context.Context, req postprocess.EventRequest) error {
				got = req
				return nil
			}

			event := &model.Event{ProjectID: 42, EventID: "abc", GroupID: 7, Type: model.EventTypeError}
			err := w.ProcessMessage(ctx, queue.Message{
				ID:                    "1-0",
				TaskType:              queue.TaskTypePostProcessGroup,
				ProjectID:             42,
				EventID:               "abc",
				Event:                 event,
				IsNew:                 true,
				IsNewGroupEnvironment: true,
				PrimaryHash:           "deadbeef",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(postprocess.EventRequest{
				ProjectID:             42,
				EventID:               "abc",
				Event:                 event,
				IsNew:                 true,
				IsNewGroupEnvironment: true,
				PrimaryHash:           "deadbeef",
			}))
		})

		It("routes plugin tasks to ProcessPlugin", func() {
			var slug string
			processor.processPluginFn = func(_ context.Context, req postprocess.PluginRequest) error {
				slug = req.Slug
				return nil
			}

			Expect(w.ProcessMessage(ctx, queue.Message{
				TaskType:   queue.TaskTypePluginPostProcess,
				ProjectID:  42,
				EventID:    "abc",
				PluginSlug: "webhooks",
			})).To(Succeed())
			Expect(slug).To(Equal("webhooks"))
		})

		It("routes tag tasks to IndexEventTags", func() {
			var got postprocess.TagIndexRequest
			processor.indexEventTagsFn = func(_ context.Context, req postprocess.TagIndexRequest) error {
				got = req
				return nil
			}

			Expect(w.ProcessMessage(ctx, queue.Message{
				TaskType:       queue.TaskTypeIndexEventTags,
				ProjectID:      42,
				EventID:        "abc",
				OrganizationID: 1,
				GroupID:        7,
				EnvironmentID:  3,
				Tags:           []model.TagPair{{Key: "level", Value: "error"}},
			})).To(Succeed())
			Expect(got.OrganizationID).To(Equal(int64(1)))
			Expect(got.Tags).To(HaveLen(1))
		})

		It("rejects unknown task types", func() {
			err := w.ProcessMessage(ctx, queue.Message{TaskType: "reindex"})
			Expect(errors.Is(err, queue.ErrUnknownTaskType)).To(BeTrue())
		})
	})

	Describe("HandleMessage", func() {
		msg := queue.Message{ID: "1-0", TaskType: queue.TaskTypePostProcessGroup, ProjectID: 42, EventID: "abc", Attempt: 1}

		It("acks on success", func() {
			Expect(w.HandleMessage(ctx, msg)).To(Succeed())
			Expect(consumer.acked).To(ConsistOf("1-0"))
			Expect(rec.get("worker.tasks/post_process_group/success")).To(Equal(1))
		})

		It("requeues a failure with attempts left", func() {
			processor.processEventFn = func(context.Context, postprocess.EventRequest) error {
				return errors.New("store unreachable")
			}

			Expect(w.HandleMessage(ctx, msg)).To(MatchError("store unreachable"))
			Expect(consumer.acked).To(BeEmpty())
			Expect(consumer.requeued).To(ConsistOf("1-0"))
			Expect(consumer.errMsgs).To(ConsistOf("store unreachable"))
			Expect(rec.get("worker.tasks/post_process_group/requeued")).To(Equal(1))
		})

		It("dead-letters once attempts run out", func() {
			processor.processEventFn = func(context.Context, postprocess.EventRequest) error {
				return errors.New("store unreachable")
			}

			last := msg
			last.Attempt = 3
			Expect(w.HandleMessage(ctx, last)).To(HaveOccurred())
			Expect(consumer.requeued).To(BeEmpty())
			Expect(consumer.dlq).To(ConsistOf("1-0"))
			Expect(rec.get("worker.tasks/post_process_group/dead_lettered")).To(Equal(1))
		})

		It("treats a panic like a failure", func() {
			processor.processEventFn = func(context.Context, postprocess.EventRequest) error {
				panic("unexpected nil")
			}

			err := w.HandleMessage(ctx, msg)
			Expect(err).To(MatchError(ContainSubstring("unexpected nil")))
			Expect(consumer.requeued).To(ConsistOf("1-0"))
		})
	})

	Describe("Run", func() {
		It("drains batches until stopped", func() {
			consumer.batches = [][]queue.Message{
				{{ID: "1-0", TaskType: queue.TaskTypePostProcessGroup, Attempt: 1}},
				{{ID: "2-0", TaskType: queue.TaskTypeIndexEventTags, Attempt: 1}},
			}

			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			Eventually(consumer.ackedIDs).Should(Equal([]string{"1-0", "2-0"}))
			w.Stop()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("returns when the context is cancelled", func() {
			consumer.readErr = errors.New("redis down")
			w = worker.New(consumer, processor, rec, worker.Config{MaxAttempts: 3, ErrorBackoff: 10 * time.Millisecond})

			cctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- w.Run(cctx) }()

			cancel()
			Eventually(done).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
