package postprocess_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/postprocess"
)

var _ = Describe("SnoozeEvaluator", func() {
	var (
		ctx       context.Context
		clock     *fakeClock
		groups    *mockGroupStore
		snoozes   *mockSnoozeStore
		events    *mockEventStore
		tx        *mockTxRunner
		evaluator *postprocess.SnoozeEvaluator
		group     *model.Group
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		groups = &mockGroupStore{}
		snoozes = &mockSnoozeStore{}
		events = &mockEventStore{}
		tx = &mockTxRunner{provider: &mockStoreProvider{groups: groups, snoozes: snoozes}}
		evaluator = postprocess.NewSnoozeEvaluator(snoozes, events, tx, clock.Now)
		group = &model.Group{ID: 7, ProjectID: 42, Status: model.GroupStatusIgnored, TimesSeen: 10, UsersSeen: 3}
	})

	withSnooze := func(s model.GroupSnooze) {
		s.ID = 99
		s.GroupID = group.ID
		snoozes.getByGroupFn = func(context.Context, int64) (*model.GroupSnooze, error) {
			return &s, nil
		}
	}

	It("reports no reappearance without a snooze", func() {
		reappeared, err := evaluator.Evaluate(ctx, group)
		Expect(err).NotTo(HaveOccurred())
		Expect(reappeared).To(BeFalse())
		Expect(tx.calls).To(BeZero())
	})

	It("leaves a valid snooze alone", func() {
		withSnooze(model.GroupSnooze{Until: ptr(clock.Now().Add(time.Hour))})

		reappeared, err := evaluator.Evaluate(ctx, group)
		Expect(err).NotTo(HaveOccurred())
		Expect(reappeared).To(BeFalse())
		Expect(snoozes.deleted).To(BeEmpty())
		Expect(groups.updateStatusCalls).To(BeEmpty())
		Expect(group.Status).To(Equal(model.GroupStatusIgnored))
	})

	It("unresolves the group once the snooze expired", func() {
		group.Status = model.GroupStatusResolved
		withSnooze(model.GroupSnooze{
			Until:  ptr(clock.Now().Add(-time.Second)),
			Count:  ptr(int64(100)),
			Window: ptr(int64(60)),
		})
		events.countSinceFn = func(context.Context, int64, time.Time) (int64, error) {
			return 500, nil
		}

		reappeared, err := evaluator.Evaluate(ctx, group)
		Expect(err).NotTo(HaveOccurred())
		Expect(reappeared).To(BeTrue())
		Expect(tx.calls).To(Equal(1))
		Expect(snoozes.deleted).To(ConsistOf(int64(99)))
		Expect(groups.updateStatusCalls).To(ConsistOf(model.GroupStatusUnresolved))
		Expect(group.Status).To(Equal(model.GroupStatusUnresolved))
	})

	It("treats the exact expiry instant as expired", func() {
		withSnooze(model.GroupSnooze{Until: ptr(clock.Now())})

		reappeared, err := evaluator.Evaluate(ctx, group)
		Expect(err).NotTo(HaveOccurred())
		Expect(reappeared).To(BeTrue())
	})

	Context("with a windowed event count", func() {
		It("expires when the window reaches the threshold", func() {
			var since time.Time
			withSnooze(model.GroupSnooze{Count: ptr(int64(5)), Window: ptr(int64(30))})
			events.countSinceFn = func(_ context.Context, _ int64, s time.Time) (int64, error) {
				since = s
				return 5, nil
			}

			reappeared, err := evaluator.Evaluate(ctx, group)
			Expect(err).NotTo(HaveOccurred())
			Expect(reappeared).To(BeTrue())
			Expect(since).To(Equal(clock.Now().Add(-30 * time.Minute)))
		})

		It("stays valid below the threshold", func() {
			withSnooze(model.GroupSnooze{Count: ptr(int64(5)), Window: ptr(int64(30))})
			events.countSinceFn = func(context.Context, int64, time.Time) (int64, error) {
				return 4, nil
			}

			reappeared, err := evaluator.Evaluate(ctx, group)
			Expect(err).NotTo(HaveOccurred())
			Expect(reappeared).To(BeFalse())
		})

		It("surfaces counting failures", func() {
			withSnooze(model.GroupSnooze{Count: ptr(int64(5)), Window: ptr(int64(30))})
			events.countSinceFn = func(context.Context, int64, time.Time) (int64, error) {
				return 0, errBackend
			}

			_, err := evaluator.Evaluate(ctx, group)
			Expect(errors.Is(err, errBackend)).To(BeTrue())
			Expect(snoozes.deleted).To(BeEmpty())
		})
	})

	Context("with a count and no window", func() {
		It("compares against events seen since snoozing", func() {
			withSnooze(model.GroupSnooze{Count: ptr(int64(5)), StateTimesSeen: 6})
			reappeared, err := evaluator.Evaluate(ctx, group)
			Expect(err).NotTo(HaveOccurred())
			Expect(reappeared).To(BeFalse())

			withSnooze(model.GroupSnooze{Count: ptr(int64(5)), StateTimesSeen: 5})
			reappeared, err = evaluator.Evaluate(ctx, group)
			Expect(err).NotTo(HaveOccurred())
			Expect(reappeared).To(BeTrue())
		})
	})

	Context("with a user threshold", func() {
		It("expires when enough users were affected in the window", func() {
			withSnooze(model.GroupSnooze{UserCount: ptr(int64(2)), UserWindow: ptr(int64(10))})
			events.countUsersSinceFn = func(context.Context, int64, time.Time) (int64, error) {
				return 2, nil
			}

			reappeared, err := evaluator.Evaluate(ctx, group)
			Expect(err).NotTo(HaveOccurred())
			Expect(reappeared).To(BeTrue())
		})

		It("compares against users seen since snoozing without a window", func() {
			withSnooze(model.GroupSnooze{UserCount: ptr(int64(2)), StateUsersSeen: 2})
			reappeared, err := evaluator.Evaluate(ctx, group)
			Expect(err).NotTo(HaveOccurred())
			Expect(reappeared).To(BeFalse())
		})
	})

	It("reports a failed transition and keeps the group status", func() {
		withSnooze(model.GroupSnooze{Until: ptr(clock.Now().Add(-time.Minute))})
		groups.updateStatusFn = func(context.Context, int64, model.GroupStatus) error {
			return errBackend
		}

		reappeared, err := evaluator.Evaluate(ctx, group)
		Expect(err).To(MatchError(errBackend))
		Expect(reappeared).To(BeFalse())
		Expect(group.Status).To(Equal(model.GroupStatusIgnored))
	})
})
