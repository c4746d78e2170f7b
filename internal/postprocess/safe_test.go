package postprocess_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/postprocess/internal/plugin"
	"basegraph.app/postprocess/internal/postprocess"
)

var _ = Describe("SafeCall", func() {
	ctx := context.Background()

	It("returns the value on success", func() {
		res := postprocess.SafeCall(ctx, "ok", func(context.Context) (int, error) {
			return 7, nil
		})
		Expect(res.OK()).To(BeTrue())
		Expect(res.Value).To(Equal(7))
	})

	It("turns a panic into an error", func() {
		res := postprocess.SafeCall(ctx, "boom", func(context.Context) (int, error) {
			panic("kaboom")
		})
		Expect(res.OK()).To(BeFalse())
		Expect(res.Panicked).To(BeTrue())
		Expect(res.Err).To(MatchError(ContainSubstring("kaboom")))
	})

	It("flags expected errors", func() {
		res := postprocess.SafeCall(ctx, "plugin", func(context.Context) (struct{}, error) {
			return struct{}{}, fmt.Errorf("token revoked: %w", plugin.ErrPlugin)
		}, plugin.ErrPlugin)
		Expect(res.Expected).To(BeTrue())
		Expect(res.Panicked).To(BeFalse())
	})

	It("does not flag unrelated errors as expected", func() {
		res := postprocess.SafeCall(ctx, "plugin", func(context.Context) (struct{}, error) {
			return struct{}{}, errors.New("nil map write")
		}, plugin.ErrPlugin)
		Expect(res.Err).To(HaveOccurred())
		Expect(res.Expected).To(BeFalse())
	})
})

var _ = Describe("Publisher", func() {
	It("delivers to every listener even when some fail", func() {
		pub := postprocess.NewPublisher[string]("test")
		var got []string

		pub.Subscribe("first", func(_ context.Context, payload string) error {
			got = append(got, "first:"+payload)
			return errors.New("listener down")
		})
		pub.Subscribe("second", func(context.Context, string) error {
			panic("listener panicked")
		})
		pub.Subscribe("third", func(_ context.Context, payload string) error {
			got = append(got, "third:"+payload)
			return nil
		})

		results := pub.Publish(context.Background(), "evt")

		Expect(got).To(Equal([]string{"first:evt", "third:evt"}))
		Expect(results).To(HaveLen(3))
		Expect(results[0].Err).To(HaveOccurred())
		Expect(results[1].Panicked).To(BeTrue())
		Expect(results[2].OK()).To(BeTrue())
	})

	It("is a no-op without listeners", func() {
		pub := postprocess.NewPublisher[int]("empty")
		Expect(pub.Publish(context.Background(), 1)).To(BeEmpty())
	})
})
