package postprocess_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/postprocess/internal/plugin"
	"basegraph.app/postprocess/internal/postprocess"
)

var _ = Describe("PluginFanout", func() {
	var (
		ctx      context.Context
		rec      *recordingMetrics
		broken   *fakePlugin
		crashing *fakePlugin
		healthy  *fakePlugin
		fanout   *postprocess.PluginFanout
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recordingMetrics{}
		broken = &fakePlugin{slug: "asana", err: fmt.Errorf("token expired: %w", plugin.ErrPlugin)}
		crashing = &fakePlugin{slug: "jira", panic: true}
		healthy = &fakePlugin{slug: "webhooks"}

		registry := plugin.NewRegistry(enabledPlugins{"webhooks", "jira", "asana", "unregistered"})
		for _, p := range []*fakePlugin{broken, crashing, healthy} {
			Expect(registry.Register(p)).To(Succeed())
		}
		fanout = postprocess.NewPluginFanout(registry, rec)
	})

	It("runs every enabled plugin despite failures", func() {
		Expect(fanout.Run(ctx, 42, plugin.Input{})).To(Succeed())

		Expect(broken.calls).To(Equal(1))
		Expect(crashing.calls).To(Equal(1))
		Expect(healthy.calls).To(Equal(1))

		outcomes := map[string]string{}
		for _, c := range rec.counts {
			outcomes[c.tags["plugin"]] = c.tags["outcome"]
		}
		Expect(outcomes).To(Equal(map[string]string{
			"asana":    "expected_error",
			"jira":     "error",
			"webhooks": "success",
		}))
	})

	It("runs a single plugin by slug", func() {
		res, err := fanout.RunOne(ctx, "asana", plugin.Input{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Expected).To(BeTrue())
		Expect(healthy.calls).To(BeZero())
	})

	It("rejects an unknown slug", func() {
		_, err := fanout.RunOne(ctx, "unregistered", plugin.Input{})
		Expect(err).To(MatchError(postprocess.ErrUnknownPlugin))
	})
})
