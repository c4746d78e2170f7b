package postprocess_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/postprocess"
)

var (
	payments = model.Owner{Type: model.OwnerTypeTeam, ID: 1}
	alice    = model.Owner{Type: model.OwnerTypeUser, ID: 2}
)

func pythonEvent() map[string]any {
	return map[string]any{
		"exception": map[string]any{
			"values": []any{
				map[string]any{
					"type": "ValueError",
					"stacktrace": map[string]any{
						"frames": []any{
							map[string]any{"filename": "src/payments/charge.py", "module": "payments.charge"},
							map[string]any{"abs_path": "/app/lib/Util.py", "module": "lib.util"},
						},
					},
				},
			},
		},
		"request": map[string]any{"url": "https://shop.example.com/checkout/pay"},
		"tags":    []any{[]any{"browser", "Chrome"}, []any{"Level", "error"}},
	}
}

var _ = Describe("OwnershipAssigner", func() {
	var (
		ctx       context.Context
		groups    *mockGroupStore
		ownership *mockOwnershipStore
		assigner  *postprocess.OwnershipAssigner
		group     *model.Group
		event     *model.Event
	)

	BeforeEach(func() {
		ctx = context.Background()
		groups = &mockGroupStore{}
		ownership = &mockOwnershipStore{}
		assigner = postprocess.NewOwnershipAssigner(ownership, groups)
		group = &model.Group{ID: 7, ProjectID: 42}
		event = &model.Event{ProjectID: 42, EventID: "abc", GroupID: 7, Data: pythonEvent()}
	})

	withRules := func(auto bool, rules ...model.OwnershipRule) {
		ownership.getByProjectFn = func(context.Context, int64) (*model.ProjectOwnership, error) {
			return &model.ProjectOwnership{ProjectID: 42, Rules: rules, AutoAssignment: auto}, nil
		}
	}

	It("assigns the first owner of the first matching rule", func() {
		withRules(true,
			model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypeURL, Pattern: "*/admin/*"}, Owners: []model.Owner{alice}},
			model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypePath, Pattern: "src/payments/*"}, Owners: []model.Owner{payments, alice}},
			model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypeModule, Pattern: "lib.*"}, Owners: []model.Owner{alice}},
		)

		assigned, err := assigner.Assign(ctx, group, event)
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned).To(BeTrue())
		Expect(groups.assignCalls).To(ConsistOf(payments))
		Expect(group.Assignee).To(Equal(&payments))
	})

	It("never touches an assigned group", func() {
		group.Assignee = &alice
		withRules(true, model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypePath, Pattern: "*"}, Owners: []model.Owner{payments}})

		assigned, err := assigner.Assign(ctx, group, event)
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned).To(BeFalse())
		Expect(groups.assignCalls).To(BeEmpty())
		Expect(group.Assignee).To(Equal(&alice))
	})

	It("does nothing when auto-assignment is off", func() {
		withRules(false, model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypePath, Pattern: "*"}, Owners: []model.Owner{payments}})

		assigned, err := assigner.Assign(ctx, group, event)
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned).To(BeFalse())
		Expect(groups.assignCalls).To(BeEmpty())
	})

	It("does nothing when the project has no ownership config", func() {
		assigned, err := assigner.Assign(ctx, group, event)
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned).To(BeFalse())
	})

	It("does nothing when no rule matches", func() {
		withRules(true, model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypePath, Pattern: "src/auth/*"}, Owners: []model.Owner{payments}})

		assigned, err := assigner.Assign(ctx, group, event)
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned).To(BeFalse())
		Expect(groups.assignCalls).To(BeEmpty())
	})

	It("keeps a concurrent manual assignment", func() {
		withRules(true, model.OwnershipRule{Matcher: model.Matcher{Type: model.MatcherTypePath, Pattern: "*"}, Owners: []model.Owner{payments}})
		groups.assignFn = func(context.Context, *model.Group, model.Owner) (bool, error) {
			return false, nil
		}

		assigned, err := assigner.Assign(ctx, group, event)
		Expect(err).NotTo(HaveOccurred())
		Expect(assigned).To(BeFalse())
		Expect(group.Assignee).To(BeNil())
	})

	It("propagates store failures", func() {
		ownership.getByProjectFn = func(context.Context, int64) (*model.ProjectOwnership, error) {
			return nil, errBackend
		}
		_, err := assigner.Assign(ctx, group, event)
		Expect(err).To(MatchError(errBackend))
	})
})

var _ = DescribeTable("MatchRule",
	func(m model.Matcher, expected bool) {
		Expect(postprocess.MatchRule(m, pythonEvent())).To(Equal(expected))
	},
	Entry("path on filename", model.Matcher{Type: model.MatcherTypePath, Pattern: "src/payments/*.py"}, true),
	Entry("path on abs_path, case-insensitive", model.Matcher{Type: model.MatcherTypePath, Pattern: "*/lib/util.py"}, true),
	Entry("path miss", model.Matcher{Type: model.MatcherTypePath, Pattern: "src/auth/*"}, false),
	Entry("module", model.Matcher{Type: model.MatcherTypeModule, Pattern: "payments.*"}, true),
	Entry("url", model.Matcher{Type: model.MatcherTypeURL, Pattern: "https://shop.example.com/checkout/*"}, true),
	Entry("url miss", model.Matcher{Type: model.MatcherTypeURL, Pattern: "*/admin/*"}, false),
	Entry("tag by key", model.Matcher{Type: model.MatcherTypeTag, Key: "browser", Pattern: "chrome*"}, true),
	Entry("tag key is case-insensitive", model.Matcher{Type: model.MatcherTypeTag, Key: "level", Pattern: "error"}, true),
	Entry("tag with another key", model.Matcher{Type: model.MatcherTypeTag, Key: "os", Pattern: "*"}, false),
	Entry("empty pattern", model.Matcher{Type: model.MatcherTypePath, Pattern: ""}, false),
	Entry("unknown matcher type", model.Matcher{Type: "codeowners", Pattern: "*"}, false),
)

var _ = Describe("MatchOwner", func() {
	It("skips rules without owners", func() {
		owner, ok := postprocess.MatchOwner([]model.OwnershipRule{
			{Matcher: model.Matcher{Type: model.MatcherTypePath, Pattern: "*"}},
			{Matcher: model.Matcher{Type: model.MatcherTypeModule, Pattern: "*"}, Owners: []model.Owner{alice}},
		}, pythonEvent())
		Expect(ok).To(BeTrue())
		Expect(owner).To(Equal(alice))
	})

	It("reads tags given as a map", func() {
		data := map[string]any{"tags": map[string]any{"browser": "Firefox"}}
		Expect(postprocess.MatchRule(model.Matcher{Type: model.MatcherTypeTag, Key: "browser", Pattern: "firefox"}, data)).To(BeTrue())
	})
})
