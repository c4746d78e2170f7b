package postprocess

import (
	"context"
	"fmt"

	"basegraph.app/postprocess/internal/rules"
)

// RuleEngineAdapter runs the rule evaluator and invokes each resulting callback in isolation.
type RuleEngineAdapter struct {
	evaluator rules.Evaluator
}

func NewRuleEngineAdapter(evaluator rules.Evaluator) *RuleEngineAdapter {
	if evaluator == nil {
		evaluator = rules.NopEvaluator{}
	}
	return &RuleEngineAdapter{evaluator: evaluator}
}

// Evaluate reports whether any rule fired. A failing callback does not stop the others.
func (a *RuleEngineAdapter) Evaluate(ctx context.Context, in rules.Input) (bool, error) {
	apps, err := a.evaluator.Apply(ctx, in)
	if err != nil {
		return false, fmt.Errorf("evaluating rules: %w", err)
	}

	for _, app := range apps {
		name := app.Name
		if name == "" {
			name = "rule_callback"
		}
		safeRun(ctx, name, func(ctx context.Context) error {
			return app.Callback(ctx, in.Event, app.Futures)
		})
	}
	return len(apps) > 0, nil
}
