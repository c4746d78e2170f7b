package rules

import (
	"context"

	"basegraph.app/postprocess/internal/model"
)

type Input struct {
	Event                 *model.Event
	Group                 *model.Group
	IsNew                 bool
	IsRegression          bool
	IsNewGroupEnvironment bool
	HasReappeared         bool
}

// Future is one rule action bound to its rule.
type Future struct {
	RuleID int64
	Kwargs map[string]any
}

type Callback func(ctx context.Context, event *model.Event, futures []Future) error

// Application is a callback the evaluator wants run, together with the futures it serves.
type Application struct {
	Name     string
	Callback Callback
	Futures  []Future
}

// Evaluator matches configured alert rules against an event.
type Evaluator interface {
	Apply(ctx context.Context, in Input) ([]Application, error)
}

// NopEvaluator matches nothing. It is used when no rule engine is wired.
type NopEvaluator struct{}

func (NopEvaluator) Apply(context.Context, Input) ([]Application, error) {
	return nil, nil
}
