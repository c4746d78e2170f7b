package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Result is the outcome of a SafeCall.
type Result[T any] struct {
	Value    T
	Err      error
	Panicked bool
	// Expected is set when Err matched one of the expected error kinds.
	Expected bool
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// SafeCall runs fn and never lets a failure escape: panics become errors and
// every failure is logged with the callable name. Errors matching expected are
// logged as warnings.
func SafeCall[T any](ctx context.Context, name string, fn func(context.Context) (T, error), expected ...error) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: fmt.Errorf("panic in %s: %v", name, r), Panicked: true}
			slog.ErrorContext(ctx, "callable panicked",
				"callable", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	value, err := fn(ctx)
	if err == nil {
		return Result[T]{Value: value}
	}

	res = Result[T]{Value: value, Err: err}
	for _, e := range expected {
		if errors.Is(err, e) {
			res.Expected = true
			slog.WarnContext(ctx, "callable failed", "callable", name, "error", err)
			return res
		}
	}
	slog.ErrorContext(ctx, "callable failed", "callable", name, "error", err)
	return res
}

// safeRun is SafeCall for functions with no value.
func safeRun(ctx context.Context, name string, fn func(context.Context) error, expected ...error) Result[struct{}] {
	return SafeCall(ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, expected...)
}
