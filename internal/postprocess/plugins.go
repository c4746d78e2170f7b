package postprocess

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/postprocess/common/logger"
	"basegraph.app/postprocess/internal/metrics"
	"basegraph.app/postprocess/internal/plugin"
)

var ErrUnknownPlugin = errors.New("unknown plugin")

// PluginFanout runs plugin post-process hooks, each one isolated from the rest.
type PluginFanout struct {
	registry *plugin.Registry
	metrics  metrics.Recorder
}

func NewPluginFanout(registry *plugin.Registry, rec metrics.Recorder) *PluginFanout {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &PluginFanout{registry: registry, metrics: rec}
}

// Run invokes every plugin enabled for the project. Only listing the plugins can fail.
func (f *PluginFanout) Run(ctx context.Context, projectID int64, in plugin.Input) error {
	hooks, err := f.registry.ForProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		f.invoke(ctx, hook, in)
	}
	return nil
}

// RunOne invokes a single plugin by slug.
func (f *PluginFanout) RunOne(ctx context.Context, slug string, in plugin.Input) (Result[struct{}], error) {
	hook, ok := f.registry.Get(slug)
	if !ok {
		return Result[struct{}]{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, slug)
	}
	return f.invoke(ctx, hook, in), nil
}

func (f *PluginFanout) invoke(ctx context.Context, hook plugin.PostProcessHook, in plugin.Input) Result[struct{}] {
	slug := hook.Slug()
	ctx = logger.WithLogFields(ctx, logger.LogFields{PluginSlug: &slug})

	res := safeRun(ctx, "plugin."+slug+".post_process", func(ctx context.Context) error {
		return hook.PostProcess(ctx, in)
	}, plugin.ErrPlugin)

	outcome := "success"
	switch {
	case res.Expected:
		outcome = "expected_error"
	case res.Err != nil:
		outcome = "error"
	}
	f.metrics.Incr("plugins.post_process", map[string]string{"plugin": slug, "outcome": outcome})
	return res
}
