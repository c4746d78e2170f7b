package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"basegraph.app/postprocess/internal/cache"
	"basegraph.app/postprocess/internal/features"
	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/options"
	"basegraph.app/postprocess/internal/store"
)

const hookCacheTTL = 60 * time.Second

func HookListKey(projectID int64) string {
	return fmt.Sprintf("servicehooks:1:%d", projectID)
}

func ErrorHookKey(projectID int64) string {
	return fmt.Sprintf("servicehooks-error-created:1:%d", projectID)
}

// Rand is the uniform [0, 1) source used for error-hook sampling.
type Rand interface {
	Float64() float64
}

type RandFunc func() float64

func (f RandFunc) Float64() float64 { return f() }

type Options interface {
	Bool(ctx context.Context, key string) bool
	Float(ctx context.Context, key string) float64
}

type FeatureChecker interface {
	ForProject(ctx context.Context, name string, projectID int64) (bool, error)
	ForOrganization(ctx context.Context, name string, organizationID int64) (bool, error)
}

type HookRegistryDeps struct {
	Cache    cache.Cache
	Policy   cache.FailurePolicy
	Hooks    store.ServiceHookStore
	Features FeatureChecker
	Options  Options
	Rand     Rand
}

// HookRegistry answers which hooks a project has, caching both lookups for a minute.
type HookRegistry struct {
	cache    cache.Cache
	policy   cache.FailurePolicy
	hooks    store.ServiceHookStore
	features FeatureChecker
	options  Options
	rand     Rand
}

func NewHookRegistry(deps HookRegistryDeps) *HookRegistry {
	r := deps.Rand
	if r == nil {
		r = RandFunc(rand.Float64)
	}
	return &HookRegistry{
		cache:    deps.Cache,
		policy:   deps.Policy,
		hooks:    deps.Hooks,
		features: deps.Features,
		options:  deps.Options,
		rand:     r,
	}
}

// ListHooks returns the project's hooks, from cache when fresh.
func (r *HookRegistry) ListHooks(ctx context.Context, projectID int64) ([]model.ServiceHook, error) {
	key := HookListKey(projectID)

	raw, ok, err := r.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		hooks, err := decodeHooks(raw)
		if err == nil {
			return hooks, nil
		}
		slog.WarnContext(ctx, "discarding undecodable hook cache entry", "key", key, "error", err)
	}

	hooks, err := r.hooks.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing service hooks: %w", err)
	}

	encoded, err := encodeHooks(hooks)
	if err != nil {
		return nil, err
	}
	if err := r.set(ctx, key, encoded); err != nil {
		return nil, err
	}
	return hooks, nil
}

// ErrorHooksEnabled decides whether error.created notifications go out for the project.
// With sampling on the decision is a fresh random draw and is never cached.
func (r *HookRegistry) ErrorHooksEnabled(ctx context.Context, project *model.Project) (bool, error) {
	if r.options.Bool(ctx, options.UseErrorHookSampling) {
		return r.rand.Float64() < r.options.Float(ctx, options.ErrorHookSampleRate), nil
	}

	key := ErrorHookKey(project.ID)
	raw, ok, err := r.get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return raw == "1", nil
	}

	enabled, err := r.computeErrorHooks(ctx, project)
	if err != nil {
		return false, err
	}

	value := "0"
	if enabled {
		value = "1"
	}
	if err := r.set(ctx, key, value); err != nil {
		return false, err
	}
	return enabled, nil
}

func (r *HookRegistry) computeErrorHooks(ctx context.Context, project *model.Project) (bool, error) {
	enabled, err := r.features.ForOrganization(ctx, features.OrganizationEventHooks, project.OrganizationID)
	if err != nil {
		return false, err
	}
	if !enabled {
		return false, nil
	}

	subscribed, err := r.hooks.OrganizationSubscribes(ctx, project.OrganizationID, model.HookErrorCreated)
	if err != nil {
		return false, fmt.Errorf("checking error.created subscriptions: %w", err)
	}
	return subscribed, nil
}

// get treats a cache failure as a miss unless the policy is fail-closed.
func (r *HookRegistry) get(ctx context.Context, key string) (string, bool, error) {
	if r.cache == nil {
		return "", false, nil
	}
	value, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		if r.policy == cache.FailClosed {
			return "", false, fmt.Errorf("reading %s: %w", key, err)
		}
		slog.WarnContext(ctx, "hook cache read failed, using store", "key", key, "error", err)
		return "", false, nil
	}
	return value, ok, nil
}

func (r *HookRegistry) set(ctx context.Context, key, value string) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Set(ctx, key, value, hookCacheTTL); err != nil {
		if r.policy == cache.FailClosed {
			return fmt.Errorf("writing %s: %w", key, err)
		}
		slog.WarnContext(ctx, "hook cache write failed", "key", key, "error", err)
	}
	return nil
}

// Cached hook lists are stored as [[id, [events...]], ...].
func encodeHooks(hooks []model.ServiceHook) (string, error) {
	rows := make([][2]any, 0, len(hooks))
	for _, h := range hooks {
		events := h.Events
		if events == nil {
			events = []string{}
		}
		rows = append(rows, [2]any{h.ID, events})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encoding hooks: %w", err)
	}
	return string(b), nil
}

func decodeHooks(raw string) ([]model.ServiceHook, error) {
	var rows [][2]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("decoding hooks: %w", err)
	}
	hooks := make([]model.ServiceHook, 0, len(rows))
	for _, row := range rows {
		var h model.ServiceHook
		if err := json.Unmarshal(row[0], &h.ID); err != nil {
			return nil, fmt.Errorf("decoding hook id: %w", err)
		}
		if err := json.Unmarshal(row[1], &h.Events); err != nil {
			return nil, fmt.Errorf("decoding hook events: %w", err)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}
