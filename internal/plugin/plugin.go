package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"basegraph.app/postprocess/internal/model"
)

// ErrPlugin marks an expected plugin failure, for example a misconfigured integration.
// Wrap it so the failure is logged as a warning instead of an error.
var ErrPlugin = errors.New("plugin error")

type Input struct {
	Event        *model.Event
	Group        *model.Group
	IsNew        bool
	IsRegression bool
	IsSample     bool
}

// PostProcessHook is the capability a plugin implements to see processed events.
type PostProcessHook interface {
	Slug() string
	PostProcess(ctx context.Context, in Input) error
}

// EnabledLister reports which plugin slugs a project has turned on.
type EnabledLister interface {
	ListEnabled(ctx context.Context, projectID int64) ([]string, error)
}

// Registry maps slugs to hooks. Registration happens at startup, lookups are map reads.
type Registry struct {
	lock    sync.RWMutex
	hooks   map[string]PostProcessHook
	enabled EnabledLister
}

func NewRegistry(enabled EnabledLister) *Registry {
	return &Registry{
		hooks:   map[string]PostProcessHook{},
		enabled: enabled,
	}
}

func (r *Registry) Register(hook PostProcessHook) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	slug := hook.Slug()
	if slug == "" {
		return errors.New("plugin slug is empty")
	}
	if _, ok := r.hooks[slug]; ok {
		return fmt.Errorf("plugin %q already registered", slug)
	}
	r.hooks[slug] = hook
	return nil
}

func (r *Registry) Get(slug string) (PostProcessHook, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	hook, ok := r.hooks[slug]
	return hook, ok
}

func (r *Registry) Slugs() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	slugs := make([]string, 0, len(r.hooks))
	for slug := range r.hooks {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// ForProject returns the registered hooks enabled for the project, in slug order.
// Enabled slugs with no registered hook are skipped.
func (r *Registry) ForProject(ctx context.Context, projectID int64) ([]PostProcessHook, error) {
	if r.enabled == nil {
		return nil, nil
	}
	slugs, err := r.enabled.ListEnabled(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing enabled plugins: %w", err)
	}
	sort.Strings(slugs)

	r.lock.RLock()
	defer r.lock.RUnlock()
	hooks := make([]PostProcessHook, 0, len(slugs))
	for _, slug := range slugs {
		if hook, ok := r.hooks[slug]; ok {
			hooks = append(hooks, hook)
		}
	}
	return hooks, nil
}
