package features

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/postprocess/internal/store"
)

const (
	ProjectServiceHooks    = "projects:servicehooks"
	OrganizationEventHooks = "organizations:integrations-event-hooks"
)

// Checker answers feature gates per project or organization.
type Checker struct {
	store    store.FeatureStore
	defaults map[string]bool
}

func NewChecker(s store.FeatureStore, enabledByDefault []string) *Checker {
	defaults := make(map[string]bool, len(enabledByDefault))
	for _, name := range enabledByDefault {
		defaults[name] = true
	}
	return &Checker{store: s, defaults: defaults}
}

func (c *Checker) ForProject(ctx context.Context, name string, projectID int64) (bool, error) {
	return c.has(ctx, name, store.FeatureScopeProject, projectID)
}

func (c *Checker) ForOrganization(ctx context.Context, name string, organizationID int64) (bool, error) {
	return c.has(ctx, name, store.FeatureScopeOrganization, organizationID)
}

func (c *Checker) has(ctx context.Context, name string, scope store.FeatureScope, id int64) (bool, error) {
	enabled, err := c.store.IsEnabled(ctx, name, scope, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.defaults[name], nil
		}
		return false, fmt.Errorf("checking feature %s for %s %d: %w", name, scope, id, err)
	}
	return enabled, nil
}
