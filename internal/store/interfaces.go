package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/postprocess/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// GroupStore defines the contract for group (issue) data access
type GroupStore interface {
	GetByID(ctx context.Context, id int64) (*model.Group, error)
	// GetWithRedirect follows group_redirects when id was merged into another group.
	GetWithRedirect(ctx context.Context, id int64) (*model.Group, error)
	UpdateStatus(ctx context.Context, id int64, status model.GroupStatus) error
	// AssignIfUnassigned returns false when the group already had an assignee.
	AssignIfUnassigned(ctx context.Context, group *model.Group, owner model.Owner) (bool, error)
}

// ProjectStore defines the contract for project data access
type ProjectStore interface {
	GetByID(ctx context.Context, id int64) (*model.Project, error)
}

// SnoozeStore defines the contract for group snooze data access
type SnoozeStore interface {
	GetByGroup(ctx context.Context, groupID int64) (*model.GroupSnooze, error)
	Delete(ctx context.Context, id int64) error
}

// EventStore defines the contract for stored events
type EventStore interface {
	Get(ctx context.Context, projectID int64, eventID string) (*model.Event, error)
	CountSince(ctx context.Context, groupID int64, since time.Time) (int64, error)
	CountUsersSince(ctx context.Context, groupID int64, since time.Time) (int64, error)
}

// OwnershipStore defines the contract for project ownership configuration
type OwnershipStore interface {
	GetByProject(ctx context.Context, projectID int64) (*model.ProjectOwnership, error)
}

// ServiceHookStore defines the contract for service hook registrations
type ServiceHookStore interface {
	ListByProject(ctx context.Context, projectID int64) ([]model.ServiceHook, error)
	OrganizationSubscribes(ctx context.Context, organizationID int64, event string) (bool, error)
}

type FeatureScope string

const (
	FeatureScopeOrganization FeatureScope = "organization"
	FeatureScopeProject      FeatureScope = "project"
)

// FeatureStore returns ErrNotFound when no explicit flag row exists.
type FeatureStore interface {
	IsEnabled(ctx context.Context, name string, scope FeatureScope, scopeID int64) (bool, error)
}

// OptionStore returns ErrNotFound when the option is unset.
type OptionStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// PluginStore defines the contract for per-project plugin enablement
type PluginStore interface {
	ListEnabled(ctx context.Context, projectID int64) ([]string, error)
}

type EventTags struct {
	ProjectID     int64
	GroupID       int64
	EnvironmentID int64
	EventID       string
	Tags          []model.TagPair
	DateAdded     time.Time
}

// TagStore writes all tags of one event in a single logical operation.
type TagStore interface {
	CreateEventTags(ctx context.Context, tags EventTags) error
}
