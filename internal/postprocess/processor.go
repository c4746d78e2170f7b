package postprocess

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/postprocess/common/logger"
	"basegraph.app/postprocess/internal/model"
	"basegraph.app/postprocess/internal/plugin"
	"basegraph.app/postprocess/internal/rules"
	"basegraph.app/postprocess/internal/store"
)

// EventRequest is one post-process invocation. Event is the payload handed over by
// ingestion; when nil the event is loaded by ProjectID and EventID.
type EventRequest struct {
	ProjectID             int64
	EventID               string
	Event                 *model.Event
	IsNew                 bool
	IsRegression          bool
	IsSample              bool
	IsNewGroupEnvironment bool
	PrimaryHash           string
}

type PluginRequest struct {
	Slug         string
	ProjectID    int64
	EventID      string
	Event        *model.Event
	IsNew        bool
	IsRegression bool
	IsSample     bool
}

type Deps struct {
	Dedup          *DedupGuard
	Events         store.EventStore
	Groups         store.GroupStore
	Projects       store.ProjectStore
	Stats          *MetricsRecorder
	Snoozes        *SnoozeEvaluator
	Ownership      *OwnershipAssigner
	Rules          *RuleEngineAdapter
	Fanout         *FanoutDispatcher
	Plugins        *PluginFanout
	ResourceChange *ResourceChangeNotifier
	Tags           *TagIndexer
	Processed      *Publisher[EventProcessed]
}

// Processor runs the post-process pipeline for one stored event.
// Stages run in a fixed order. Any stage error aborts the rest and is returned
// so the queue redelivers the task.
type Processor struct {
	dedup          *DedupGuard
	events         store.EventStore
	groups         store.GroupStore
	projects       store.ProjectStore
	stats          *MetricsRecorder
	snoozes        *SnoozeEvaluator
	ownership      *OwnershipAssigner
	rules          *RuleEngineAdapter
	fanout         *FanoutDispatcher
	plugins        *PluginFanout
	resourceChange *ResourceChangeNotifier
	tags           *TagIndexer
	processed      *Publisher[EventProcessed]
}

func NewProcessor(deps Deps) *Processor {
	processed := deps.Processed
	if processed == nil {
		processed = NewPublisher[EventProcessed]("event_processed")
	}
	return &Processor{
		dedup:          deps.Dedup,
		events:         deps.Events,
		groups:         deps.Groups,
		projects:       deps.Projects,
		stats:          deps.Stats,
		snoozes:        deps.Snoozes,
		ownership:      deps.Ownership,
		rules:          deps.Rules,
		fanout:         deps.Fanout,
		plugins:        deps.Plugins,
		resourceChange: deps.ResourceChange,
		tags:           deps.Tags,
		processed:      processed,
	}
}

func (p *Processor) ProcessEvent(ctx context.Context, req EventRequest) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProjectID: &req.ProjectID,
		EventID:   &req.EventID,
		Component: "postprocess.processor",
	})

	sc := logger.StartSpan(ctx, "postprocess.process_event")
	defer sc.End()
	sc.SetAttributes(
		attribute.Int64("project_id", req.ProjectID),
		attribute.String("event_id", req.EventID),
		attribute.Bool("is_new", req.IsNew),
	)

	if err := p.processEvent(sc.Context(), req); err != nil {
		sc.RecordError(err)
		return err
	}
	return nil
}

func (p *Processor) processEvent(ctx context.Context, req EventRequest) error {
	// Resolved before the claim so a failed load leaves the retry unclaimed.
	event, err := p.resolveEvent(ctx, req.ProjectID, req.EventID, req.Event)
	if err != nil {
		return err
	}

	claimed, err := p.dedup.TryClaim(ctx, req.ProjectID, req.EventID)
	if err != nil {
		return err
	}
	if !claimed {
		slog.InfoContext(ctx, "post_process.skipped", "reason", "duplicate")
		return nil
	}

	var (
		group   *model.Group
		project *model.Project
	)
	err = p.stage(ctx, "rebind", func(ctx context.Context) (err error) {
		group, project, err = p.rebind(ctx, event)
		return err
	})
	if err != nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{GroupID: &group.ID})

	p.stats.Capture(ctx, group, event, req.IsNew)

	var hasReappeared bool
	err = p.stage(ctx, "snooze", func(ctx context.Context) (err error) {
		hasReappeared, err = p.snoozes.Evaluate(ctx, group)
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "ownership", func(ctx context.Context) error {
		_, err := p.ownership.Assign(ctx, group, event)
		return err
	})
	if err != nil {
		return err
	}

	var hasAlert bool
	err = p.stage(ctx, "rules", func(ctx context.Context) (err error) {
		hasAlert, err = p.rules.Evaluate(ctx, rules.Input{
			Event:                 event,
			Group:                 group,
			IsNew:                 req.IsNew,
			IsRegression:          req.IsRegression,
			IsNewGroupEnvironment: req.IsNewGroupEnvironment,
			HasReappeared:         hasReappeared,
		})
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "servicehooks", func(ctx context.Context) error {
		sent, err := p.fanout.Dispatch(ctx, project, event, hasAlert)
		if sent > 0 {
			slog.DebugContext(ctx, "service hooks scheduled", "count", sent, "has_alert", hasAlert)
		}
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "plugins", func(ctx context.Context) error {
		return p.plugins.Run(ctx, project.ID, plugin.Input{
			Event:        event,
			Group:        group,
			IsNew:        req.IsNew,
			IsRegression: req.IsRegression,
			IsSample:     req.IsSample,
		})
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "resource_change", func(ctx context.Context) error {
		return p.resourceChange.Notify(ctx, project, event, req.IsNew)
	})
	if err != nil {
		return err
	}

	p.processed.Publish(ctx, EventProcessed{
		Project:     project,
		Group:       group,
		Event:       event,
		PrimaryHash: req.PrimaryHash,
	})

	slog.InfoContext(ctx, "event post-processed",
		"is_new", req.IsNew,
		"has_reappeared", hasReappeared,
		"has_alert", hasAlert)
	return nil
}

// ProcessPlugin runs one plugin for an event. Plugin failures are isolated;
// only loading state or an unregistered slug fails the call.
func (p *Processor) ProcessPlugin(ctx context.Context, req PluginRequest) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProjectID:  &req.ProjectID,
		EventID:    &req.EventID,
		PluginSlug: &req.Slug,
		Component:  "postprocess.processor",
	})

	sc := logger.StartSpan(ctx, "postprocess.process_plugin")
	defer sc.End()
	sc.SetAttributes(attribute.String("plugin", req.Slug))
	ctx = sc.Context()

	event, err := p.resolveEvent(ctx, req.ProjectID, req.EventID, req.Event)
	if err != nil {
		sc.RecordError(err)
		return err
	}
	group, _, err := p.rebind(ctx, event)
	if err != nil {
		sc.RecordError(err)
		return err
	}

	_, err = p.plugins.RunOne(ctx, req.Slug, plugin.Input{
		Event:        event,
		Group:        group,
		IsNew:        req.IsNew,
		IsRegression: req.IsRegression,
		IsSample:     req.IsSample,
	})
	if err != nil {
		sc.RecordError(err)
		return err
	}
	return nil
}

func (p *Processor) IndexEventTags(ctx context.Context, req TagIndexRequest) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProjectID: &req.ProjectID,
		EventID:   &req.EventID,
		GroupID:   &req.GroupID,
		Component: "postprocess.tags",
	})

	sc := logger.StartSpan(ctx, "postprocess.index_event_tags")
	defer sc.End()
	sc.SetAttributes(attribute.Int("tag_count", len(req.Tags)))

	if err := p.tags.Index(sc.Context(), req); err != nil {
		sc.RecordError(err)
		return err
	}
	return nil
}

// resolveEvent prefers the carried payload. A sampled event may never reach the
// event store, so the store is only read for reference-only tasks.
func (p *Processor) resolveEvent(ctx context.Context, projectID int64, eventID string, carried *model.Event) (*model.Event, error) {
	if carried != nil {
		event := *carried
		event.ProjectID = projectID
		event.EventID = eventID
		return &event, nil
	}

	event, err := p.events.Get(ctx, projectID, eventID)
	if err != nil {
		return nil, fmt.Errorf("loading event: %w", err)
	}
	return event, nil
}

// rebind loads the current group and project from the store, following group
// merges, and points the event at the surviving group.
func (p *Processor) rebind(ctx context.Context, event *model.Event) (*model.Group, *model.Project, error) {
	group, err := p.groups.GetWithRedirect(ctx, event.GroupID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading group %d: %w", event.GroupID, err)
	}
	event.GroupID = group.ID

	project, err := p.projects.GetByID(ctx, group.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading project %d: %w", group.ProjectID, err)
	}
	if event.OrganizationID == 0 {
		event.OrganizationID = project.OrganizationID
	}
	return group, project, nil
}

func (p *Processor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	sc := logger.StartSpan(ctx, "postprocess."+name)
	defer sc.End()

	if err := fn(sc.Context()); err != nil {
		sc.RecordError(err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
