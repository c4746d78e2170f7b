package queue

import "errors"

type TaskType string

const (
	// Inbound, consumed by the worker.
	TaskTypePostProcessGroup  TaskType = "post_process_group"
	TaskTypePluginPostProcess TaskType = "plugin_post_process_group"
	TaskTypeIndexEventTags    TaskType = "index_event_tags"

	// Outbound, consumed by delivery services.
	TaskTypeServiceHook    TaskType = "process_service_hook"
	TaskTypeResourceChange TaskType = "process_resource_change"
	TaskTypeEventProcessed TaskType = "event_processed"
)

var ErrUnknownTaskType = errors.New("unknown task_type")

type ResourceSender string

const (
	SenderError ResourceSender = "Error"
	SenderGroup ResourceSender = "Group"
)

const ActionCreated = "created"
