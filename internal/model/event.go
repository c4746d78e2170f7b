package model

import "time"

const EventTypeError = "error"

// Event is a stored event. It is read-only to post-processing apart from GroupID,
// which follows group merges.
type Event struct {
	ProjectID      int64          `json:"project_id"`
	EventID        string         `json:"event_id"`
	GroupID        int64          `json:"group_id"`
	OrganizationID int64          `json:"organization_id,omitempty"`
	Type           string         `json:"type,omitempty"`
	Platform       string         `json:"platform,omitempty"`
	Size           int64          `json:"size,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	DateCreated    time.Time      `json:"date_created"`
}

// Ref is the lightweight reference carried by outbound tasks instead of the payload.
func (e *Event) Ref() EventRef {
	return EventRef{
		ProjectID: e.ProjectID,
		EventID:   e.EventID,
		GroupID:   e.GroupID,
	}
}

type EventRef struct {
	ProjectID int64  `json:"project_id"`
	EventID   string `json:"event_id"`
	GroupID   int64  `json:"group_id"`
}

type TagPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
