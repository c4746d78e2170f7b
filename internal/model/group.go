package model

import "time"

type GroupStatus string

const (
	GroupStatusUnresolved GroupStatus = "unresolved"
	GroupStatusResolved   GroupStatus = "resolved"
	GroupStatusIgnored    GroupStatus = "ignored"
)

// Group aggregates similar events. Status and assignee change only through the store.
type Group struct {
	ID        int64
	ProjectID int64
	Status    GroupStatus
	Platform  string
	TimesSeen int64
	UsersSeen int64
	FirstSeen time.Time
	LastSeen  time.Time
	Assignee  *Owner
}

func (g *Group) IsAssigned() bool {
	return g.Assignee != nil
}

type Project struct {
	ID             int64
	OrganizationID int64
	Slug           string
	Platform       string
}

// GroupSnooze mutes a group until a time passes or a rate threshold is crossed.
// Window and UserWindow are in minutes.
type GroupSnooze struct {
	ID             int64
	GroupID        int64
	Until          *time.Time
	Count          *int64
	Window         *int64
	UserCount      *int64
	UserWindow     *int64
	StateTimesSeen int64
	StateUsersSeen int64
	CreatedAt      time.Time
}
