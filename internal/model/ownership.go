package model

type OwnerType string

const (
	OwnerTypeUser OwnerType = "user"
	OwnerTypeTeam OwnerType = "team"
)

type Owner struct {
	Type OwnerType `json:"type"`
	ID   int64     `json:"id"`
}

type MatcherType string

const (
	MatcherTypePath   MatcherType = "path"
	MatcherTypeURL    MatcherType = "url"
	MatcherTypeModule MatcherType = "module"
	MatcherTypeTag    MatcherType = "tag"
)

// Matcher is a glob over one event attribute. Key is only used by tag matchers.
type Matcher struct {
	Type    MatcherType `json:"type"`
	Key     string      `json:"key,omitempty"`
	Pattern string      `json:"pattern"`
}

type OwnershipRule struct {
	Matcher Matcher `json:"matcher"`
	Owners  []Owner `json:"owners"`
}

type ProjectOwnership struct {
	ProjectID      int64
	Rules          []OwnershipRule
	AutoAssignment bool
}
