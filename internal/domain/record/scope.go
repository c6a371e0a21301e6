package record

import (
	"strings"
	"time"
)

// Scope narrows a migration to one tenant, dataset or creation-time window.
// The zero value covers the whole corpus.
type Scope struct {
	TeamID        string    `json:"team_id,omitempty"`
	DatasetID     string    `json:"dataset_id,omitempty"`
	CreatedAfter  time.Time `json:"created_after,omitzero"`
	CreatedBefore time.Time `json:"created_before,omitzero"`
}

// IsZero reports whether the scope has no filters.
func (s Scope) IsZero() bool {
	return s.TeamID == "" && s.DatasetID == "" &&
		s.CreatedAfter.IsZero() && s.CreatedBefore.IsZero()
}

// Matches reports whether metadata falls inside the scope. Time bounds are inclusive.
// Adapters that filter server-side must express exactly this predicate.
func (s Scope) Matches(m Metadata) bool {
	if s.TeamID != "" && m.TeamID != s.TeamID {
		return false
	}
	if s.DatasetID != "" && m.DatasetID != s.DatasetID {
		return false
	}
	if !s.CreatedAfter.IsZero() && m.CreateTime.Before(s.CreatedAfter) {
		return false
	}
	if !s.CreatedBefore.IsZero() && m.CreateTime.After(s.CreatedBefore) {
		return false
	}
	return true
}

// String returns a stable representation used in run keys and logs.
func (s Scope) String() string {
	if s.IsZero() {
		return "all"
	}
	parts := make([]string, 0, 4)
	if s.TeamID != "" {
		parts = append(parts, "team="+s.TeamID)
	}
	if s.DatasetID != "" {
		parts = append(parts, "dataset="+s.DatasetID)
	}
	if !s.CreatedAfter.IsZero() {
		parts = append(parts, "after="+s.CreatedAfter.UTC().Format(time.RFC3339))
	}
	if !s.CreatedBefore.IsZero() {
		parts = append(parts, "before="+s.CreatedBefore.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, ",")
}
