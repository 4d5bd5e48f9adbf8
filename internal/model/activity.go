package model

import "time"

// ActivityAction represents the kind of change recorded by an activity entry
type ActivityAction string

const (
	ActivityActionCreated       ActivityAction = "created"
	ActivityActionUpdated       ActivityAction = "updated"
	ActivityActionDeleted       ActivityAction = "deleted"
	ActivityActionStatusChanged ActivityAction = "status_changed"
)

// EntityType identifies which kind of record an activity entry refers to
type EntityType string

const (
	EntityTypeProject EntityType = "project"
	EntityTypeEpic    EntityType = "epic"
	EntityTypeTask    EntityType = "task"
	EntityTypeSubtask EntityType = "subtask"
)

// ActivityEntry is one immutable fact in the append-only activity log.
// Entries are ordered by CreatedAt; ties are broken by the
// monotonically increasing ID assigned at insertion.
type ActivityEntry struct {
	ID         int64          `json:"id"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Action     ActivityAction `json:"action"`
	Field      string         `json:"field,omitempty"`
	OldValue   string         `json:"old_value,omitempty"`
	NewValue   string         `json:"new_value,omitempty"`
	Summary    string         `json:"summary"`
	CreatedAt  time.Time      `json:"created_at"`
}
