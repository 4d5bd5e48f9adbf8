package model

import (
	"time"
)

// TaskStatus represents the workflow status of a task
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is one of the known workflow statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone, TaskStatusBlocked:
		return true
	}
	return false
}

// TaskPriority represents the priority level of a task
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Valid reports whether p is one of the known priority levels
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityCritical:
		return true
	}
	return false
}

// Task represents a unit of work inside an epic
type Task struct {
	ID          int64            `json:"id"`
	EpicID      int64            `json:"epic_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Status      TaskStatus       `json:"status"`
	Priority    TaskPriority     `json:"priority"`
	Assignee    string           `json:"assignee,omitempty"`
	Estimated   *float64         `json:"estimated_hours,omitempty"`
	Actual      *float64         `json:"actual_hours,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Metadata    map[string]Value `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the task. Mutations on the copy never
// alias the original's pointers, tags, or metadata.
func (t *Task) Clone() *Task {
	c := *t
	if t.Estimated != nil {
		v := *t.Estimated
		c.Estimated = &v
	}
	if t.Actual != nil {
		v := *t.Actual
		c.Actual = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		c.DueDate = &v
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]Value, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// TaskChanges describes a partial update to a task. Nil fields are
// left untouched.
type TaskChanges struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *TaskPriority
	Assignee    *string
	Estimated   *float64
	Actual      *float64
	DueDate     *time.Time
	Tags        *[]string
	Metadata    *map[string]Value
}

// Empty reports whether the change set carries no field updates
func (c TaskChanges) Empty() bool {
	return c.Title == nil && c.Description == nil && c.Status == nil &&
		c.Priority == nil && c.Assignee == nil && c.Estimated == nil &&
		c.Actual == nil && c.DueDate == nil && c.Tags == nil && c.Metadata == nil
}

// PredecessorRef identifies a prerequisite task together with the
// fields needed for a human-readable blocking summary.
type PredecessorRef struct {
	ID     int64      `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// TaskDetail is a task snapshot together with its dependency edges
type TaskDetail struct {
	Task         *Task   `json:"task"`
	Predecessors []int64 `json:"predecessors"`
	Successors   []int64 `json:"successors"`
}
