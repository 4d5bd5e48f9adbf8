// Package audit turns record mutations into append-only activity log
// entries. It never reads entries back; reporting goes straight to the
// storage layer.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/model"
)

// Recorder is the slice of the activity repository the logger needs.
// Bind it to a transaction so entries commit with the mutation that
// produced them.
type Recorder interface {
	Append(ctx context.Context, entry *model.ActivityEntry) error
}

// Logger writes activity entries for entity mutations
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new audit logger
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("audit")}
}

// Record appends a single activity entry
func (l *Logger) Record(ctx context.Context, rec Recorder, entityType model.EntityType, entityID int64,
	action model.ActivityAction, field, oldValue, newValue, summary string, at time.Time) error {

	entry := &model.ActivityEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		Summary:    summary,
		CreatedAt:  at,
	}
	if err := rec.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	l.logger.Debug("Recorded activity",
		zap.String("entity_type", string(entityType)),
		zap.Int64("entity_id", entityID),
		zap.String("action", string(action)),
		zap.String("field", field))
	return nil
}

// trackedTaskFields are the task fields compared by DiffTasks, in the
// order their entries are emitted.
var trackedTaskFields = []string{
	"title",
	"description",
	"status",
	"priority",
	"assignee",
	"estimated_hours",
	"actual_hours",
	"due_date",
	"tags",
	"metadata",
}

// DiffTasks compares every tracked field of two task snapshots and
// appends one entry per field whose stringified values differ. The
// status field is recorded as a status_changed action, everything else
// as updated. Simultaneous changes always produce one entry each;
// nothing is collapsed into a combined summary.
func (l *Logger) DiffTasks(ctx context.Context, rec Recorder, displayName string, oldTask, newTask *model.Task, at time.Time) error {
	for _, field := range trackedTaskFields {
		oldValue := taskFieldValue(oldTask, field)
		newValue := taskFieldValue(newTask, field)
		if oldValue == newValue {
			continue
		}

		action := model.ActivityActionUpdated
		summary := fmt.Sprintf("Updated %s of task '%s'", field, displayName)
		if field == "status" {
			action = model.ActivityActionStatusChanged
			summary = fmt.Sprintf("Status of task '%s' changed from %s to %s", displayName, oldValue, newValue)
		}

		if err := l.Record(ctx, rec, model.EntityTypeTask, newTask.ID, action, field, oldValue, newValue, summary, at); err != nil {
			return err
		}
	}
	return nil
}

// taskFieldValue renders one tracked field as text for diffing and for
// the old/new columns of the log.
func taskFieldValue(t *model.Task, field string) string {
	switch field {
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "status":
		return string(t.Status)
	case "priority":
		return string(t.Priority)
	case "assignee":
		return t.Assignee
	case "estimated_hours":
		return formatHours(t.Estimated)
	case "actual_hours":
		return formatHours(t.Actual)
	case "due_date":
		if t.DueDate == nil {
			return ""
		}
		return t.DueDate.UTC().Format(time.RFC3339)
	case "tags":
		if len(t.Tags) == 0 {
			return ""
		}
		data, err := json.Marshal(t.Tags)
		if err != nil {
			return ""
		}
		return string(data)
	case "metadata":
		if len(t.Metadata) == 0 {
			return ""
		}
		data, err := json.Marshal(t.Metadata)
		if err != nil {
			return ""
		}
		return string(data)
	}
	return ""
}

func formatHours(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
