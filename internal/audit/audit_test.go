package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/model"
)

// memRecorder collects entries without a database
type memRecorder struct {
	entries []model.ActivityEntry
}

func (m *memRecorder) Append(ctx context.Context, entry *model.ActivityEntry) error {
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func newLogger(t *testing.T) *Logger {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewLogger(logger)
}

func TestDiffTasks_OneEntryPerField(t *testing.T) {
	logger := newLogger(t)
	rec := &memRecorder{}
	now := time.Now()

	estimated := 3.0
	oldTask := &model.Task{
		ID:       1,
		Title:    "Old title",
		Status:   model.TaskStatusTodo,
		Priority: model.TaskPriorityMedium,
	}
	newTask := &model.Task{
		ID:        1,
		Title:     "New title",
		Status:    model.TaskStatusInProgress,
		Priority:  model.TaskPriorityMedium,
		Estimated: &estimated,
	}

	err := logger.DiffTasks(context.Background(), rec, newTask.Title, oldTask, newTask, now)
	require.NoError(t, err)
	require.Len(t, rec.entries, 3)

	// Entries follow the tracked-field order
	require.Equal(t, "title", rec.entries[0].Field)
	require.Equal(t, model.ActivityActionUpdated, rec.entries[0].Action)
	require.Equal(t, "Old title", rec.entries[0].OldValue)
	require.Equal(t, "New title", rec.entries[0].NewValue)

	require.Equal(t, "status", rec.entries[1].Field)
	require.Equal(t, model.ActivityActionStatusChanged, rec.entries[1].Action)
	require.Equal(t, "todo", rec.entries[1].OldValue)
	require.Equal(t, "in_progress", rec.entries[1].NewValue)
	require.Contains(t, rec.entries[1].Summary, "changed from todo to in_progress")

	require.Equal(t, "estimated_hours", rec.entries[2].Field)
	require.Equal(t, "", rec.entries[2].OldValue)
	require.Equal(t, "3", rec.entries[2].NewValue)
}

func TestDiffTasks_NoChangesNoEntries(t *testing.T) {
	logger := newLogger(t)
	rec := &memRecorder{}

	task := &model.Task{ID: 1, Title: "Same", Status: model.TaskStatusTodo}
	err := logger.DiffTasks(context.Background(), rec, task.Title, task, task, time.Now())
	require.NoError(t, err)
	require.Empty(t, rec.entries)
}

func TestDiffTasks_TagsAndMetadata(t *testing.T) {
	logger := newLogger(t)
	rec := &memRecorder{}

	oldTask := &model.Task{ID: 1, Title: "T", Tags: []string{"a"}}
	newTask := &model.Task{
		ID:       1,
		Title:    "T",
		Tags:     []string{"a", "b"},
		Metadata: map[string]model.Value{"k": model.String("v")},
	}

	err := logger.DiffTasks(context.Background(), rec, "T", oldTask, newTask, time.Now())
	require.NoError(t, err)
	require.Len(t, rec.entries, 2)
	require.Equal(t, "tags", rec.entries[0].Field)
	require.Equal(t, `["a"]`, rec.entries[0].OldValue)
	require.Equal(t, `["a","b"]`, rec.entries[0].NewValue)
	require.Equal(t, "metadata", rec.entries[1].Field)
	require.JSONEq(t, `{"k":"v"}`, rec.entries[1].NewValue)
}
