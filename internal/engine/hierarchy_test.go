package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/t77yq/tracklet/internal/model"
)

func TestHierarchy_CreateAndList(t *testing.T) {
	eng, _, epicID := newTestEngine(t)
	ctx := context.Background()

	// Epics require an existing project
	_, err := eng.CreateEpic(ctx, 999, "Orphan", "")
	require.ErrorIs(t, err, ErrNotFound)

	// Subtasks require an existing task
	_, err = eng.AddSubtask(ctx, 999, "Orphan")
	require.ErrorIs(t, err, ErrNotFound)

	task := createTask(t, eng, epicID, "Parent", nil)
	first, err := eng.AddSubtask(ctx, task.ID, "Step one")
	require.NoError(t, err)
	second, err := eng.AddSubtask(ctx, task.ID, "Step two")
	require.NoError(t, err)

	subtasks, err := eng.ListSubtasks(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	require.Equal(t, first.ID, subtasks[0].ID)
	require.Equal(t, second.ID, subtasks[1].ID)

	require.NoError(t, eng.SetSubtaskDone(ctx, first.ID, true))
	subtasks, err = eng.ListSubtasks(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, subtasks[0].Done)
	require.False(t, subtasks[1].Done)

	// Flipping to the current value is a no-op without an audit entry
	before, err := eng.ActivitySince(ctx, time.Time{})
	require.NoError(t, err)
	require.NoError(t, eng.SetSubtaskDone(ctx, first.ID, true))
	after, err := eng.ActivitySince(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
}

func TestListTasks(t *testing.T) {
	eng, _, epicID := newTestEngine(t)

	createTask(t, eng, epicID, "One", nil)
	createTask(t, eng, epicID, "Two", nil)

	tasks, err := eng.ListTasks(context.Background(), epicID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, model.TaskStatusTodo, tasks[0].Status)
}
