package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	store, err := Open(logger, filepath.Join(t.TempDir(), "tracklet.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedTask(t *testing.T, store *Store, title string, status model.TaskStatus) *model.Task {
	t.Helper()

	ctx := context.Background()
	now := time.Now()

	project := &model.Project{Name: "P", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Projects().Insert(ctx, project))
	epic := &model.Epic{ProjectID: project.ID, Name: "E", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Epics().Insert(ctx, epic))

	task := &model.Task{
		EpicID:    epic.ID,
		Title:     title,
		Status:    status,
		Priority:  model.TaskPriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Tasks().Insert(ctx, task))
	return task
}

func TestTaskRepo_InsertAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	estimated := 2.5
	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	task := seedTask(t, store, "Write the parser", model.TaskStatusTodo)

	// Attach the optional fields through Apply
	tags := []string{"parser", "core"}
	metadata := map[string]model.Value{"points": model.Number(5)}
	updated, err := store.Tasks().Apply(ctx, task.ID, model.TaskChanges{
		Estimated: &estimated,
		DueDate:   &due,
		Tags:      &tags,
		Metadata:  &metadata,
	}, time.Now())
	require.NoError(t, err)

	got, err := store.Tasks().Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "Write the parser", got.Title)
	require.Equal(t, model.TaskStatusTodo, got.Status)
	require.Equal(t, 2.5, *got.Estimated)
	require.Equal(t, due.Unix(), got.DueDate.Unix())
	require.Equal(t, []string{"parser", "core"}, got.Tags)
	require.Equal(t, model.Number(5), got.Metadata["points"])
	require.Equal(t, updated.UpdatedAt.Unix(), got.UpdatedAt.Unix())
}

func TestTaskRepo_GetNotFound(t *testing.T) {
	store := openStore(t)

	_, err := store.Tasks().Get(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRepo_ApplyBumpsUpdatedAt(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	task := seedTask(t, store, "Bump me", model.TaskStatusTodo)

	later := task.UpdatedAt.Add(time.Hour)
	title := "Bumped"
	updated, err := store.Tasks().Apply(ctx, task.ID, model.TaskChanges{Title: &title}, later)
	require.NoError(t, err)
	require.Equal(t, "Bumped", updated.Title)
	require.Equal(t, later.Unix(), updated.UpdatedAt.Unix())
}

func TestTaskRepo_ApplyManyMissingIDRollsBack(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	task := seedTask(t, store, "Survivor", model.TaskStatusTodo)

	status := model.TaskStatusDone
	err := store.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.Tasks().ApplyMany(ctx, []int64{task.ID, 999}, model.TaskChanges{Status: &status}, time.Now())
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)

	// The whole batch rolled back
	got, err := store.Tasks().Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusTodo, got.Status)
}

func TestDepRepo_SetPredecessors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a := seedTask(t, store, "A", model.TaskStatusTodo)
	b := seedTask(t, store, "B", model.TaskStatusTodo)
	c := seedTask(t, store, "C", model.TaskStatusTodo)

	// Test case 1: self-references and duplicates are filtered silently
	stored, err := store.Deps().SetPredecessors(ctx, c.ID, []int64{a.ID, c.ID, b.ID, a.ID})
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{a.ID, b.ID}, stored)

	preds, err := store.Deps().Predecessors(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID, b.ID}, preds)

	// Test case 2: the edge set is fully replaced, not patched
	stored, err = store.Deps().SetPredecessors(ctx, c.ID, []int64{b.ID})
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, stored)

	preds, err = store.Deps().Predecessors(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, preds)

	// Test case 3: inverse lookup
	succs, err := store.Deps().Successors(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{c.ID}, succs)

	succs, err = store.Deps().Successors(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, succs)

	// Test case 4: idempotence
	_, err = store.Deps().SetPredecessors(ctx, c.ID, []int64{b.ID})
	require.NoError(t, err)
	preds, err = store.Deps().Predecessors(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID}, preds)
}

func TestDepRepo_UnmetPredecessors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	done := seedTask(t, store, "Done prereq", model.TaskStatusDone)
	open := seedTask(t, store, "Open prereq", model.TaskStatusInProgress)
	task := seedTask(t, store, "Dependent", model.TaskStatusTodo)

	_, err := store.Deps().SetPredecessors(ctx, task.ID, []int64{done.ID, open.ID})
	require.NoError(t, err)

	unmet, err := store.Deps().UnmetPredecessors(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, unmet, 1)
	require.Equal(t, open.ID, unmet[0].ID)
	require.Equal(t, "Open prereq", unmet[0].Title)
	require.Equal(t, model.TaskStatusInProgress, unmet[0].Status)

	// Zero predecessors means zero unmet
	unmet, err = store.Deps().UnmetPredecessors(ctx, done.ID)
	require.NoError(t, err)
	require.Empty(t, unmet)
}

func TestActivityRepo_SinceOrdering(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	// Two entries share a timestamp; insertion order breaks the tie
	for i, summary := range []string{"first", "second", "third"} {
		at := base
		if i == 2 {
			at = base.Add(time.Second)
		}
		require.NoError(t, store.Activity().Append(ctx, &model.ActivityEntry{
			EntityType: model.EntityTypeTask,
			EntityID:   1,
			Action:     model.ActivityActionUpdated,
			Summary:    summary,
			CreatedAt:  at,
		}))
	}

	entries, err := store.Activity().Since(ctx, base)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "first", entries[0].Summary)
	require.Equal(t, "second", entries[1].Summary)
	require.Equal(t, "third", entries[2].Summary)
	require.Less(t, entries[0].ID, entries[1].ID)

	// A later cutoff excludes the earlier entries
	entries, err = store.Activity().Since(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "third", entries[0].Summary)
}

func TestActivityRepo_LastTransition(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, old := range []string{"todo", "review"} {
		require.NoError(t, store.Activity().Append(ctx, &model.ActivityEntry{
			EntityType: model.EntityTypeTask,
			EntityID:   7,
			Action:     model.ActivityActionStatusChanged,
			Field:      "status",
			OldValue:   old,
			NewValue:   "in_progress",
			Summary:    "transition",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entry, err := store.Activity().LastTransition(ctx, model.EntityTypeTask, 7, "status", "in_progress")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "review", entry.OldValue)

	// No transition ever logged is a nil result, not an error
	entry, err = store.Activity().LastTransition(ctx, model.EntityTypeTask, 8, "status", "in_progress")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestWrite_BusyTimeoutWhileLockHeld(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "tracklet.db")

	holder, err := Open(logger, path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { holder.Close() })

	contender, err := Open(logger, path, Options{BusyTimeout: 250 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { contender.Close() })

	ctx := context.Background()
	now := time.Now()

	err = holder.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Projects().Insert(ctx, &model.Project{Name: "Holder", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}

		// The write lock is held until this closure returns, so the
		// second store's write waits out its busy timeout and fails
		// with the retryable kind
		insertErr := contender.Projects().Insert(ctx,
			&model.Project{Name: "Contender", CreatedAt: now, UpdatedAt: now})
		require.ErrorIs(t, insertErr, ErrBusyTimeout)
		return nil
	})
	require.NoError(t, err)

	// After commit the contender can write again
	require.NoError(t, contender.Projects().Insert(ctx,
		&model.Project{Name: "Contender", CreatedAt: now, UpdatedAt: now}))
}

func TestWithTx_RollbackDiscardsAuditEntries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	task := seedTask(t, store, "Atomic", model.TaskStatusTodo)
	boom := errors.New("boom")

	status := model.TaskStatusDone
	err := store.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.Tasks().Apply(ctx, task.ID, model.TaskChanges{Status: &status}, time.Now()); err != nil {
			return err
		}
		if err := tx.Activity().Append(ctx, &model.ActivityEntry{
			EntityType: model.EntityTypeTask,
			EntityID:   task.ID,
			Action:     model.ActivityActionStatusChanged,
			Summary:    "doomed",
			CreatedAt:  time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Tasks().Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusTodo, got.Status)

	entries, err := store.Activity().Since(ctx, time.Time{})
	require.NoError(t, err)
	require.Empty(t, entries)
}
