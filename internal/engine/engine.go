// Package engine implements the task dependency resolution core: the
// public task operations, the status resolver, the single-hop
// reevaluation cascade, and effort auto-tracking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/audit"
	"github.com/t77yq/tracklet/internal/model"
	"github.com/t77yq/tracklet/internal/storage"
)

// Publisher receives every committed activity entry. Implementations
// must not block; publication happens after the producing transaction
// committed and failures never undo it.
type Publisher interface {
	ActivityRecorded(entry model.ActivityEntry)
}

// Engine exposes the task operations consumed by the CRUD, batch, and
// reporting surfaces. All mutations run as single atomic units against
// the store, with their audit entries in the same transaction.
type Engine struct {
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	publisher Publisher

	// now is the clock; tests substitute it
	now func() time.Time
}

// New creates an engine over the given store
func New(logger *zap.Logger, store *storage.Store) *Engine {
	return &Engine{
		logger: logger.Named("engine"),
		store:  store,
		audit:  audit.NewLogger(logger),
		now:    time.Now,
	}
}

// SetPublisher attaches an after-commit activity publisher. A nil
// publisher disables publication.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// TaskFields carries the caller-supplied fields of a new task
type TaskFields struct {
	Title       string
	Description string
	Priority    model.TaskPriority
	Assignee    string
	Estimated   *float64
	DueDate     *time.Time
	Tags        []string
	Metadata    map[string]model.Value
}

// CreateTask creates a task inside an epic, optionally with an initial
// predecessor list. The insert, its audit entry, any edge writes, and
// the immediate reevaluation commit as one unit.
func (e *Engine) CreateTask(ctx context.Context, epicID int64, fields TaskFields, predecessorIDs []int64) (*model.Task, error) {
	if strings.TrimSpace(fields.Title) == "" {
		return nil, fmt.Errorf("create task: title is required: %w", ErrValidation)
	}
	priority := fields.Priority
	if priority == "" {
		priority = model.TaskPriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("create task: invalid priority %q: %w", priority, ErrValidation)
	}

	now := e.now()
	task := &model.Task{
		EpicID:      epicID,
		Title:       fields.Title,
		Description: fields.Description,
		Status:      model.TaskStatusTodo,
		Priority:    priority,
		Assignee:    fields.Assignee,
		Estimated:   fields.Estimated,
		DueDate:     fields.DueDate,
		Tags:        fields.Tags,
		Metadata:    fields.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var captured *captureRecorder
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Epics().Get(ctx, epicID); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if err := tx.Tasks().Insert(ctx, task); err != nil {
			return err
		}

		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec

		summary := fmt.Sprintf("Created task '%s'", task.Title)
		if err := e.audit.Record(ctx, rec, model.EntityTypeTask, task.ID,
			model.ActivityActionCreated, "", "", "", summary, now); err != nil {
			return err
		}

		if len(predecessorIDs) > 0 {
			if _, err := tx.Deps().SetPredecessors(ctx, task.ID, predecessorIDs); err != nil {
				return err
			}
			updated, _, err := e.reevaluate(ctx, tx, rec, task)
			if err != nil {
				return err
			}
			task = updated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(captured)
	e.logger.Info("Created task",
		zap.Int64("task_id", task.ID),
		zap.Int64("epic_id", epicID),
		zap.String("status", string(task.Status)))
	return task, nil
}

// UpdateTask applies a partial update to a task. A non-nil
// predecessorIDs replaces the full edge set; nil leaves edges alone.
// Field diffs, edge replacement, self reevaluation, and effort
// inference commit atomically. When the task transitions into done the
// successor cascade runs after commit; per-successor failures are
// reported in the returned error but never roll back the update or the
// already-committed successors, so the returned task is valid even
// when an error accompanies it.
func (e *Engine) UpdateTask(ctx context.Context, id int64, changes model.TaskChanges, predecessorIDs *[]int64) (*model.Task, error) {
	if changes.Empty() && predecessorIDs == nil {
		return nil, fmt.Errorf("update task %d: %w", id, ErrValidation)
	}
	if changes.Status != nil && !changes.Status.Valid() {
		return nil, fmt.Errorf("update task %d: invalid status %q: %w", id, *changes.Status, ErrValidation)
	}
	if changes.Priority != nil && !changes.Priority.Valid() {
		return nil, fmt.Errorf("update task %d: invalid priority %q: %w", id, *changes.Priority, ErrValidation)
	}

	var (
		result     *model.Task
		captured   *captureRecorder
		becameDone bool
	)
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		old, err := tx.Tasks().Get(ctx, id)
		if err != nil {
			return err
		}

		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		cur := old

		if !changes.Empty() {
			updated, err := tx.Tasks().Apply(ctx, id, changes, e.now())
			if err != nil {
				return err
			}
			if err := e.audit.DiffTasks(ctx, rec, updated.Title, old, updated, e.now()); err != nil {
				return err
			}
			cur = updated
		}

		if predecessorIDs != nil {
			if _, err := tx.Deps().SetPredecessors(ctx, id, *predecessorIDs); err != nil {
				return err
			}
			cur, _, err = e.reevaluate(ctx, tx, rec, cur)
			if err != nil {
				return err
			}
		}

		becameDone = old.Status != model.TaskStatusDone && cur.Status == model.TaskStatusDone
		if becameDone && changes.Actual == nil {
			cur, err = e.inferEffort(ctx, tx, rec, cur)
			if err != nil {
				return err
			}
		}

		result = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(captured)

	if becameDone {
		if cascadeErr := e.cascadeFrom(ctx, id); cascadeErr != nil {
			return result, cascadeErr
		}
	}
	return result, nil
}

// BatchUpdateTasks applies the same change set to every task in ids as
// one atomic unit. Any missing id discards the whole batch. Cascades
// for tasks that reached done run after commit.
func (e *Engine) BatchUpdateTasks(ctx context.Context, ids []int64, changes model.TaskChanges) ([]*model.Task, error) {
	if len(ids) == 0 || changes.Empty() {
		return nil, fmt.Errorf("batch update: %w", ErrValidation)
	}
	if changes.Status != nil && !changes.Status.Valid() {
		return nil, fmt.Errorf("batch update: invalid status %q: %w", *changes.Status, ErrValidation)
	}
	if changes.Priority != nil && !changes.Priority.Valid() {
		return nil, fmt.Errorf("batch update: invalid priority %q: %w", *changes.Priority, ErrValidation)
	}

	var (
		results  []*model.Task
		captured *captureRecorder
		done     []int64
	)
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec

		// Capture pre-images before the writes so every task can be
		// diffed against its prior state
		olds := make([]*model.Task, 0, len(ids))
		for _, id := range ids {
			old, err := tx.Tasks().Get(ctx, id)
			if err != nil {
				return fmt.Errorf("batch update: %w", err)
			}
			olds = append(olds, old)
		}

		updated, err := tx.Tasks().ApplyMany(ctx, ids, changes, e.now())
		if err != nil {
			return fmt.Errorf("batch update: %w", err)
		}

		for i, next := range updated {
			old := olds[i]
			if err := e.audit.DiffTasks(ctx, rec, next.Title, old, next, e.now()); err != nil {
				return err
			}

			if old.Status != model.TaskStatusDone && next.Status == model.TaskStatusDone {
				if changes.Actual == nil {
					next, err = e.inferEffort(ctx, tx, rec, next)
					if err != nil {
						return err
					}
				}
				done = append(done, old.ID)
			}
			results = append(results, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(captured)

	var cascadeErrs []error
	for _, id := range done {
		if cascadeErr := e.cascadeFrom(ctx, id); cascadeErr != nil {
			cascadeErrs = append(cascadeErrs, cascadeErr)
		}
	}
	return results, errors.Join(cascadeErrs...)
}

// GetTask returns a task snapshot together with its predecessor and
// successor ids.
func (e *Engine) GetTask(ctx context.Context, id int64) (*model.TaskDetail, error) {
	task, err := e.store.Tasks().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	predecessors, err := e.store.Deps().Predecessors(ctx, id)
	if err != nil {
		return nil, err
	}
	successors, err := e.store.Deps().Successors(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.TaskDetail{
		Task:         task,
		Predecessors: predecessors,
		Successors:   successors,
	}, nil
}

// DeleteTask removes a task and every edge touching it, then
// reevaluates the tasks that depended on it, since losing a
// prerequisite can unblock them.
func (e *Engine) DeleteTask(ctx context.Context, id int64) error {
	var (
		captured   *captureRecorder
		successors []int64
	)
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		task, err := tx.Tasks().Get(ctx, id)
		if err != nil {
			return err
		}
		successors, err = tx.Deps().Successors(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Deps().DeleteFor(ctx, id); err != nil {
			return err
		}
		if err := tx.Tasks().Delete(ctx, id); err != nil {
			return err
		}

		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		summary := fmt.Sprintf("Deleted task '%s'", task.Title)
		return e.audit.Record(ctx, rec, model.EntityTypeTask, id,
			model.ActivityActionDeleted, "", "", "", summary, e.now())
	})
	if err != nil {
		return err
	}

	e.publish(captured)

	var errs []error
	for _, sid := range successors {
		if err := e.reevaluateOne(ctx, sid); err != nil {
			errs = append(errs, fmt.Errorf("successor %d: %w", sid, err))
		}
	}
	return errors.Join(errs...)
}

// ActivitySince returns every activity entry recorded at or after
// since, in log order. Used by session-diff reporting.
func (e *Engine) ActivitySince(ctx context.Context, since time.Time) ([]model.ActivityEntry, error) {
	return e.store.Activity().Since(ctx, since)
}

// reevaluate runs the status resolver against one task inside an open
// transaction, persisting and auditing any transition. A task with no
// declared predecessors is never auto-transitioned, with one
// exception: a blocked task whose last prerequisite was removed still
// returns to todo, otherwise it would rest blocked forever.
func (e *Engine) reevaluate(ctx context.Context, tx *storage.Tx, rec audit.Recorder, task *model.Task) (*model.Task, bool, error) {
	hasPredecessors, err := tx.Deps().HasPredecessors(ctx, task.ID)
	if err != nil {
		return nil, false, err
	}
	if !hasPredecessors && task.Status != model.TaskStatusBlocked {
		return task, false, nil
	}

	unmet, err := tx.Deps().UnmetPredecessors(ctx, task.ID)
	if err != nil {
		return nil, false, err
	}

	next, changed := Resolve(task.Status, len(unmet))
	if !changed {
		return task, false, nil
	}

	updated, err := tx.Tasks().Apply(ctx, task.ID, model.TaskChanges{Status: &next}, e.now())
	if err != nil {
		return nil, false, err
	}

	var summary string
	if next == model.TaskStatusBlocked {
		titles := make([]string, len(unmet))
		for i, ref := range unmet {
			titles[i] = "'" + ref.Title + "'"
		}
		summary = fmt.Sprintf("Task '%s' blocked by: %s", updated.Title, strings.Join(titles, ", "))
	} else {
		summary = fmt.Sprintf("Task '%s' unblocked: all dependencies met", updated.Title)
	}

	if err := e.audit.Record(ctx, rec, model.EntityTypeTask, updated.ID,
		model.ActivityActionStatusChanged, "status",
		string(task.Status), string(next), summary, e.now()); err != nil {
		return nil, false, err
	}

	e.logger.Info("Reevaluated task status",
		zap.Int64("task_id", updated.ID),
		zap.String("from", string(task.Status)),
		zap.String("to", string(next)),
		zap.Int("unmet", len(unmet)))
	return updated, true, nil
}

// cascadeFrom reevaluates every direct successor of a task that just
// completed. The fan-out is single-hop: a successor's blocked->todo
// transition cannot complete it, so there is never anything further to
// cascade. Each successor commits on its own; one failing does not
// roll back the others, and the error names the successors that
// failed.
func (e *Engine) cascadeFrom(ctx context.Context, taskID int64) error {
	successors, err := e.store.Deps().Successors(ctx, taskID)
	if err != nil {
		return fmt.Errorf("cascade from task %d: %w", taskID, err)
	}

	var errs []error
	for _, sid := range successors {
		if err := e.reevaluateOne(ctx, sid); err != nil {
			errs = append(errs, fmt.Errorf("successor %d: %w", sid, err))
		}
	}
	return errors.Join(errs...)
}

// reevaluateOne reevaluates a single task as its own atomic unit. A
// task that vanished between lookup and update is a no-op, not an
// error.
func (e *Engine) reevaluateOne(ctx context.Context, taskID int64) error {
	var captured *captureRecorder
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		task, err := tx.Tasks().Get(ctx, taskID)
		if err != nil {
			return err
		}
		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		_, _, err = e.reevaluate(ctx, tx, rec, task)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.publish(captured)
	return nil
}

// captureRecorder forwards appends to the transaction-bound recorder
// while keeping copies for after-commit publication.
type captureRecorder struct {
	inner   audit.Recorder
	entries []model.ActivityEntry
}

func (c *captureRecorder) Append(ctx context.Context, entry *model.ActivityEntry) error {
	if err := c.inner.Append(ctx, entry); err != nil {
		return err
	}
	c.entries = append(c.entries, *entry)
	return nil
}

// publish hands committed entries to the publisher, if any
func (e *Engine) publish(captured *captureRecorder) {
	if e.publisher == nil || captured == nil {
		return
	}
	for _, entry := range captured.entries {
		e.publisher.ActivityRecorded(entry)
	}
}
