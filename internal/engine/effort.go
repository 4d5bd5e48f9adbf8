package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/audit"
	"github.com/t77yq/tracklet/internal/model"
	"github.com/t77yq/tracklet/internal/storage"
)

// inferEffort derives a task's actual effort from the activity log
// when it reaches done without an explicit value. The elapsed wall
// clock since the latest transition into in_progress, rounded to one
// decimal of an hour, becomes the actual effort. A task that never
// passed through in_progress, or that already carries a value, is left
// alone.
func (e *Engine) inferEffort(ctx context.Context, tx *storage.Tx, rec audit.Recorder, task *model.Task) (*model.Task, error) {
	if task.Actual != nil {
		return task, nil
	}

	started, err := tx.Activity().LastTransition(ctx, model.EntityTypeTask, task.ID,
		"status", string(model.TaskStatusInProgress))
	if err != nil {
		return nil, err
	}
	if started == nil {
		return task, nil
	}

	hours := math.Round(e.now().Sub(started.CreatedAt).Hours()*10) / 10
	if hours <= 0 {
		return task, nil
	}

	updated, err := tx.Tasks().Apply(ctx, task.ID, model.TaskChanges{Actual: &hours}, e.now())
	if err != nil {
		return nil, err
	}

	rendered := strconv.FormatFloat(hours, 'f', -1, 64)
	summary := fmt.Sprintf("Auto-tracked %s hours for task '%s'", rendered, updated.Title)
	if err := e.audit.Record(ctx, rec, model.EntityTypeTask, updated.ID,
		model.ActivityActionUpdated, "actual_hours", "", rendered, summary, e.now()); err != nil {
		return nil, err
	}

	e.logger.Info("Inferred actual effort",
		zap.Int64("task_id", updated.ID),
		zap.Float64("hours", hours))
	return updated, nil
}
