package storage

import (
	"context"
	"fmt"

	"github.com/t77yq/tracklet/internal/model"
)

// DepRepo maintains the directed dependency relation
// task -> prerequisite task. At most one edge exists per ordered pair.
type DepRepo struct {
	q queryer
}

// SetPredecessors replaces the full predecessor set of a task. A
// predecessor equal to the task itself is filtered out silently, and
// duplicates collapse to one edge. Returns the set actually stored.
func (r *DepRepo) SetPredecessors(ctx context.Context, taskID int64, predecessorIDs []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(predecessorIDs))
	stored := make([]int64, 0, len(predecessorIDs))
	for _, id := range predecessorIDs {
		if id == taskID || seen[id] {
			continue
		}
		seen[id] = true
		stored = append(stored, id)
	}

	if _, err := r.q.ExecContext(ctx,
		"DELETE FROM task_dependencies WHERE task_id = ?", taskID); err != nil {
		return nil, fmt.Errorf("failed to clear predecessors: %w", mapError(err))
	}

	for _, id := range stored {
		if _, err := r.q.ExecContext(ctx,
			"INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)",
			taskID, id); err != nil {
			return nil, fmt.Errorf("failed to insert dependency edge: %w", mapError(err))
		}
	}

	return stored, nil
}

// Predecessors returns the ids of every prerequisite of the task
func (r *DepRepo) Predecessors(ctx context.Context, taskID int64) ([]int64, error) {
	return r.ids(ctx,
		"SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id",
		taskID)
}

// Successors returns the ids of every task that depends on the task
func (r *DepRepo) Successors(ctx context.Context, taskID int64) ([]int64, error) {
	return r.ids(ctx,
		"SELECT task_id FROM task_dependencies WHERE depends_on_id = ? ORDER BY task_id",
		taskID)
}

// UnmetPredecessors returns every predecessor of the task whose status
// is not done. An empty result means all prerequisites are satisfied.
func (r *DepRepo) UnmetPredecessors(ctx context.Context, taskID int64) ([]model.PredecessorRef, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT t.id, t.title, t.status
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_id
		WHERE d.task_id = ? AND t.status != ?
		ORDER BY t.id`,
		taskID, model.TaskStatusDone)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmet predecessors: %w", mapError(err))
	}
	defer rows.Close()

	var unmet []model.PredecessorRef
	for rows.Next() {
		var ref model.PredecessorRef
		if err := rows.Scan(&ref.ID, &ref.Title, &ref.Status); err != nil {
			return nil, fmt.Errorf("failed to scan predecessor: %w", err)
		}
		unmet = append(unmet, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return unmet, nil
}

// HasPredecessors reports whether the task declares at least one
// prerequisite.
func (r *DepRepo) HasPredecessors(ctx context.Context, taskID int64) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_dependencies WHERE task_id = ?", taskID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count predecessors: %w", mapError(err))
	}
	return count > 0, nil
}

// DeleteFor removes every edge touching the task, in either direction
func (r *DepRepo) DeleteFor(ctx context.Context, taskID int64) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_id = ?",
		taskID, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete dependency edges: %w", mapError(err))
	}
	return nil
}

func (r *DepRepo) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency edges: %w", mapError(err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return ids, nil
}
