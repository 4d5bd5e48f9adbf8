package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/t77yq/tracklet/internal/model"
)

// TaskRepo reads and writes task records. Obtain one from a Store for
// standalone reads or from a Tx to participate in a transaction.
type TaskRepo struct {
	q queryer
}

const taskColumns = `id, epic_id, title, description, status, priority, assignee,
	estimated_hours, actual_hours, due_date, tags, metadata, created_at, updated_at`

// Insert stores a new task and assigns its ID
func (r *TaskRepo) Insert(ctx context.Context, task *model.Task) error {
	tags, metadata, err := encodeBags(task)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, `
		INSERT INTO tasks (
			epic_id, title, description, status, priority, assignee,
			estimated_hours, actual_hours, due_date, tags, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.EpicID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		nullString(task.Assignee),
		nullFloat(task.Estimated),
		nullFloat(task.Actual),
		nullTime(task.DueDate),
		tags,
		metadata,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", mapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted task id: %w", err)
	}
	task.ID = id
	return nil
}

// Get retrieves a task by ID. Returns ErrNotFound when absent.
func (r *TaskRepo) Get(ctx context.Context, id int64) (*model.Task, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan task: %w", mapError(err))
	}
	return task, nil
}

// Apply merges the change set into the task and writes the result.
// The returned snapshot is a fresh value; callers never share live
// records. Every successful apply bumps updated_at to now.
func (r *TaskRepo) Apply(ctx context.Context, id int64, changes model.TaskChanges, now time.Time) (*model.Task, error) {
	task, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := task.Clone()
	if changes.Title != nil {
		next.Title = *changes.Title
	}
	if changes.Description != nil {
		next.Description = *changes.Description
	}
	if changes.Status != nil {
		next.Status = *changes.Status
	}
	if changes.Priority != nil {
		next.Priority = *changes.Priority
	}
	if changes.Assignee != nil {
		next.Assignee = *changes.Assignee
	}
	if changes.Estimated != nil {
		v := *changes.Estimated
		next.Estimated = &v
	}
	if changes.Actual != nil {
		v := *changes.Actual
		next.Actual = &v
	}
	if changes.DueDate != nil {
		v := *changes.DueDate
		next.DueDate = &v
	}
	if changes.Tags != nil {
		next.Tags = append([]string(nil), (*changes.Tags)...)
	}
	if changes.Metadata != nil {
		next.Metadata = make(map[string]model.Value, len(*changes.Metadata))
		for k, v := range *changes.Metadata {
			next.Metadata[k] = v
		}
	}
	next.UpdatedAt = now

	if err := r.write(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ApplyMany applies the same change set to every task in ids, in
// order. Any missing id aborts with ErrNotFound; run inside a
// transaction so the abort discards the whole batch.
func (r *TaskRepo) ApplyMany(ctx context.Context, ids []int64, changes model.TaskChanges, now time.Time) ([]*model.Task, error) {
	updated := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		task, err := r.Apply(ctx, id, changes, now)
		if err != nil {
			return nil, err
		}
		updated = append(updated, task)
	}
	return updated, nil
}

// write persists the full task row
func (r *TaskRepo) write(ctx context.Context, task *model.Task) error {
	tags, metadata, err := encodeBags(task)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		UPDATE tasks SET
			epic_id = ?,
			title = ?,
			description = ?,
			status = ?,
			priority = ?,
			assignee = ?,
			estimated_hours = ?,
			actual_hours = ?,
			due_date = ?,
			tags = ?,
			metadata = ?,
			updated_at = ?
		WHERE id = ?`,
		task.EpicID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		nullString(task.Assignee),
		nullFloat(task.Estimated),
		nullFloat(task.Actual),
		nullTime(task.DueDate),
		tags,
		metadata,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", mapError(err))
	}
	return nil
}

// ListByEpic retrieves every task in an epic ordered by id
func (r *TaskRepo) ListByEpic(ctx context.Context, epicID int64) ([]*model.Task, error) {
	return r.list(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE epic_id = ? ORDER BY id", epicID)
}

// List retrieves every task ordered by id
func (r *TaskRepo) List(ctx context.Context) ([]*model.Task, error) {
	return r.list(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY id")
}

// ListOverdue retrieves tasks whose due date has passed and whose
// status is not done, ordered by due date.
func (r *TaskRepo) ListOverdue(ctx context.Context, now time.Time) ([]*model.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE due_date IS NOT NULL AND due_date < ? AND status != ?
		ORDER BY due_date`,
		now, model.TaskStatusDone)
}

// Delete removes a task row. Returns ErrNotFound when absent.
func (r *TaskRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", mapError(err))
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return tasks, nil
}

// scanner covers *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*model.Task, error) {
	var task model.Task
	var description, assignee, tags, metadata sql.NullString
	var estimated, actual sql.NullFloat64
	var dueDate sql.NullTime

	err := s.Scan(
		&task.ID,
		&task.EpicID,
		&task.Title,
		&description,
		&task.Status,
		&task.Priority,
		&assignee,
		&estimated,
		&actual,
		&dueDate,
		&tags,
		&metadata,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Description = description.String
	task.Assignee = assignee.String
	if estimated.Valid {
		task.Estimated = &estimated.Float64
	}
	if actual.Valid {
		task.Actual = &actual.Float64
	}
	if dueDate.Valid {
		t := dueDate.Time
		task.DueDate = &t
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	return &task, nil
}

// encodeBags serializes the tag set and metadata map for storage
func encodeBags(task *model.Task) (tags, metadata sql.NullString, err error) {
	if len(task.Tags) > 0 {
		data, merr := json.Marshal(task.Tags)
		if merr != nil {
			return tags, metadata, fmt.Errorf("failed to encode tags: %w", merr)
		}
		tags = sql.NullString{String: string(data), Valid: true}
	}
	if len(task.Metadata) > 0 {
		data, merr := json.Marshal(task.Metadata)
		if merr != nil {
			return tags, metadata, fmt.Errorf("failed to encode metadata: %w", merr)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	return tags, metadata, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
