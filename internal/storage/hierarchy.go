package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/t77yq/tracklet/internal/model"
)

// ProjectRepo reads and writes project records
type ProjectRepo struct {
	q queryer
}

// Insert stores a new project and assigns its ID
func (r *ProjectRepo) Insert(ctx context.Context, project *model.Project) error {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO projects (name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		project.Name, project.Description, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", mapError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted project id: %w", err)
	}
	project.ID = id
	return nil
}

// Get retrieves a project by ID. Returns ErrNotFound when absent.
func (r *ProjectRepo) Get(ctx context.Context, id int64) (*model.Project, error) {
	var p model.Project
	var description sql.NullString
	err := r.q.QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan project: %w", mapError(err))
	}
	p.Description = description.String
	return &p, nil
}

// List retrieves every project ordered by id
func (r *ProjectRepo) List(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM projects ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", mapError(err))
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		var p model.Project
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Description = description.String
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return projects, nil
}

// EpicRepo reads and writes epic records
type EpicRepo struct {
	q queryer
}

// Insert stores a new epic and assigns its ID
func (r *EpicRepo) Insert(ctx context.Context, epic *model.Epic) error {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO epics (project_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		epic.ProjectID, epic.Name, epic.Description, epic.CreatedAt, epic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert epic: %w", mapError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted epic id: %w", err)
	}
	epic.ID = id
	return nil
}

// Get retrieves an epic by ID. Returns ErrNotFound when absent.
func (r *EpicRepo) Get(ctx context.Context, id int64) (*model.Epic, error) {
	var e model.Epic
	var description sql.NullString
	err := r.q.QueryRowContext(ctx,
		"SELECT id, project_id, name, description, created_at, updated_at FROM epics WHERE id = ?", id).
		Scan(&e.ID, &e.ProjectID, &e.Name, &description, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("epic %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan epic: %w", mapError(err))
	}
	e.Description = description.String
	return &e, nil
}

// ListByProject retrieves every epic in a project ordered by id
func (r *EpicRepo) ListByProject(ctx context.Context, projectID int64) ([]*model.Epic, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, project_id, name, description, created_at, updated_at
		FROM epics WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", mapError(err))
	}
	defer rows.Close()

	var epics []*model.Epic
	for rows.Next() {
		var e model.Epic
		var description sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epic: %w", err)
		}
		e.Description = description.String
		epics = append(epics, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return epics, nil
}

// SubtaskRepo reads and writes subtask records
type SubtaskRepo struct {
	q queryer
}

// Insert stores a new subtask and assigns its ID
func (r *SubtaskRepo) Insert(ctx context.Context, subtask *model.Subtask) error {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO subtasks (task_id, title, done, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		subtask.TaskID, subtask.Title, subtask.Done, subtask.CreatedAt, subtask.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subtask: %w", mapError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted subtask id: %w", err)
	}
	subtask.ID = id
	return nil
}

// Get retrieves a subtask by ID. Returns ErrNotFound when absent.
func (r *SubtaskRepo) Get(ctx context.Context, id int64) (*model.Subtask, error) {
	var s model.Subtask
	err := r.q.QueryRowContext(ctx,
		"SELECT id, task_id, title, done, created_at, updated_at FROM subtasks WHERE id = ?", id).
		Scan(&s.ID, &s.TaskID, &s.Title, &s.Done, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subtask %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan subtask: %w", mapError(err))
	}
	return &s, nil
}

// ListByTask retrieves every subtask of a task ordered by id
func (r *SubtaskRepo) ListByTask(ctx context.Context, taskID int64) ([]*model.Subtask, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, task_id, title, done, created_at, updated_at
		FROM subtasks WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks: %w", mapError(err))
	}
	defer rows.Close()

	var subtasks []*model.Subtask
	for rows.Next() {
		var s model.Subtask
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Title, &s.Done, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		subtasks = append(subtasks, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return subtasks, nil
}

// SetDone flips the done flag and bumps updated_at. Returns
// ErrNotFound when absent.
func (r *SubtaskRepo) SetDone(ctx context.Context, id int64, done bool, updatedAt time.Time) error {
	result, err := r.q.ExecContext(ctx,
		"UPDATE subtasks SET done = ?, updated_at = ? WHERE id = ?", done, updatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update subtask: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subtask %d: %w", id, ErrNotFound)
	}
	return nil
}
