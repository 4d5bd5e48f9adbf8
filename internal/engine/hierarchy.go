package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/t77yq/tracklet/internal/model"
	"github.com/t77yq/tracklet/internal/storage"
)

// Hierarchy operations: plain record management for projects, epics,
// and subtasks. No cross-record consistency beyond parent existence
// checks; every mutation still lands in the activity log.

// CreateProject creates a top-level project
func (e *Engine) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("create project: name is required: %w", ErrValidation)
	}

	now := e.now()
	project := &model.Project{
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var captured *captureRecorder
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.Projects().Insert(ctx, project); err != nil {
			return err
		}
		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		summary := fmt.Sprintf("Created project '%s'", project.Name)
		return e.audit.Record(ctx, rec, model.EntityTypeProject, project.ID,
			model.ActivityActionCreated, "", "", "", summary, now)
	})
	if err != nil {
		return nil, err
	}
	e.publish(captured)
	return project, nil
}

// ListProjects returns every project
func (e *Engine) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return e.store.Projects().List(ctx)
}

// CreateEpic creates an epic inside a project
func (e *Engine) CreateEpic(ctx context.Context, projectID int64, name, description string) (*model.Epic, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("create epic: name is required: %w", ErrValidation)
	}

	now := e.now()
	epic := &model.Epic{
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var captured *captureRecorder
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Projects().Get(ctx, projectID); err != nil {
			return fmt.Errorf("create epic: %w", err)
		}
		if err := tx.Epics().Insert(ctx, epic); err != nil {
			return err
		}
		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		summary := fmt.Sprintf("Created epic '%s'", epic.Name)
		return e.audit.Record(ctx, rec, model.EntityTypeEpic, epic.ID,
			model.ActivityActionCreated, "", "", "", summary, now)
	})
	if err != nil {
		return nil, err
	}
	e.publish(captured)
	return epic, nil
}

// ListEpics returns every epic in a project
func (e *Engine) ListEpics(ctx context.Context, projectID int64) ([]*model.Epic, error) {
	return e.store.Epics().ListByProject(ctx, projectID)
}

// ListTasks returns every task in an epic
func (e *Engine) ListTasks(ctx context.Context, epicID int64) ([]*model.Task, error) {
	return e.store.Tasks().ListByEpic(ctx, epicID)
}

// AddSubtask attaches a checklist item to a task
func (e *Engine) AddSubtask(ctx context.Context, taskID int64, title string) (*model.Subtask, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("add subtask: title is required: %w", ErrValidation)
	}

	now := e.now()
	subtask := &model.Subtask{
		TaskID:    taskID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var captured *captureRecorder
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Tasks().Get(ctx, taskID); err != nil {
			return fmt.Errorf("add subtask: %w", err)
		}
		if err := tx.Subtasks().Insert(ctx, subtask); err != nil {
			return err
		}
		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		summary := fmt.Sprintf("Created subtask '%s'", subtask.Title)
		return e.audit.Record(ctx, rec, model.EntityTypeSubtask, subtask.ID,
			model.ActivityActionCreated, "", "", "", summary, now)
	})
	if err != nil {
		return nil, err
	}
	e.publish(captured)
	return subtask, nil
}

// SetSubtaskDone flips a subtask's done flag
func (e *Engine) SetSubtaskDone(ctx context.Context, id int64, done bool) error {
	var captured *captureRecorder
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		subtask, err := tx.Subtasks().Get(ctx, id)
		if err != nil {
			return err
		}
		if subtask.Done == done {
			return nil
		}
		now := e.now()
		if err := tx.Subtasks().SetDone(ctx, id, done, now); err != nil {
			return err
		}
		rec := &captureRecorder{inner: tx.Activity()}
		captured = rec
		summary := fmt.Sprintf("Updated done of subtask '%s'", subtask.Title)
		return e.audit.Record(ctx, rec, model.EntityTypeSubtask, id,
			model.ActivityActionUpdated, "done",
			fmt.Sprintf("%t", subtask.Done), fmt.Sprintf("%t", done), summary, now)
	})
	if err != nil {
		return err
	}
	e.publish(captured)
	return nil
}

// ListSubtasks returns every subtask of a task
func (e *Engine) ListSubtasks(ctx context.Context, taskID int64) ([]*model.Subtask, error) {
	return e.store.Subtasks().ListByTask(ctx, taskID)
}
