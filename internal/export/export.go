// Package export round-trips the work hierarchy through a JSON
// snapshot. Import replays records through the engine's public
// operations, so reevaluation and audit logging apply to imported data
// exactly as they would to live mutations.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/engine"
	"github.com/t77yq/tracklet/internal/model"
)

// Edge is one dependency edge in a snapshot
type Edge struct {
	TaskID      int64 `json:"task_id"`
	DependsOnID int64 `json:"depends_on_id"`
}

// Snapshot is a full JSON dump of the hierarchy and dependency graph.
// The activity log is deliberately absent: it is the history of one
// store, not portable state.
type Snapshot struct {
	ID         string           `json:"id"`
	ExportedAt time.Time        `json:"exported_at"`
	Projects   []*model.Project `json:"projects"`
	Epics      []*model.Epic    `json:"epics"`
	Tasks      []*model.Task    `json:"tasks"`
	Edges      []Edge           `json:"edges"`
}

// Porter exports and imports snapshots through the engine
type Porter struct {
	logger *zap.Logger
	engine *engine.Engine
}

// NewPorter creates a new exporter/importer
func NewPorter(logger *zap.Logger, eng *engine.Engine) *Porter {
	return &Porter{
		logger: logger.Named("export"),
		engine: eng,
	}
}

// Export writes a snapshot of everything reachable through the engine
func (p *Porter) Export(ctx context.Context, w io.Writer) (*Snapshot, error) {
	snapshot := &Snapshot{
		ID:         uuid.New().String(),
		ExportedAt: time.Now(),
	}

	projects, err := p.engine.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export projects: %w", err)
	}
	snapshot.Projects = projects

	for _, project := range projects {
		epics, err := p.engine.ListEpics(ctx, project.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to export epics: %w", err)
		}
		snapshot.Epics = append(snapshot.Epics, epics...)

		for _, epic := range epics {
			tasks, err := p.engine.ListTasks(ctx, epic.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to export tasks: %w", err)
			}
			snapshot.Tasks = append(snapshot.Tasks, tasks...)

			for _, task := range tasks {
				detail, err := p.engine.GetTask(ctx, task.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to export dependencies: %w", err)
				}
				for _, pred := range detail.Predecessors {
					snapshot.Edges = append(snapshot.Edges, Edge{TaskID: task.ID, DependsOnID: pred})
				}
			}
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	p.logger.Info("Exported snapshot",
		zap.String("snapshot_id", snapshot.ID),
		zap.Int("projects", len(snapshot.Projects)),
		zap.Int("tasks", len(snapshot.Tasks)),
		zap.Int("edges", len(snapshot.Edges)))
	return snapshot, nil
}

// ImportResult reports what an import created
type ImportResult struct {
	SnapshotID string
	Projects   int
	Epics      int
	Tasks      int
	Edges      int
}

// Import replays a snapshot into the store. Record ids are reassigned;
// edges are remapped accordingly and applied last so every endpoint
// exists before its dependency set is replaced.
func (p *Porter) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	result := &ImportResult{SnapshotID: snapshot.ID}
	projectIDs := make(map[int64]int64, len(snapshot.Projects))
	epicIDs := make(map[int64]int64, len(snapshot.Epics))
	taskIDs := make(map[int64]int64, len(snapshot.Tasks))

	for _, project := range snapshot.Projects {
		created, err := p.engine.CreateProject(ctx, project.Name, project.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to import project '%s': %w", project.Name, err)
		}
		projectIDs[project.ID] = created.ID
		result.Projects++
	}

	for _, epic := range snapshot.Epics {
		projectID, ok := projectIDs[epic.ProjectID]
		if !ok {
			return nil, fmt.Errorf("epic '%s' references unknown project %d", epic.Name, epic.ProjectID)
		}
		created, err := p.engine.CreateEpic(ctx, projectID, epic.Name, epic.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to import epic '%s': %w", epic.Name, err)
		}
		epicIDs[epic.ID] = created.ID
		result.Epics++
	}

	for _, task := range snapshot.Tasks {
		epicID, ok := epicIDs[task.EpicID]
		if !ok {
			return nil, fmt.Errorf("task '%s' references unknown epic %d", task.Title, task.EpicID)
		}
		fields := engine.TaskFields{
			Title:       task.Title,
			Description: task.Description,
			Priority:    task.Priority,
			Assignee:    task.Assignee,
			Estimated:   task.Estimated,
			DueDate:     task.DueDate,
			Tags:        task.Tags,
			Metadata:    task.Metadata,
		}
		created, err := p.engine.CreateTask(ctx, epicID, fields, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to import task '%s': %w", task.Title, err)
		}
		taskIDs[task.ID] = created.ID
		result.Tasks++

		if task.Status != created.Status {
			status := task.Status
			if _, err := p.engine.UpdateTask(ctx, created.ID, model.TaskChanges{Status: &status}, nil); err != nil {
				return nil, fmt.Errorf("failed to restore status of task '%s': %w", task.Title, err)
			}
		}
	}

	predecessors := make(map[int64][]int64)
	for _, edge := range snapshot.Edges {
		taskID, ok := taskIDs[edge.TaskID]
		if !ok {
			return nil, fmt.Errorf("edge references unknown task %d", edge.TaskID)
		}
		predID, ok := taskIDs[edge.DependsOnID]
		if !ok {
			return nil, fmt.Errorf("edge references unknown prerequisite %d", edge.DependsOnID)
		}
		predecessors[taskID] = append(predecessors[taskID], predID)
		result.Edges++
	}
	for taskID, preds := range predecessors {
		if _, err := p.engine.UpdateTask(ctx, taskID, model.TaskChanges{}, &preds); err != nil {
			return nil, fmt.Errorf("failed to restore dependencies of task %d: %w", taskID, err)
		}
	}

	p.logger.Info("Imported snapshot",
		zap.String("snapshot_id", result.SnapshotID),
		zap.Int("projects", result.Projects),
		zap.Int("epics", result.Epics),
		zap.Int("tasks", result.Tasks),
		zap.Int("edges", result.Edges))
	return result, nil
}
