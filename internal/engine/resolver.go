package engine

import "github.com/t77yq/tracklet/internal/model"

// Resolve decides a task's next workflow status from its current
// status and its count of unmet prerequisites. It returns the new
// status and whether a transition is required.
//
// The resolver enforces exactly one invariant: a task with unmet
// prerequisites rests in blocked, and a blocked task with none moves
// back to todo. It never overrides a deliberate status choice beyond
// that, and never advances a task past todo; in_progress, review, and
// done only ever come from a caller.
func Resolve(current model.TaskStatus, unmetCount int) (model.TaskStatus, bool) {
	if unmetCount > 0 && current != model.TaskStatusBlocked && current != model.TaskStatusDone {
		return model.TaskStatusBlocked, true
	}
	if unmetCount == 0 && current == model.TaskStatusBlocked {
		return model.TaskStatusTodo, true
	}
	return current, false
}
