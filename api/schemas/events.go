package schemas

import "time"

// -- Execution Event Schemas --

// Actor is the component an event is attributed to.
type Actor string

const (
	ActorSystem    Actor = "system"
	ActorPlanner   Actor = "planner"
	ActorNavigator Actor = "navigator"
	ActorValidator Actor = "validator"
)

// ExecutionState names a lifecycle transition.
type ExecutionState string

const (
	TaskStart  ExecutionState = "task.start"
	TaskOK     ExecutionState = "task.ok"
	TaskFail   ExecutionState = "task.fail"
	TaskCancel ExecutionState = "task.cancel"
	TaskPause  ExecutionState = "task.pause"
	TaskResume ExecutionState = "task.resume"

	StepStart ExecutionState = "step.start"
	StepOK    ExecutionState = "step.ok"
	StepFail  ExecutionState = "step.fail"

	ActStart ExecutionState = "act.start"
	ActOK    ExecutionState = "act.ok"
	ActFail  ExecutionState = "act.fail"
)

// IsTerminal reports whether the state ends a task run.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case TaskOK, TaskFail, TaskCancel:
		return true
	}
	return false
}

// ExecutionEvent is emitted by the executor for every lifecycle transition.
type ExecutionEvent struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId"`
	Actor     Actor          `json:"actor"`
	State     ExecutionState `json:"state"`
	Step      int            `json:"step"`
	MaxSteps  int            `json:"maxSteps"`
	Details   string         `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink consumes execution events. Emit must not block the executor.
type EventSink interface {
	Emit(event ExecutionEvent)
}
