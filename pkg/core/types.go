package core

import "github.com/google/uuid"

// Func is a user callable executed inside a worker. For map it receives one
// element, for reduce a two-element []any pair and for spawn the whole input.
type Func func(scope *Scope, value any) (any, error)

// Helper is an auxiliary function made callable inside workers via Require.
type Helper func(args ...any) (any, error)

type Kind string

const (
	KindSpawn  Kind = "spawn"
	KindMap    Kind = "map"
	KindReduce Kind = "reduce"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSpawn, KindMap, KindReduce:
		return true
	}
	return false
}

// Requirement binds Name inside the worker scope to the registered Symbol.
// When Library is set, Symbol names a helper library and every helper in it
// is bound under its own name. Fn is only read on the calling side, where it
// is resolved to Symbol before the requirement is sent.
type Requirement struct {
	Name    string
	Symbol  string
	Library bool
	Fn      Helper
}

// Task is one unit of work dispatched to a worker.
type Task struct {
	ID    uuid.UUID
	JobID uuid.UUID

	Kind  Kind
	Fn    string
	Index int
	Data  any

	Env          map[string]any
	Namespace    string
	Requirements []Requirement
}

// TaskResult is the outcome of one Task. Err is nil on success.
type TaskResult struct {
	TaskID uuid.UUID
	Index  int
	Value  any
	Err    *TaskError
}

func (r *TaskResult) Failed() bool {
	return r.Err != nil
}

func Success(task *Task, value any) *TaskResult {
	return &TaskResult{TaskID: task.ID, Index: task.Index, Value: value}
}

func Failure(task *Task, err error) *TaskResult {
	return &TaskResult{TaskID: task.ID, Index: task.Index, Err: NewTaskError(err)}
}
