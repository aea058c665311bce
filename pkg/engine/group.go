package engine

import (
	"context"
	"sync/atomic"
)

// Task is a single unit of work run by a TaskGroup.
type Task[T any] func(ctx context.Context) (T, error)

// Outcome is the settled result of one task.
type Outcome[T any] struct {
	// Name is the progress label of the task, if one was given.
	Name string

	// Value is the task's return value when Err is nil.
	Value T

	// Err is the task's error, if it failed.
	Err error
}

// ProgressUpdate reports the completion state of a group.
type ProgressUpdate struct {
	// Completed is the number of settled tasks.
	Completed int

	// Total is the number of tasks in the group.
	Total int

	// Percent is Completed*100/Total.
	Percent int

	// Name is the label of the task that just settled.
	Name string
}

// TaskGroupOptions configures a TaskGroup.
type TaskGroupOptions struct {
	// Names are optional progress labels, parallel to the task list.
	Names []string

	// Concurrent runs all tasks at once instead of one after another.
	Concurrent bool

	// FastFail makes the group resolve with the first task error.
	FastFail bool

	// Cancelable enables Cancel.
	Cancelable bool

	// OnProgress is called after each task settles. Nil disables progress reporting.
	OnProgress func(ProgressUpdate)
}

// TaskGroup runs a list of tasks sequentially or concurrently.
//
// In sequential mode the cancel flag is checked before every task. In
// concurrent mode all tasks are launched up front; a fast-fail resolves the
// group early but tasks still in flight keep running and their results are
// discarded.
type TaskGroup[T any] struct {
	tasks    []Task[T]
	opts     TaskGroupOptions
	canceled atomic.Bool
}

// NewTaskGroup creates a new task group.
func NewTaskGroup[T any](tasks []Task[T], opts TaskGroupOptions) *TaskGroup[T] {
	return &TaskGroup[T]{
		tasks: tasks,
		opts:  opts,
	}
}

// Cancel stops a sequential group before its next task.
// It has no effect unless the group was created as cancelable.
func (g *TaskGroup[T]) Cancel() {
	if g.opts.Cancelable {
		g.canceled.Store(true)
	}
}

// IsCanceled reports whether the group was canceled, either by Cancel or by a fast-fail.
func (g *TaskGroup[T]) IsCanceled() bool {
	return g.canceled.Load()
}

// Run executes the group.
// Without a fast-fail the outcomes are returned in task order, failed tasks included.
func (g *TaskGroup[T]) Run(ctx context.Context) ([]Outcome[T], error) {
	if len(g.tasks) == 0 {
		return []Outcome[T]{}, nil
	}
	if g.opts.Concurrent {
		return g.runConcurrent(ctx)
	}
	return g.runSequential(ctx)
}

func (g *TaskGroup[T]) runSequential(ctx context.Context) ([]Outcome[T], error) {
	total := len(g.tasks)
	outcomes := make([]Outcome[T], 0, total)

	for i, task := range g.tasks {
		if g.canceled.Load() {
			return nil, NewUserCancelError()
		}

		value, err := task(ctx)
		outcome := Outcome[T]{Name: g.name(i), Value: value, Err: err}

		g.report(i+1, total, outcome.Name)

		if err != nil && g.opts.FastFail {
			g.canceled.Store(true)
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

type settled[T any] struct {
	index   int
	outcome Outcome[T]
}

func (g *TaskGroup[T]) runConcurrent(ctx context.Context) ([]Outcome[T], error) {
	total := len(g.tasks)

	// Buffered so that abandoned tasks never block after an early return.
	results := make(chan settled[T], total)

	for i, task := range g.tasks {
		go func(i int, task Task[T]) {
			value, err := task(ctx)
			results <- settled[T]{
				index:   i,
				outcome: Outcome[T]{Name: g.name(i), Value: value, Err: err},
			}
		}(i, task)
	}

	outcomes := make([]Outcome[T], total)
	for completed := 1; completed <= total; completed++ {
		s := <-results
		outcomes[s.index] = s.outcome

		g.report(completed, total, s.outcome.Name)

		if s.outcome.Err != nil && g.opts.FastFail {
			g.canceled.Store(true)
			return nil, s.outcome.Err
		}
	}

	return outcomes, nil
}

func (g *TaskGroup[T]) report(completed, total int, name string) {
	if g.opts.OnProgress == nil {
		return
	}
	g.opts.OnProgress(ProgressUpdate{
		Completed: completed,
		Total:     total,
		Percent:   completed * 100 / total,
		Name:      name,
	})
}

func (g *TaskGroup[T]) name(i int) string {
	if i < len(g.opts.Names) {
		return g.opts.Names[i]
	}
	return ""
}

// FirstError returns the first failed outcome's error, or nil.
func FirstError[T any](outcomes []Outcome[T]) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}
