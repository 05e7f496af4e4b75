// Package tasks holds the named build actions of an xtask invocation and
// dispatches them from command-line arguments.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrNoTask is returned by Dispatch when no task was named and no default
// task is registered.
var ErrNoTask = errors.New("no task given and no default task registered")

// UnknownTaskError is returned when an argument names no registered task.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("Task '%s' undefined.", e.Name)
}

// Action is a zero-argument task body.
type Action func(ctx context.Context) error

// Task is a named action.
type Task struct {
	Name        string
	Description string
	Action      Action
}

// Registry maps task names to tasks. It is built once at process start and
// only read afterwards.
type Registry struct {
	Program string // shown in the usage line

	tasks map[string]Task
	def   string
}

// NewRegistry creates an empty registry for program.
func NewRegistry(program string) *Registry {
	return &Registry{Program: program, tasks: make(map[string]Task)}
}

// Register adds a task. A later registration under the same name replaces
// the earlier one.
func (r *Registry) Register(name, description string, action Action) {
	r.tasks[name] = Task{Name: name, Description: description, Action: action}
}

// SetDefault registers a task and marks it as the one run when no task is named.
func (r *Registry) SetDefault(name, description string, action Action) {
	r.Register(name, description, action)
	r.def = name
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Default returns the default task, if any.
func (r *Registry) Default() (Task, bool) {
	if r.def == "" {
		return Task{}, false
	}
	return r.Lookup(r.def)
}

// Tasks returns all tasks sorted by name.
func (r *Registry) Tasks() []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered task names sorted.
func (r *Registry) Names() []string {
	var names []string
	for _, t := range r.Tasks() {
		names = append(names, t.Name)
	}
	return names
}

// Usage writes the usage line and task list to w.
func (r *Registry) Usage(w io.Writer) {
	fmt.Fprintf(w, "%s <task> <task> ...\n", r.Program)
	fmt.Fprintf(w, "Tasks: %s\n", strings.Join(r.Names(), ", "))
	for _, t := range r.Tasks() {
		marker := ""
		if t.Name == r.def {
			marker = " (default)"
		}
		fmt.Fprintf(w, "  %-14s %s%s\n", t.Name, t.Description, marker)
	}
}

// Dispatch runs the tasks named by args in order.
//
// A help flag anywhere in args prints usage and returns nil. Empty args run
// the default task, or print usage and return ErrNoTask when there is none.
// An unknown name stops dispatch before it is attempted, so later names are
// never run; the same holds for a failing task.
func (r *Registry) Dispatch(ctx context.Context, args []string, w io.Writer) error {
	for _, a := range args {
		if a == "-h" || a == "--help" {
			r.Usage(w)
			return nil
		}
	}

	if len(args) == 0 {
		t, ok := r.Default()
		if !ok {
			r.Usage(w)
			return ErrNoTask
		}
		return r.run(ctx, t)
	}

	for _, name := range args {
		t, ok := r.Lookup(name)
		if !ok {
			return &UnknownTaskError{Name: name}
		}
		if err := r.run(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) run(ctx context.Context, t Task) error {
	if err := t.Action(ctx); err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	return nil
}
