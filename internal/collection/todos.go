package collection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"famhub/backend"
)

// Filter selects which todos are shown.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// ParseFilter parses a filter name. The empty string means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterActive:
		return FilterActive, nil
	case FilterCompleted:
		return FilterCompleted, nil
	}
	return "", fmt.Errorf("unknown filter %q (use all, active or completed)", s)
}

// Next returns the filter after f in the all, active, completed cycle.
func (f Filter) Next() Filter {
	switch f {
	case FilterAll:
		return FilterActive
	case FilterActive:
		return FilterCompleted
	default:
		return FilterAll
	}
}

func (f Filter) keep(t backend.Todo) bool {
	switch f {
	case FilterActive:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	default:
		return true
	}
}

// Todos is the todo list controller.
type Todos struct {
	*Controller[backend.Todo, backend.TodoPatch]
}

// NewTodos creates a todo controller.
func NewTodos(api backend.Collaborator[backend.Todo, backend.TodoPatch], cfg Config, opts ...Option[backend.Todo]) *Todos {
	return &Todos{Controller: New(backend.Todos, api, cfg, opts...)}
}

// Add creates a todo. Priority defaults to medium and new todos are never
// completed.
func (t *Todos) Add(ctx context.Context, draft backend.Todo) (backend.Todo, error) {
	if draft.Priority == "" {
		draft.Priority = backend.PriorityMedium
	}
	draft.Completed = false
	return t.Controller.Add(ctx, draft)
}

// Toggle flips the completed flag of the todo with id.
func (t *Todos) Toggle(ctx context.Context, id string) error {
	todo, ok := t.Get(id)
	if !ok {
		return &MutationError{Op: OpUpdate, Resource: backend.ResourceTodos, ID: id, Err: ErrNotFound}
	}
	return t.Update(ctx, id, backend.TodoPatch{Completed: backend.Ptr(!todo.Completed)})
}

// Visible returns the todos passing f, highest priority first.
func (t *Todos) Visible(f Filter) []backend.Todo {
	return SortByPriority(FilterTodos(t.Items(), f))
}

// Counts returns the number of active and completed todos.
func (t *Todos) Counts() (active, completed int) {
	for _, todo := range t.Items() {
		if todo.Completed {
			completed++
		} else {
			active++
		}
	}
	return active, completed
}

// FilterTodos returns the todos passing f.
func FilterTodos(todos []backend.Todo, f Filter) []backend.Todo {
	out := make([]backend.Todo, 0, len(todos))
	for _, todo := range todos {
		if f.keep(todo) {
			out = append(out, todo)
		}
	}
	return out
}

// SortByPriority orders todos high, medium, low. Equal priorities keep
// their collection order.
func SortByPriority(todos []backend.Todo) []backend.Todo {
	sort.SliceStable(todos, func(i, j int) bool {
		return todos[i].Priority.Rank() < todos[j].Priority.Rank()
	})
	return todos
}
