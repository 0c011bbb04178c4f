package backend

import (
	"time"
)

// Default colors applied to drafts that don't pick one.
const (
	DefaultEventColor = "#3b82f6"
	DefaultMemoColor  = "#fef3c7"
)

// Event is a family calendar entry.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Date        string    `json:"date"`           // YYYY-MM-DD
	Time        string    `json:"time,omitempty"` // HH:MM, empty for all-day
	Color       string    `json:"color,omitempty"`
	FamilyID    string    `json:"familyId,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// Priority is a todo priority level.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high first. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Todo is a shared todo item.
type Todo struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	Completed   bool      `json:"completed"`
	FamilyID    string    `json:"familyId,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// Memo is a note on the family memo board.
type Memo struct {
	ID        string    `json:"id,omitempty"`
	Content   string    `json:"content"`
	Pinned    bool      `json:"pinned"`
	Color     string    `json:"color,omitempty"`
	FamilyID  string    `json:"familyId,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// EventPatch is a partial update of an Event. Nil fields are left alone.
type EventPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Date        *string `json:"date,omitempty"`
	Time        *string `json:"time,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// Apply merges the set fields into e.
func (p EventPatch) Apply(e Event) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Time != nil {
		e.Time = *p.Time
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	return e
}

// TodoPatch is a partial update of a Todo. Nil fields are left alone.
type TodoPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

// Apply merges the set fields into t.
func (p TodoPatch) Apply(t Todo) Todo {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t
}

// MemoPatch is a partial update of a Memo. Nil fields are left alone.
type MemoPatch struct {
	Content *string `json:"content,omitempty"`
	Pinned  *bool   `json:"pinned,omitempty"`
	Color   *string `json:"color,omitempty"`
}

// Apply merges the set fields into m.
func (p MemoPatch) Apply(m Memo) Memo {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.Color != nil {
		m.Color = *p.Color
	}
	return m
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
