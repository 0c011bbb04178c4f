package collection

import (
	"context"
	"sort"

	"famhub/backend"
)

// Memos is the memo board controller.
type Memos struct {
	*Controller[backend.Memo, backend.MemoPatch]
}

// NewMemos creates a memo controller.
func NewMemos(api backend.Collaborator[backend.Memo, backend.MemoPatch], cfg Config, opts ...Option[backend.Memo]) *Memos {
	return &Memos{Controller: New(backend.Memos, api, cfg, opts...)}
}

// Add creates a memo, defaulting its color.
func (m *Memos) Add(ctx context.Context, draft backend.Memo) (backend.Memo, error) {
	if draft.Color == "" {
		draft.Color = backend.DefaultMemoColor
	}
	return m.Controller.Add(ctx, draft)
}

// TogglePin flips the pinned flag of the memo with id.
func (m *Memos) TogglePin(ctx context.Context, id string) error {
	memo, ok := m.Get(id)
	if !ok {
		return &MutationError{Op: OpUpdate, Resource: backend.ResourceMemos, ID: id, Err: ErrNotFound}
	}
	return m.Update(ctx, id, backend.MemoPatch{Pinned: backend.Ptr(!memo.Pinned)})
}

// Visible returns the board: pinned memos first, then newest first.
func (m *Memos) Visible() []backend.Memo {
	return SortMemos(m.Items())
}

// SortMemos orders memos pinned first, then by creation time descending.
// Memos without a timestamp (not yet confirmed) count as newest.
func SortMemos(memos []backend.Memo) []backend.Memo {
	sort.SliceStable(memos, func(i, j int) bool {
		a, b := memos[i], memos[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.CreatedAt.IsZero() != b.CreatedAt.IsZero() {
			return a.CreatedAt.IsZero()
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return memos
}
