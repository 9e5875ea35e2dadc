package core

import (
	"errors"
	"sync"
	"time"

	"casegrid/pkg/domain"
)

// DefaultHistoryLimit bounds each of the undo and redo stacks.
const DefaultHistoryLimit = 50

var (
	// ErrNothingToUndo is returned by Undo on an empty undo stack.
	ErrNothingToUndo = errors.New("history: nothing to undo")
	// ErrNothingToRedo is returned by Redo on an empty redo stack.
	ErrNothingToRedo = errors.New("history: nothing to redo")
)

// HistorySnapshot is the grid state captured immediately before a mutation.
type HistorySnapshot struct {
	Action           string
	Rows             []domain.GridRow
	Headers          []domain.GridHeader
	ValidationErrors map[string]domain.ValidationError
	FilterState      domain.FilterConfig
	TakenAt          time.Time
}

func (s HistorySnapshot) clone() HistorySnapshot {
	return HistorySnapshot{
		Action:           s.Action,
		Rows:             domain.CloneRows(s.Rows),
		Headers:          domain.CloneHeaders(s.Headers),
		ValidationErrors: domain.CloneErrors(s.ValidationErrors),
		FilterState:      s.FilterState.Clone(),
		TakenAt:          s.TakenAt,
	}
}

// History keeps bounded linear undo/redo stacks. Snapshots are copied on the
// way in and on the way out, so callers can never alias stored state.
type History struct {
	mu    sync.Mutex
	undo  []HistorySnapshot
	redo  []HistorySnapshot
	limit int
}

// NewHistory constructs a history with the given stack bound.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record pushes the pre-mutation state and discards the redo stack.
func (h *History) Record(s HistorySnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = push(h.undo, s.clone(), h.limit)
	h.redo = nil
}

// Undo pops the latest snapshot, pushing current onto the redo stack.
func (h *History) Undo(current HistorySnapshot) (HistorySnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return HistorySnapshot{}, ErrNothingToUndo
	}
	last := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	current.Action = last.Action
	h.redo = push(h.redo, current.clone(), h.limit)
	return last.clone(), nil
}

// Redo pops the latest redo snapshot, pushing current back onto the undo stack.
func (h *History) Redo(current HistorySnapshot) (HistorySnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return HistorySnapshot{}, ErrNothingToRedo
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	current.Action = next.Action
	h.undo = push(h.undo, current.clone(), h.limit)
	return next.clone(), nil
}

// CanUndo reports whether Undo would succeed.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether Redo would succeed.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Depths returns the sizes of the undo and redo stacks.
func (h *History) Depths() (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo), len(h.redo)
}

// Clear empties both stacks.
func (h *History) Clear() {
	h.mu.Lock()
	h.undo, h.redo = nil, nil
	h.mu.Unlock()
}

// push appends s, evicting the oldest entries beyond limit.
func push(stack []HistorySnapshot, s HistorySnapshot, limit int) []HistorySnapshot {
	stack = append(stack, s)
	if over := len(stack) - limit; over > 0 {
		stack = append(stack[:0:0], stack[over:]...)
	}
	return stack
}
