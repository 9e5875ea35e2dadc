package core

import (
	"errors"
	"fmt"
	"testing"

	"casegrid/pkg/domain"
)

func snapWithValue(v string) HistorySnapshot {
	r := domain.NewGridRow(1, 0, 0)
	r.BasicInfo[0] = v
	return HistorySnapshot{Action: "edit " + v, Rows: []domain.GridRow{r}}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(snapWithValue(fmt.Sprint(i)))
	}
	undo, redo := h.Depths()
	if undo != 3 || redo != 0 {
		t.Fatalf("depths = %d/%d, want 3/0", undo, redo)
	}
	cur := snapWithValue("current")
	var got []string
	for h.CanUndo() {
		s, err := h.Undo(cur)
		if err != nil {
			t.Fatalf("Undo: %v", err)
		}
		got = append(got, s.Rows[0].BasicInfo[0])
		cur = s
	}
	if fmt.Sprint(got) != "[4 3 2]" {
		t.Fatalf("oldest entries should be evicted, got %v", got)
	}
	if _, err := h.Undo(cur); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestHistoryRecordClearsRedo(t *testing.T) {
	h := NewHistory(0)
	h.Record(snapWithValue("a"))
	if _, err := h.Undo(snapWithValue("b")); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if !h.CanRedo() {
		t.Fatalf("redo should be available after undo")
	}
	h.Record(snapWithValue("c"))
	if h.CanRedo() {
		t.Fatalf("a new mutation must discard the redo stack")
	}
	if _, err := h.Redo(snapWithValue("d")); !errors.Is(err, ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo, got %v", err)
	}
}

func TestHistoryDoesNotAlias(t *testing.T) {
	h := NewHistory(5)
	s := snapWithValue("orig")
	h.Record(s)
	s.Rows[0].BasicInfo[0] = "mutated"
	got, err := h.Undo(snapWithValue("cur"))
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if got.Rows[0].BasicInfo[0] != "orig" {
		t.Fatalf("stored snapshot was aliased: %q", got.Rows[0].BasicInfo[0])
	}
	got.Rows[0].BasicInfo[0] = "again"
	back, _ := h.Redo(got)
	if back.Rows[0].BasicInfo[0] != "cur" {
		t.Fatalf("redo returned %q", back.Rows[0].BasicInfo[0])
	}
}
