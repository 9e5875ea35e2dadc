package core

import (
	"sync"

	"casegrid/pkg/domain"
)

// GridEventType classifies grid store notifications.
type GridEventType int

const (
	// GridCellCommitted fires after a single cell commit.
	GridCellCommitted GridEventType = iota
	// GridRestored fires after an undo/redo restore.
	GridRestored
	// GridReplaced fires after a full data load.
	GridReplaced
	// GridFiltered fires after the filter changed.
	GridFiltered
)

// GridEvent describes a change to the grid store.
type GridEvent struct {
	Type     GridEventType
	RowIndex int // original index for GridCellCommitted, otherwise -1
	ColIndex int
}

// Grid is the row and column store. Readers get copies; writes go through the
// unexported commit and restore paths used by Scheduler and Session.
type Grid struct {
	mu        sync.RWMutex
	rows      []domain.GridRow
	headers   []domain.GridHeader
	filter    domain.FilterConfig
	filtered  []domain.GridRow
	mapper    *IndexMapper
	listeners map[int]func(GridEvent)
	nextID    int
}

// NewGrid constructs an empty grid whose filtered view is mirrored into mapper.
func NewGrid(mapper *IndexMapper) *Grid {
	return &Grid{
		mapper:    mapper,
		filter:    domain.NewFilterConfig(),
		listeners: make(map[int]func(GridEvent)),
	}
}

// Rows returns a deep copy of all rows in original order.
func (g *Grid) Rows() []domain.GridRow {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return domain.CloneRows(g.rows)
}

// Row returns a copy of the row at an original index.
func (g *Grid) Row(original int) (domain.GridRow, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if original < 0 || original >= len(g.rows) {
		return domain.GridRow{}, false
	}
	return g.rows[original].Clone(), true
}

// RowCount returns the number of rows in the unfiltered dataset.
func (g *Grid) RowCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rows)
}

// Headers returns a copy of the column metadata.
func (g *Grid) Headers() []domain.GridHeader {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return domain.CloneHeaders(g.headers)
}

// Header returns the column at colIndex.
func (g *Grid) Header(colIndex int) (domain.GridHeader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, h := range g.headers {
		if h.ColIndex == colIndex {
			return h.Clone(), true
		}
	}
	return domain.GridHeader{}, false
}

// Filter returns a copy of the active filter.
func (g *Grid) Filter() domain.FilterConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter.Clone()
}

// VisibleRows returns the rows in the current view. Under an active filter the
// copies carry their original index.
func (g *Grid) VisibleRows() []domain.GridRow {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.filter.Active() {
		return domain.CloneRows(g.rows)
	}
	out := make([]domain.GridRow, len(g.filtered))
	for i, r := range g.filtered {
		out[i] = r.Clone()
		out[i].OriginalIndex = r.OriginalIndex
		out[i].FilteredOriginalIndex = r.FilteredOriginalIndex
	}
	return out
}

// VisibleCount returns the number of rows in the current view.
func (g *Grid) VisibleCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.filter.Active() {
		return len(g.rows)
	}
	return len(g.filtered)
}

// Subscribe registers fn for grid events and returns an unsubscribe function.
func (g *Grid) Subscribe(fn func(GridEvent)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

func (g *Grid) capture(action string) HistorySnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return HistorySnapshot{
		Action:      action,
		Rows:        domain.CloneRows(g.rows),
		Headers:     domain.CloneHeaders(g.headers),
		FilterState: g.filter.Clone(),
	}
}

// setCell writes one cell. It reports false when the row or column does not exist.
func (g *Grid) setCell(original int, h domain.GridHeader, value string) bool {
	g.mu.Lock()
	if original < 0 || original >= len(g.rows) {
		g.mu.Unlock()
		return false
	}
	if !g.rows[original].SetValue(h, value) {
		g.mu.Unlock()
		return false
	}
	g.refilterLocked()
	g.mu.Unlock()
	g.notify(GridEvent{Type: GridCellCommitted, RowIndex: original, ColIndex: h.ColIndex})
	return true
}

func (g *Grid) restore(s HistorySnapshot) {
	g.mu.Lock()
	g.rows = domain.CloneRows(s.Rows)
	g.headers = domain.CloneHeaders(s.Headers)
	g.filter = s.FilterState.Clone()
	if g.filter == nil {
		g.filter = domain.NewFilterConfig()
	}
	g.refilterLocked()
	g.mu.Unlock()
	g.notify(GridEvent{Type: GridRestored, RowIndex: -1, ColIndex: -1})
}

func (g *Grid) replace(rows []domain.GridRow, headers []domain.GridHeader) {
	g.mu.Lock()
	g.rows = domain.CloneRows(rows)
	g.headers = domain.CloneHeaders(headers)
	g.filter = domain.NewFilterConfig()
	g.refilterLocked()
	g.mu.Unlock()
	g.notify(GridEvent{Type: GridReplaced, RowIndex: -1, ColIndex: -1})
}

func (g *Grid) setFilter(cfg domain.FilterConfig) {
	g.mu.Lock()
	g.filter = cfg.Clone()
	if g.filter == nil {
		g.filter = domain.NewFilterConfig()
	}
	g.refilterLocked()
	g.mu.Unlock()
	g.notify(GridEvent{Type: GridFiltered, RowIndex: -1, ColIndex: -1})
}

// refilterLocked recomputes the filtered view and rebuilds the index maps.
func (g *Grid) refilterLocked() {
	active := g.filter.Active()
	if active {
		g.filtered = ApplyFilter(g.rows, g.headers, g.filter)
	} else {
		g.filtered = nil
	}
	if g.mapper != nil {
		g.mapper.Rebuild(g.filtered, active)
	}
}

func (g *Grid) notify(ev GridEvent) {
	g.mu.RLock()
	fns := make([]func(GridEvent), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
