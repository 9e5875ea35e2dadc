package core

import "math"

// Default windowing parameters.
const (
	DefaultRowHeight  = 35
	DefaultBufferSize = 10
)

// Viewport holds the fixed geometry of a virtualized grid.
type Viewport struct {
	RowHeight  float64
	BufferSize int
}

// DefaultViewport returns the default geometry.
func DefaultViewport() Viewport {
	return Viewport{RowHeight: DefaultRowHeight, BufferSize: DefaultBufferSize}
}

// Window is the rendered row slice. EndIndex is inclusive; an empty window
// has EndIndex < StartIndex.
type Window struct {
	StartIndex  int
	EndIndex    int
	PaddingTop  float64
	TotalHeight float64
}

// Len returns the number of rows in the window.
func (w Window) Len() int {
	if w.EndIndex < w.StartIndex {
		return 0
	}
	return w.EndIndex - w.StartIndex + 1
}

// Contains reports whether row index i is rendered.
func (w Window) Contains(i int) bool {
	return i >= w.StartIndex && i <= w.EndIndex
}

// Compute returns the window for the current scroll position.
func (v Viewport) Compute(scrollTop, viewportHeight float64, rowCount int) Window {
	return ComputeWindow(scrollTop, v.RowHeight, v.BufferSize, viewportHeight, rowCount)
}

// ComputeWindow derives the rendered slice so that it over-covers the visible
// viewport by bufferSize rows on each edge, clamped to [0, rowCount-1].
// A zero row count or an unmeasured viewport (viewportHeight <= 0) yields an
// empty window.
func ComputeWindow(scrollTop, rowHeight float64, bufferSize int, viewportHeight float64, rowCount int) Window {
	if rowCount <= 0 || rowHeight <= 0 {
		return Window{StartIndex: 0, EndIndex: -1}
	}
	total := float64(rowCount) * rowHeight
	if scrollTop < 0 {
		scrollTop = 0
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	start := int(math.Floor(scrollTop/rowHeight)) - bufferSize
	if start < 0 {
		start = 0
	}
	if start > rowCount-1 {
		start = rowCount - 1
	}
	if viewportHeight <= 0 {
		return Window{StartIndex: start, EndIndex: start - 1, PaddingTop: float64(start) * rowHeight, TotalHeight: total}
	}
	visible := int(math.Ceil(viewportHeight/rowHeight)) + 2*bufferSize
	end := start + visible
	if end > rowCount-1 {
		end = rowCount - 1
	}
	return Window{
		StartIndex:  start,
		EndIndex:    end,
		PaddingTop:  float64(start) * rowHeight,
		TotalHeight: total,
	}
}

// Slice returns the rows covered by w.
func Slice[T any](w Window, rows []T) []T {
	if w.Len() == 0 || w.StartIndex >= len(rows) {
		return nil
	}
	end := w.EndIndex + 1
	if end > len(rows) {
		end = len(rows)
	}
	return rows[w.StartIndex:end]
}
