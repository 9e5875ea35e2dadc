package core

import (
	"sort"
	"sync"

	"casegrid/pkg/domain"
)

// ApplyFilter returns the rows accepted by every active column filter. Each
// returned row is a copy carrying its original index; the input rows are not
// modified. With no active filter the input slice is returned as is.
func ApplyFilter(rows []domain.GridRow, headers []domain.GridHeader, cfg domain.FilterConfig) []domain.GridRow {
	if !cfg.Active() {
		return rows
	}
	type active struct {
		header domain.GridHeader
		allow  map[string]struct{}
	}
	idx := IndexHeaders(headers)
	var filters []active
	for key, allow := range cfg {
		if len(allow) == 0 {
			continue
		}
		h, ok := idx[key]
		if !ok {
			continue
		}
		filters = append(filters, active{header: h, allow: allow})
	}
	out := make([]domain.GridRow, 0, len(rows))
	for i := range rows {
		pass := true
		for _, f := range filters {
			if _, ok := f.allow[rows[i].Value(f.header)]; !ok {
				pass = false
				break
			}
		}
		if !pass {
			continue
		}
		row := rows[i]
		row.OriginalIndex = domain.IntPtr(i)
		row.FilteredOriginalIndex = domain.IntPtr(i)
		out = append(out, row)
	}
	return out
}

// DistinctValues lists the sorted set of raw values a column holds, for
// building filter menus.
func DistinctValues(rows []domain.GridRow, h domain.GridHeader) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.Value(h)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ErrorLookup answers whether a cell, addressed by original row index and
// column unique key, currently holds a validation error.
type ErrorLookup interface {
	Has(rowIndex int, uniqueKey string) bool
}

// IndexMapper translates between original row indexes and positions in the
// filtered view. While no filter is active it is the identity and keeps no maps.
type IndexMapper struct {
	mu                sync.RWMutex
	active            bool
	originalToVirtual map[int]int
	virtualToOriginal []int
	errors            ErrorLookup
}

// NewIndexMapper constructs an identity mapper that consults errs for HasError.
func NewIndexMapper(errs ErrorLookup) *IndexMapper {
	return &IndexMapper{errors: errs}
}

// Rebuild recomputes both maps from a filtered row list. Rows must carry the
// OriginalIndex assigned by ApplyFilter; rows without one map to themselves.
func (m *IndexMapper) Rebuild(filtered []domain.GridRow, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
	if !active {
		m.originalToVirtual = nil
		m.virtualToOriginal = nil
		return
	}
	o2v := make(map[int]int, len(filtered))
	v2o := make([]int, len(filtered))
	for v, row := range filtered {
		original := v
		if row.OriginalIndex != nil {
			original = *row.OriginalIndex
		}
		o2v[original] = v
		v2o[v] = original
	}
	m.originalToVirtual = o2v
	m.virtualToOriginal = v2o
}

// Active reports whether a filter is in effect.
func (m *IndexMapper) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// OriginalIndex maps a virtual index to the original one. It returns -1 for a
// virtual index outside the filtered view.
func (m *IndexMapper) OriginalIndex(virtual int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return virtual
	}
	if virtual < 0 || virtual >= len(m.virtualToOriginal) {
		return -1
	}
	return m.virtualToOriginal[virtual]
}

// VirtualIndex maps an original index into the filtered view. ok is false when
// the row is hidden by the filter.
func (m *IndexMapper) VirtualIndex(original int) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return original, true
	}
	v, ok := m.originalToVirtual[original]
	return v, ok
}

// HasError reports whether the cell shown at virtualIndex in column h is invalid.
func (m *IndexMapper) HasError(virtualIndex int, h domain.GridHeader) bool {
	if m.errors == nil {
		return false
	}
	original := m.OriginalIndex(virtualIndex)
	if original < 0 {
		return false
	}
	return m.errors.Has(original, ColumnUniqueKey(h))
}
