package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"casegrid/pkg/domain"
)

// manualClock fires timers only when Advance moves past their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock    *manualClock
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and runs due timers in deadline order on
// the calling goroutine.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	var rest []*manualTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.deadline.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.fn()
	}
}

type logEntry struct {
	level string
	msg   string
	kv    []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *captureLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *captureLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *captureLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *captureLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (m *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricsCall{op: op, success: success})
}

func (m *captureMetrics) has(op string, success bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.op == op && c.success == success {
			return true
		}
	}
	return false
}

// sampleHeaders describes a sheet with two basic, three clinical and two diet
// columns plus both optional single columns.
func sampleHeaders() domain.SheetHeaders {
	return domain.SheetHeaders{
		Basic:                     []string{"Name", "Age"},
		Clinical:                  []string{"Fever", "Cough", "Diarrhea"},
		Diet:                      []string{"Rice", "Kimchi"},
		HasConfirmedCase:          true,
		HasIndividualExposureTime: true,
	}
}

func sampleRows(n int) []domain.GridRow {
	rows := make([]domain.GridRow, n)
	for i := range rows {
		r := domain.NewGridRow(2, 3, 2)
		r.IsPatient = fmt.Sprint(i % 2)
		r.BasicInfo[0] = fmt.Sprintf("case-%02d", i)
		r.BasicInfo[1] = fmt.Sprint(20 + i)
		r.ClinicalSymptoms[0] = "0"
		r.DietInfo[1] = "1"
		rows[i] = r
	}
	return rows
}

func sampleDataset(n int) domain.Dataset {
	return domain.Dataset{Headers: sampleHeaders(), Rows: sampleRows(n)}
}

// headerByKey finds a column by data key and sub-position (-1 for scalar fields).
func headerByKey(t *testing.T, headers []domain.GridHeader, dataKey string, cellIndex int) domain.GridHeader {
	t.Helper()
	for _, h := range headers {
		if h.DataKey == dataKey && h.Index() == cellIndex {
			return h
		}
	}
	t.Fatalf("no column %s[%d]", dataKey, cellIndex)
	return domain.GridHeader{}
}

func editOf(h domain.GridHeader, virtualRow int, old, value string) domain.EditInfo {
	return domain.EditInfo{
		Cell:          domain.CellRef{RowIndex: virtualRow, ColIndex: h.ColIndex, DataKey: h.DataKey, CellIndex: h.CellIndex},
		OriginalValue: old,
		Value:         value,
		ColumnMeta:    h,
		HasChanged:    old != value,
	}
}
