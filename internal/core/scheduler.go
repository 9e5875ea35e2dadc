package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"casegrid/pkg/domain"
)

// DefaultDebounce is the delay between the last edit to a cell and its commit.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrReadOnlyColumn is returned when an edit targets a non-editable column.
	ErrReadOnlyColumn = errors.New("scheduler: column is not editable")
	// ErrRowNotVisible is returned when an edit addresses a virtual index outside the current view.
	ErrRowNotVisible = errors.New("scheduler: row is not in the current view")
)

// SchedulerConfig wires the collaborators a Scheduler commits through.
type SchedulerConfig struct {
	Grid       *Grid
	Validation *ValidationStore
	History    *History
	Mapper     *IndexMapper
	Rules      *RulesEngine
	Clock      Clock
	Debounce   time.Duration
	Logger     Logger
	Metrics    MetricsRecorder
	// Persist is called after every commit. Failures are logged and the
	// in-memory edit is kept.
	Persist func(ctx context.Context) error
}

type pendingEntry struct {
	save     domain.PendingSave
	original int
	header   domain.GridHeader
	timer    Timer
	seq      uint64
}

// Scheduler debounces cell edits and commits them one at a time. Each commit
// records a history snapshot, writes the row store, validates the cell and
// persists.
type Scheduler struct {
	grid       *Grid
	validation *ValidationStore
	history    *History
	mapper     *IndexMapper
	rules      *RulesEngine
	clock      Clock
	delay      time.Duration
	logger     Logger
	metrics    MetricsRecorder
	persist    func(ctx context.Context) error

	mu      sync.Mutex
	pending map[string]*pendingEntry
	seq     uint64

	// commitMu serialises commits with history restores and data loads.
	commitMu sync.Mutex
	commits  int
}

// NewScheduler constructs a scheduler from cfg, filling defaults for the
// optional collaborators.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		grid:       cfg.Grid,
		validation: cfg.Validation,
		history:    cfg.History,
		mapper:     cfg.Mapper,
		rules:      cfg.Rules,
		clock:      cfg.Clock,
		delay:      cfg.Debounce,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		persist:    cfg.Persist,
		pending:    make(map[string]*pendingEntry),
	}
	if s.clock == nil {
		s.clock = RealClock()
	}
	if s.delay <= 0 {
		s.delay = DefaultDebounce
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.rules == nil {
		s.rules = NewDefaultRulesEngine()
	}
	if s.history == nil {
		s.history = NewHistory(DefaultHistoryLimit)
	}
	return s
}

// Edit schedules a debounced commit for one cell. A second edit to the same
// cell inside the debounce window replaces the first.
func (s *Scheduler) Edit(info domain.EditInfo) error {
	if !info.HasChanged {
		return nil
	}
	original := info.Cell.RowIndex
	if s.mapper != nil {
		original = s.mapper.OriginalIndex(info.Cell.RowIndex)
	}
	if original < 0 || original >= s.grid.RowCount() {
		return fmt.Errorf("%w: virtual index %d", ErrRowNotVisible, info.Cell.RowIndex)
	}
	header, ok := s.grid.Header(info.Cell.ColIndex)
	if !ok {
		header = info.ColumnMeta.Clone()
	}
	if !header.IsEditable {
		return fmt.Errorf("%w: %s", ErrReadOnlyColumn, ColumnUniqueKey(header))
	}

	key := domain.CellKey(original, info.Cell.ColIndex)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	seq := s.seq
	entry := &pendingEntry{
		save:     domain.PendingSave{EditInfo: info, ScheduledAt: s.clock.Now()},
		original: original,
		header:   header,
		seq:      seq,
	}
	entry.timer = s.clock.AfterFunc(s.delay, func() { s.fire(key, seq) })
	s.pending[key] = entry
	return nil
}

func (s *Scheduler) fire(key string, seq uint64) {
	s.mu.Lock()
	entry, ok := s.pending[key]
	if !ok || entry.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()
	s.commit(entry)
}

// ProcessPendingSaves commits every pending edit immediately, in the order
// the edits were scheduled, and returns how many were flushed.
func (s *Scheduler) ProcessPendingSaves() int {
	entries := s.drain()
	for _, e := range entries {
		s.commit(e)
	}
	return len(entries)
}

// CancelAll drops every pending edit without committing it.
func (s *Scheduler) CancelAll() int {
	return len(s.drain())
}

func (s *Scheduler) drain() []*pendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*pendingEntry, 0, len(s.pending))
	for key, e := range s.pending {
		e.timer.Stop()
		out = append(out, e)
		delete(s.pending, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Pending lists the edits waiting for their debounce timer, oldest first.
func (s *Scheduler) Pending() []domain.PendingSave {
	s.mu.Lock()
	entries := make([]*pendingEntry, 0, len(s.pending))
	for _, e := range s.pending {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.PendingSave, len(entries))
	for i, e := range entries {
		out[i] = e.save
	}
	return out
}

// PendingCount returns the number of cells waiting to be committed.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Commits returns the number of commits applied so far.
func (s *Scheduler) Commits() int {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.commits
}

// Exclusive runs fn while no commit can interleave with it.
func (s *Scheduler) Exclusive(fn func()) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	fn()
}

func (s *Scheduler) commit(e *pendingEntry) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	started := time.Now()
	value := e.save.EditInfo.Value
	before := s.grid.capture(fmt.Sprintf("edit %s", domain.CellKey(e.original, e.header.ColIndex)))
	before.ValidationErrors = s.validation.Snapshot()
	before.TakenAt = s.clock.Now()

	if !s.grid.setCell(e.original, e.header, value) {
		s.logger.Warn("commit skipped", "row", e.original, "column", ColumnUniqueKey(e.header))
		s.metrics.Observe(context.Background(), OpCommit, false, time.Since(started))
		return
	}
	s.history.Record(before)
	s.validation.Apply(e.original, e.header, s.rules.Validate(value, e.header))
	s.commits++

	ok := true
	if s.persist != nil {
		if err := s.persist(context.Background()); err != nil {
			ok = false
			s.logger.Error("persist after commit failed", "row", e.original, "column", ColumnUniqueKey(e.header), "error", err)
		}
	}
	s.logger.Debug("cell committed", "row", e.original, "column", ColumnUniqueKey(e.header))
	s.metrics.Observe(context.Background(), OpCommit, ok, time.Since(started))
}
