package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"casegrid/internal/workbook"
	"casegrid/pkg/domain"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option { return func(s *Session) { s.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option { return func(s *Session) { s.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option { return func(s *Session) { s.tracer = t } }

// WithStorage sets the snapshot storage port. Without one nothing is persisted.
func WithStorage(kv KVStore) Option { return func(s *Session) { s.storage = kv } }

// WithClock replaces the clock driving debounce timers.
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// WithDebounce sets the delay between the last edit to a cell and its commit.
func WithDebounce(d time.Duration) Option { return func(s *Session) { s.debounce = d } }

// WithHistoryLimit bounds the undo and redo stacks.
func WithHistoryLimit(n int) Option { return func(s *Session) { s.historyLimit = n } }

// WithRules replaces the rules engine.
func WithRules(e *RulesEngine) Option { return func(s *Session) { s.rules = e } }

// WithOwner sets the user or session the persisted snapshot belongs to.
func WithOwner(owner string) Option { return func(s *Session) { s.owner = owner } }

// WithViewport sets row height and buffer for window computation.
func WithViewport(v Viewport) Option { return func(s *Session) { s.viewport = v } }

// WithRevalidateOptions tunes bulk revalidation.
func WithRevalidateOptions(o RevalidateOptions) Option {
	return func(s *Session) { s.revalidate = o }
}

// WithOperationTimeout bounds long-running operations.
func WithOperationTimeout(d time.Duration) Option { return func(s *Session) { s.opTimeout = d } }

// WithEnvironment sets the capabilities used to pick an import/export tier.
func WithEnvironment(env workbook.Environment) Option { return func(s *Session) { s.env = env } }

// WithWorker supplies the worker goroutine used by the worker tier.
func WithWorker(w *workbook.Worker) Option { return func(s *Session) { s.worker = w } }

// WithParseChunkSize sets the rows parsed between yields in the chunked tier.
func WithParseChunkSize(n int) Option { return func(s *Session) { s.parseChunk = n } }

// Session owns one grid and everything that mutates it. UIs read through the
// accessors and subscribe to Grid and Validation; all writes go through Edit,
// Undo, Redo, SetFilter and the data load paths.
type Session struct {
	owner        string
	logger       Logger
	metrics      MetricsRecorder
	tracer       Tracer
	storage      KVStore
	clock        Clock
	debounce     time.Duration
	historyLimit int
	rules        *RulesEngine
	viewport     Viewport
	revalidate   RevalidateOptions
	opTimeout    time.Duration
	env          workbook.Environment
	worker       *workbook.Worker
	parseChunk   int

	grid       *Grid
	validation *ValidationStore
	mapper     *IndexMapper
	history    *History
	scheduler  *Scheduler
	lock       *OperationLock

	settingsMu sync.Mutex
	extra      map[string]string
}

// NewSession constructs a session with an empty grid.
func NewSession(opts ...Option) *Session {
	s := &Session{
		owner:     "default",
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		clock:     RealClock(),
		viewport:  DefaultViewport(),
		opTimeout: DefaultOperationTimeout,
		env:       workbook.Environment{IdleScheduling: true},
		extra:     map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		s.rules = NewDefaultRulesEngine()
	}
	s.validation = NewValidationStore()
	s.mapper = NewIndexMapper(s.validation)
	s.grid = NewGrid(s.mapper)
	s.history = NewHistory(s.historyLimit)
	s.lock = NewOperationLock(s.opTimeout)
	var persist func(context.Context) error
	if s.storage != nil {
		persist = s.Save
	}
	s.scheduler = NewScheduler(SchedulerConfig{
		Grid:       s.grid,
		Validation: s.validation,
		History:    s.history,
		Mapper:     s.mapper,
		Rules:      s.rules,
		Clock:      s.clock,
		Debounce:   s.debounce,
		Logger:     s.logger,
		Metrics:    s.metrics,
		Persist:    persist,
	})
	return s
}

// Grid returns the row store.
func (s *Session) Grid() *Grid { return s.grid }

// Validation returns the validation store.
func (s *Session) Validation() *ValidationStore { return s.validation }

// Mapper returns the filter index mapper.
func (s *Session) Mapper() *IndexMapper { return s.mapper }

// History returns the undo/redo history.
func (s *Session) History() *History { return s.history }

// Scheduler returns the save scheduler.
func (s *Session) Scheduler() *Scheduler { return s.scheduler }

// Rules returns the rules engine.
func (s *Session) Rules() *RulesEngine { return s.rules }

// Owner returns the snapshot owner.
func (s *Session) Owner() string { return s.owner }

// Edit schedules a debounced commit of one cell edit.
func (s *Session) Edit(info domain.EditInfo) error {
	return s.scheduler.Edit(info)
}

// ProcessPendingSaves flushes every pending edit.
func (s *Session) ProcessPendingSaves() int {
	return s.scheduler.ProcessPendingSaves()
}

// CanUndo reports whether Undo would succeed.
func (s *Session) CanUndo() bool { return s.history.CanUndo() }

// CanRedo reports whether Redo would succeed.
func (s *Session) CanRedo() bool { return s.history.CanRedo() }

// Undo restores the state captured before the latest mutation. Pending edits
// are flushed first so the restored snapshot is consistent with them.
func (s *Session) Undo(ctx context.Context) error {
	return s.step(ctx, OpUndo, s.history.Undo)
}

// Redo re-applies the latest undone mutation.
func (s *Session) Redo(ctx context.Context) error {
	return s.step(ctx, OpRedo, s.history.Redo)
}

func (s *Session) step(ctx context.Context, op string, move func(HistorySnapshot) (HistorySnapshot, error)) error {
	return instrument(ctx, s.tracer, s.metrics, op, func(ctx context.Context) error {
		s.scheduler.ProcessPendingSaves()
		var err error
		s.scheduler.Exclusive(func() {
			s.scheduler.CancelAll()
			var snap HistorySnapshot
			snap, err = move(s.current(op))
			if err != nil {
				return
			}
			s.grid.restore(snap)
			s.validation.Replace(snap.ValidationErrors)
		})
		if err != nil {
			return err
		}
		s.logger.Debug("history step", "op", op, "rows", s.grid.RowCount())
		s.persist(ctx)
		return nil
	})
}

func (s *Session) current(action string) HistorySnapshot {
	snap := s.grid.capture(action)
	snap.ValidationErrors = s.validation.Snapshot()
	snap.TakenAt = s.clock.Now()
	return snap
}

// SetFilter applies a filter. Filter changes are view state and are not
// recorded in history.
func (s *Session) SetFilter(cfg domain.FilterConfig) {
	s.grid.setFilter(cfg)
}

// ClearFilter removes every filter.
func (s *Session) ClearFilter() {
	s.grid.setFilter(domain.NewFilterConfig())
}

// SetSetting stores a UI preference in the persisted snapshot.
func (s *Session) SetSetting(key, value string) {
	s.settingsMu.Lock()
	s.extra[key] = value
	s.settingsMu.Unlock()
}

// Setting returns a UI preference.
func (s *Session) Setting(key string) (string, bool) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	v, ok := s.extra[key]
	return v, ok
}

// Window computes the rows to render for a scroll position over the current view.
func (s *Session) Window(scrollTop, viewportHeight float64) Window {
	return s.viewport.Compute(scrollTop, viewportHeight, s.grid.VisibleCount())
}

// VisibleSlice returns the window and the rows inside it.
func (s *Session) VisibleSlice(scrollTop, viewportHeight float64) (Window, []domain.GridRow) {
	rows := s.grid.VisibleRows()
	w := s.viewport.Compute(scrollTop, viewportHeight, len(rows))
	return w, Slice(w, rows)
}

// HasError reports whether the cell at a virtual row and column is invalid.
func (s *Session) HasError(virtualIndex, colIndex int) bool {
	h, ok := s.grid.Header(colIndex)
	if !ok {
		return false
	}
	return s.mapper.HasError(virtualIndex, h)
}

// Dataset returns the current rows with the sheet description of the columns.
func (s *Session) Dataset() domain.Dataset {
	return domain.Dataset{
		Headers: domain.SheetHeadersFromGrid(s.grid.Headers()),
		Rows:    s.grid.Rows(),
	}
}

// ReplaceDataset loads new data (manual entry or import). The previous state
// is recorded for undo, the filter is reset and every cell is revalidated.
func (s *Session) ReplaceDataset(ctx context.Context, ds domain.Dataset) error {
	return s.loadGrid(ctx, domain.BuildGridHeaders(ds.Headers), ds.Rows)
}

// LoadGrid loads rows under column metadata supplied by the caller, in the
// caller's column order. Column types such as patientName are kept as given.
// It records, resets the filter and revalidates like ReplaceDataset.
func (s *Session) LoadGrid(ctx context.Context, headers []domain.GridHeader, rows []domain.GridRow) error {
	if err := checkHeaders(headers); err != nil {
		return err
	}
	return s.loadGrid(ctx, domain.CloneHeaders(headers), rows)
}

// ErrInvalidHeaders is returned by LoadGrid for unusable column metadata.
var ErrInvalidHeaders = errors.New("invalid column headers")

func checkHeaders(headers []domain.GridHeader) error {
	keys := make(map[string]struct{}, len(headers))
	cols := make(map[int]struct{}, len(headers))
	for _, h := range headers {
		if h.DataKey == "" {
			return fmt.Errorf("%w: column %d has no data key", ErrInvalidHeaders, h.ColIndex)
		}
		key := ColumnUniqueKey(h)
		if _, dup := keys[key]; dup {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidHeaders, key)
		}
		if _, dup := cols[h.ColIndex]; dup {
			return fmt.Errorf("%w: duplicate column index %d", ErrInvalidHeaders, h.ColIndex)
		}
		keys[key] = struct{}{}
		cols[h.ColIndex] = struct{}{}
	}
	return nil
}

func (s *Session) loadGrid(ctx context.Context, headers []domain.GridHeader, rows []domain.GridRow) error {
	return instrument(ctx, s.tracer, s.metrics, OpLoad, func(ctx context.Context) error {
		s.scheduler.ProcessPendingSaves()
		errs, err := ValidateAll(ctx, s.rules, rows, headers, s.revalidate)
		if err != nil {
			return fmt.Errorf("validate dataset: %w", err)
		}
		s.scheduler.Exclusive(func() {
			s.history.Record(s.current("load"))
			s.grid.replace(rows, headers)
			s.validation.Replace(errs)
		})
		s.logger.Info("dataset loaded", "rows", len(rows), "columns", len(headers), "errors", len(errs))
		s.persist(ctx)
		return nil
	})
}

// Revalidate re-runs every rule over the whole grid and swaps the error map
// in one step.
func (s *Session) Revalidate(ctx context.Context) error {
	return instrument(ctx, s.tracer, s.metrics, OpRevalidate, func(ctx context.Context) error {
		var err error
		s.scheduler.Exclusive(func() {
			err = s.validation.Revalidate(ctx, s.rules, s.grid.Rows(), s.grid.Headers(), s.revalidate)
		})
		return err
	})
}

// Import parses a workbook under the operation lock and loads it.
func (s *Session) Import(ctx context.Context, data []byte, progress workbook.ProgressFunc) (*workbook.ParseResult, error) {
	var res *workbook.ParseResult
	err := s.lock.Run(ctx, OpImport, func(ctx context.Context) error {
		return instrument(ctx, s.tracer, s.metrics, OpImport, func(ctx context.Context) error {
			strategy := s.strategy()
			s.logger.Debug("import started", "mode", strategy.Mode(), "bytes", len(data))
			var err error
			res, err = strategy.Parse(ctx, data, progress)
			if err != nil {
				return err
			}
			return s.ReplaceDataset(ctx, res.Dataset())
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Export encodes the current dataset under the operation lock.
func (s *Session) Export(ctx context.Context, format workbook.Format) ([]byte, error) {
	var out []byte
	err := s.ExportDataset(ctx, func(ctx context.Context, ds domain.Dataset) error {
		var err error
		out, err = s.strategy().Export(ctx, ds, format)
		return err
	})
	return out, err
}

// ExportDataset flushes pending edits and hands the current dataset to fn
// while holding the operation lock. It fails with ErrOperationInProgress when
// an import, export or copy is already running.
func (s *Session) ExportDataset(ctx context.Context, fn func(ctx context.Context, ds domain.Dataset) error) error {
	return s.lock.Run(ctx, OpExport, func(ctx context.Context) error {
		return instrument(ctx, s.tracer, s.metrics, OpExport, func(ctx context.Context) error {
			s.scheduler.ProcessPendingSaves()
			return fn(ctx, s.Dataset())
		})
	})
}

// Selection is an inclusive rectangle of virtual rows and columns.
type Selection struct {
	StartRow, EndRow int
	StartCol, EndCol int
}

// CopySelection encodes the selected cells as tab-separated text under the
// operation lock and, when sink is set, hands the text to it.
func (s *Session) CopySelection(ctx context.Context, sel Selection, sink workbook.ClipboardSink, opts workbook.CopyOptions) (string, error) {
	var text string
	err := s.lock.Run(ctx, OpCopy, func(ctx context.Context) error {
		return instrument(ctx, s.tracer, s.metrics, OpCopy, func(ctx context.Context) error {
			rows := s.grid.VisibleRows()
			headers := s.grid.Headers()
			var cells [][]string
			for r := max(0, sel.StartRow); r <= sel.EndRow && r < len(rows); r++ {
				var line []string
				for c := max(0, sel.StartCol); c <= sel.EndCol && c < len(headers); c++ {
					h := headers[c]
					if h.DataKey == domain.KeySerial {
						line = append(line, strconv.Itoa(s.mapper.OriginalIndex(r)+1))
						continue
					}
					line = append(line, rows[r].Value(h))
				}
				cells = append(cells, line)
			}
			var err error
			text, err = workbook.EncodeSelection(ctx, cells, opts)
			if err != nil {
				return err
			}
			if sink != nil {
				if err := sink.WriteAll(text); err != nil {
					return fmt.Errorf("write clipboard: %w", err)
				}
			}
			return nil
		})
	})
	return text, err
}

func (s *Session) strategy() workbook.Strategy {
	env := s.env
	if s.worker == nil || !s.worker.Running() {
		env.WorkersAvailable = false
	}
	return workbook.SelectStrategy(env, workbook.StrategyOptions{
		Worker:    s.worker,
		ChunkSize: s.parseChunk,
		Logger:    s.logger,
	})
}

// Snapshot builds the persisted record of the current state.
func (s *Session) Snapshot() PersistedSnapshot {
	s.settingsMu.Lock()
	extra := make(map[string]string, len(s.extra))
	for k, v := range s.extra {
		extra[k] = v
	}
	s.settingsMu.Unlock()
	return PersistedSnapshot{
		Version:   SnapshotVersion,
		Timestamp: s.clock.Now(),
		Headers:   s.grid.Headers(),
		Rows:      s.grid.Rows(),
		Settings: SnapshotSettings{
			Filter: filterToSettings(s.grid.Filter()),
			Extra:  extra,
		},
		ValidationState: ValidationState{
			Errors:  s.validation.Snapshot(),
			Version: s.validation.Version(),
		},
	}
}

// Save writes the persisted snapshot through the storage port.
func (s *Session) Save(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	started := time.Now()
	raw, err := EncodeSnapshot(s.Snapshot())
	if err == nil {
		err = s.storage.Set(ctx, SnapshotKey(s.owner), raw)
	}
	s.metrics.Observe(ctx, OpPersist, err == nil, time.Since(started))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// persist saves and logs failures; the in-memory state is kept either way.
func (s *Session) persist(ctx context.Context) {
	if err := s.Save(ctx); err != nil {
		s.logger.Error("persist snapshot failed", "owner", s.owner, "error", err)
	}
}

// Load restores the persisted snapshot. It reports false when none exists.
// History is cleared: a reload starts a new editing session.
func (s *Session) Load(ctx context.Context) (bool, error) {
	if s.storage == nil {
		return false, nil
	}
	var found bool
	err := instrument(ctx, s.tracer, s.metrics, OpLoad, func(ctx context.Context) error {
		raw, err := s.storage.Get(ctx, SnapshotKey(s.owner))
		if errors.Is(err, domain.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		snap, err := DecodeSnapshot(raw)
		if err != nil {
			return err
		}
		found = true
		s.scheduler.CancelAll()
		s.scheduler.Exclusive(func() {
			s.grid.restore(HistorySnapshot{
				Rows:        snap.Rows,
				Headers:     snap.Headers,
				FilterState: settingsToFilter(snap.Settings.Filter),
			})
			s.validation.Replace(snap.ValidationState.Errors)
			s.history.Clear()
		})
		s.settingsMu.Lock()
		s.extra = map[string]string{}
		for k, v := range snap.Settings.Extra {
			s.extra[k] = v
		}
		s.settingsMu.Unlock()
		return nil
	})
	return found, err
}

// Close flushes pending edits. The storage handle stays open; it belongs to
// the caller.
func (s *Session) Close() {
	if n := s.scheduler.ProcessPendingSaves(); n > 0 {
		s.logger.Debug("flushed pending edits on close", "count", n)
	}
}
