// Package exports renders case datasets into stored artifacts on a background
// worker.
package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"casegrid/internal/blob"
	"casegrid/internal/workbook"
	"casegrid/pkg/domain"
)

// Format names an artifact encoding.
type Format string

const (
	FormatXLSX Format = Format(workbook.FormatXLSX)
	FormatTSV  Format = Format(workbook.FormatTSV)
	FormatJSON Format = "json"
)

// ContentType returns the MIME type stored with the artifact.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return workbook.Format(f).ContentType()
}

func (f Format) valid() bool {
	return f == FormatXLSX || f == FormatTSV || f == FormatJSON
}

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportArtifact is one stored rendering of the dataset.
type ExportArtifact struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	URL         string    `json:"url,omitempty"`
	Rows        int       `json:"rows"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord tracks an export request and its artifacts.
type ExportRecord struct {
	ID          string           `json:"id"`
	Formats     []Format         `json:"formats"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	RequestedBy string           `json:"requested_by"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ExportInput is an enqueue request.
type ExportInput struct {
	Formats     []Format
	RequestedBy string
	Reason      string
}

// DatasetSource hands the rows to export to fn, keeping other long-running
// operations out until fn returns. *core.Session satisfies it.
type DatasetSource interface {
	ExportDataset(ctx context.Context, fn func(ctx context.Context, ds domain.Dataset) error) error
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures the audit trail of one status change.
type AuditEntry struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Actor      string            `json:"actor"`
	ExportID   string            `json:"export_id"`
	Status     ExportStatus      `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

const auditAction = "case_export"

// ErrQueueFull is returned when the worker cannot accept another job.
var ErrQueueFull = errors.New("export queue full")

// DefaultQueueSize bounds pending jobs.
const DefaultQueueSize = 32

// Option customises a Worker.
type Option func(*Worker)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithPresignExpiry sets the lifetime of download URLs for stores that can
// sign them.
func WithPresignExpiry(d time.Duration) Option { return func(w *Worker) { w.presignExpiry = d } }

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// Worker renders exports asynchronously.
type Worker struct {
	source DatasetSource
	store  blob.Store
	audit  AuditLogger

	presignExpiry time.Duration
	now           func() time.Time

	queue     chan string
	enqueueMu sync.Mutex
	mu        sync.RWMutex
	jobs      map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker. audit may be nil.
func NewWorker(source DatasetSource, store blob.Store, audit AuditLogger, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:        source,
		store:         store,
		audit:         audit,
		presignExpiry: 15 * time.Minute,
		now:           func() time.Time { return time.Now().UTC() },
		queue:         make(chan string, DefaultQueueSize),
		jobs:          make(map[string]*ExportRecord),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// EnqueueExport validates the request and schedules it. The returned record
// is in the queued state.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.source == nil || w.store == nil {
		return ExportRecord{}, fmt.Errorf("export worker not configured")
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatXLSX}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		if !f.valid() {
			return ExportRecord{}, fmt.Errorf("unsupported export format %q", f)
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}

	now := w.now()
	record := ExportRecord{
		ID:          uuid.NewString(),
		Formats:     uniq,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	// The queued entry is audited only once the push succeeds; process
	// takes enqueueMu before auditing running so the order holds.
	w.enqueueMu.Lock()
	defer w.enqueueMu.Unlock()
	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return ExportRecord{}, ErrQueueFull
	}
	w.record(ctx, record.ID, ExportStatusQueued, input.Reason, nil)
	return queued, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

// Wait blocks until the job leaves the queued and running states.
func (w *Worker) Wait(ctx context.Context, id string) (ExportRecord, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		record, ok := w.GetExport(id)
		if ok && (record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed) {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return record, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(id string) {
	formats, ok := w.formatsFor(id)
	if !ok {
		return
	}
	w.enqueueMu.Lock()
	w.updateStatus(id, ExportStatusRunning, "")
	w.enqueueMu.Unlock()

	artifacts := make([]ExportArtifact, 0, len(formats))
	err := w.source.ExportDataset(w.ctx, func(ctx context.Context, ds domain.Dataset) error {
		for _, format := range formats {
			artifact, err := w.render(ctx, id, format, ds)
			if err != nil {
				return err
			}
			artifacts = append(artifacts, artifact)
		}
		return nil
	})
	if err != nil {
		w.fail(id, err.Error())
		return
	}
	w.complete(id, artifacts)
}

func (w *Worker) render(ctx context.Context, jobID string, format Format, ds domain.Dataset) (ExportArtifact, error) {
	payload, err := encode(ds, format)
	if err != nil {
		return ExportArtifact{}, fmt.Errorf("render %s: %w", format, err)
	}
	artifactID := uuid.NewString()
	key := fmt.Sprintf("exports/%s/%s.%s", jobID, artifactID, format)
	info, err := w.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: format.ContentType(),
		Metadata: map[string]string{
			"rows":      strconv.Itoa(len(ds.Rows)),
			"export-id": jobID,
		},
	})
	if err != nil {
		return ExportArtifact{}, fmt.Errorf("store artifact: %w", err)
	}
	artifact := ExportArtifact{
		ID:          artifactID,
		Key:         info.Key,
		Format:      format,
		ContentType: format.ContentType(),
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		Rows:        len(ds.Rows),
		CreatedAt:   w.now(),
	}
	if p, ok := w.store.(blob.Presigner); ok {
		url, err := p.PresignGet(ctx, key, w.presignExpiry)
		if err != nil {
			return ExportArtifact{}, fmt.Errorf("presign artifact: %w", err)
		}
		artifact.URL = url
	}
	return artifact, nil
}

func encode(ds domain.Dataset, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.Marshal(ds)
	}
	return workbook.Encode(ds, workbook.Format(format))
}

func (w *Worker) formatsFor(id string) ([]Format, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return nil, false
	}
	return append([]Format(nil), record.Formats...), true
}

func (w *Worker) updateStatus(id string, status ExportStatus, message string) {
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = w.now()
	}
	w.mu.Unlock()
	w.record(w.ctx, id, status, "", nil)
}

func (w *Worker) complete(id string, artifacts []ExportArtifact) {
	now := w.now()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, ExportStatusSucceeded, "", map[string]string{"artifacts": strconv.Itoa(len(artifacts))})
}

func (w *Worker) fail(id, reason string) {
	now := w.now()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, ExportStatusFailed, "", map[string]string{"error": reason})
}

func (w *Worker) record(ctx context.Context, id string, status ExportStatus, reason string, meta map[string]string) {
	if w.audit == nil {
		return
	}
	w.mu.RLock()
	actor := ""
	if record, ok := w.jobs[id]; ok {
		actor = record.RequestedBy
	}
	w.mu.RUnlock()
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     auditAction,
		Actor:      actor,
		ExportID:   id,
		Status:     status,
		Reason:     reason,
		Metadata:   meta,
		OccurredAt: w.now(),
	})
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
