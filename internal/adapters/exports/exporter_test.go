package exports

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"casegrid/internal/blob"
	"casegrid/internal/core"
	"casegrid/internal/workbook"
	"casegrid/pkg/domain"
)

type staticSource struct{ ds domain.Dataset }

func (s staticSource) ExportDataset(ctx context.Context, fn func(context.Context, domain.Dataset) error) error {
	return fn(ctx, s.ds.Clone())
}

func sampleSource() staticSource {
	headers := domain.SheetHeaders{Basic: []string{"Name"}, Clinical: []string{"Fever"}, Diet: []string{"Rice"}}
	rows := make([]domain.GridRow, 3)
	for i := range rows {
		rows[i] = domain.NewGridRow(1, 1, 1)
		rows[i].IsPatient = "1"
		rows[i].BasicInfo[0] = "case-" + string(rune('a'+i))
		rows[i].ClinicalSymptoms[0] = "0"
		rows[i].DietInfo[0] = "1"
	}
	return staticSource{ds: domain.Dataset{Headers: headers, Rows: rows}}
}

func openStore(t *testing.T, driver blob.Driver) blob.Store {
	t.Helper()
	store, err := blob.Open(context.Background(), blob.Config{Driver: driver, FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	return store
}

func waitDone(t *testing.T, w *Worker, id string) ExportRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := w.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait for export %s: %v (last status %s)", id, err, record.Status)
	}
	return record
}

func TestWorkerRendersEveryFormat(t *testing.T) {
	store := openStore(t, blob.DriverFilesystem)
	audit := &MemoryAuditLog{}
	w := NewWorker(sampleSource(), store, audit)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	queued, err := w.EnqueueExport(context.Background(), ExportInput{
		Formats:     []Format{FormatXLSX, FormatTSV, FormatJSON, FormatTSV},
		RequestedBy: "epi-team",
		Reason:      "weekly report",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != ExportStatusQueued || len(queued.Formats) != 3 {
		t.Fatalf("unexpected queued record %+v", queued)
	}

	record := waitDone(t, w, queued.ID)
	if record.Status != ExportStatusSucceeded {
		t.Fatalf("expected success, got %s: %s", record.Status, record.Error)
	}
	if len(record.Artifacts) != 3 || record.CompletedAt == nil {
		t.Fatalf("expected three artifacts, got %+v", record)
	}
	for _, a := range record.Artifacts {
		want := "exports/" + record.ID + "/" + a.ID + "." + string(a.Format)
		if a.Key != want {
			t.Fatalf("artifact key %s, want %s", a.Key, want)
		}
		if a.Rows != 3 || a.SizeBytes == 0 || !strings.HasPrefix(a.URL, "file://") {
			t.Fatalf("unexpected artifact %+v", a)
		}
	}

	jsonArtifact := record.Artifacts[2]
	info, rc, err := store.Get(context.Background(), jsonArtifact.Key)
	if err != nil {
		t.Fatalf("get json artifact: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	var ds domain.Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		t.Fatalf("decode json artifact: %v", err)
	}
	if len(ds.Rows) != 3 || ds.Rows[1].BasicInfo[0] != "case-b" {
		t.Fatalf("json artifact lost rows: %+v", ds.Rows)
	}
	if info.ContentType != "application/json" || info.Metadata["export-id"] != record.ID {
		t.Fatalf("unexpected stored info %+v", info)
	}

	tsvArtifact := record.Artifacts[1]
	_, rc2, err := store.Get(context.Background(), tsvArtifact.Key)
	if err != nil {
		t.Fatalf("get tsv artifact: %v", err)
	}
	defer rc2.Close()
	tsv, _ := io.ReadAll(rc2)
	if !strings.Contains(string(tsv), "case-c") {
		t.Fatalf("tsv artifact missing data: %q", tsv)
	}

	entries := audit.Entries()
	var statuses []ExportStatus
	for _, e := range entries {
		if e.ExportID != record.ID || e.Actor != "epi-team" || e.Action != auditAction {
			t.Fatalf("unexpected audit entry %+v", e)
		}
		statuses = append(statuses, e.Status)
	}
	want := []ExportStatus{ExportStatusQueued, ExportStatusRunning, ExportStatusSucceeded}
	if len(statuses) != len(want) {
		t.Fatalf("audit statuses %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("audit statuses %v, want %v", statuses, want)
		}
	}
	if entries[0].Reason != "weekly report" {
		t.Fatalf("queued entry should carry the reason: %+v", entries[0])
	}
}

func TestEnqueueDefaultsToXLSX(t *testing.T) {
	w := NewWorker(sampleSource(), openStore(t, blob.DriverMemory), nil)
	record, err := w.EnqueueExport(context.Background(), ExportInput{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(record.Formats) != 1 || record.Formats[0] != FormatXLSX {
		t.Fatalf("expected xlsx default, got %v", record.Formats)
	}
}

func TestEnqueueRejectsUnknownFormat(t *testing.T) {
	w := NewWorker(sampleSource(), openStore(t, blob.DriverMemory), nil)
	if _, err := w.EnqueueExport(context.Background(), ExportInput{Formats: []Format{"pdf"}}); err == nil || !strings.Contains(err.Error(), "pdf") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestEnqueueRequiresConfiguration(t *testing.T) {
	w := NewWorker(nil, nil, nil)
	if _, err := w.EnqueueExport(context.Background(), ExportInput{}); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	w := NewWorker(sampleSource(), openStore(t, blob.DriverMemory), nil, WithQueueSize(1))
	first, err := w.EnqueueExport(context.Background(), ExportInput{})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := w.EnqueueExport(context.Background(), ExportInput{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, ok := w.GetExport(first.ID); !ok {
		t.Fatalf("first job should remain registered")
	}
}

type failingStore struct{ blob.Store }

func (failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func TestWorkerRecordsStoreFailure(t *testing.T) {
	audit := &MemoryAuditLog{}
	w := NewWorker(sampleSource(), failingStore{openStore(t, blob.DriverMemory)}, audit)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	queued, err := w.EnqueueExport(context.Background(), ExportInput{Formats: []Format{FormatTSV}, RequestedBy: "analyst"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := waitDone(t, w, queued.ID)
	if record.Status != ExportStatusFailed || !strings.Contains(record.Error, "disk full") {
		t.Fatalf("expected failure carrying the store error, got %+v", record)
	}
	entries := audit.Entries()
	last := entries[len(entries)-1]
	if last.Status != ExportStatusFailed || !strings.Contains(last.Metadata["error"], "disk full") {
		t.Fatalf("unexpected final audit entry %+v", last)
	}
}

func TestGetExportReturnsCopy(t *testing.T) {
	w := NewWorker(sampleSource(), openStore(t, blob.DriverMemory), nil)
	record, err := w.EnqueueExport(context.Background(), ExportInput{Formats: []Format{FormatJSON}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record.Formats[0] = FormatTSV
	got, ok := w.GetExport(record.ID)
	if !ok || got.Formats[0] != FormatJSON {
		t.Fatalf("record aliased caller slice: %+v", got)
	}
	if _, ok := w.GetExport("missing"); ok {
		t.Fatalf("unknown id should not be found")
	}
}

func TestStopHonoursContext(t *testing.T) {
	w := NewWorker(sampleSource(), openStore(t, blob.DriverMemory), nil)
	w.Start()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingSink) WriteAll(string) error {
	close(b.entered)
	<-b.release
	return nil
}

func sessionWithRows(t *testing.T, opts ...core.Option) *core.Session {
	t.Helper()
	s := core.NewSession(opts...)
	src := sampleSource()
	if err := s.ReplaceDataset(context.Background(), src.ds); err != nil {
		t.Fatalf("load rows: %v", err)
	}
	return s
}

func TestWorkerRejectedWhileSessionBusy(t *testing.T) {
	s := sessionWithRows(t)
	sink := blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	copied := make(chan error, 1)
	go func() {
		_, err := s.CopySelection(context.Background(), core.Selection{EndRow: 0, EndCol: 0}, sink, workbook.CopyOptions{})
		copied <- err
	}()
	<-sink.entered

	store := openStore(t, blob.DriverMemory)
	w := NewWorker(s, store, nil)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	queued, err := w.EnqueueExport(context.Background(), ExportInput{Formats: []Format{FormatTSV}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := waitDone(t, w, queued.ID)
	close(sink.release)
	if err := <-copied; err != nil {
		t.Fatalf("copy: %v", err)
	}
	if record.Status != ExportStatusFailed || !strings.Contains(record.Error, core.ErrOperationInProgress.Error()) {
		t.Fatalf("export should fail while a copy holds the session, got %+v", record)
	}
	if list, _ := store.List(context.Background(), "exports/"); len(list) != 0 {
		t.Fatalf("no artifact should be stored, got %+v", list)
	}
}

func TestWorkerExportsPendingEdits(t *testing.T) {
	s := sessionWithRows(t, core.WithDebounce(time.Hour))
	var name domain.GridHeader
	for _, h := range s.Grid().Headers() {
		if h.DataKey == domain.KeyBasicInfo && h.Index() == 0 {
			name = h
		}
	}
	if err := s.Edit(domain.EditInfo{
		Cell:          domain.CellRef{RowIndex: 1, ColIndex: name.ColIndex, DataKey: name.DataKey, CellIndex: name.CellIndex},
		OriginalValue: "case-b",
		Value:         "Kim",
		ColumnMeta:    name,
		HasChanged:    true,
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	store := openStore(t, blob.DriverMemory)
	w := NewWorker(s, store, nil)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	queued, err := w.EnqueueExport(context.Background(), ExportInput{Formats: []Format{FormatJSON}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := waitDone(t, w, queued.ID)
	if record.Status != ExportStatusSucceeded {
		t.Fatalf("expected success, got %+v", record)
	}
	_, rc, err := store.Get(context.Background(), record.Artifacts[0].Key)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	defer rc.Close()
	var ds domain.Dataset
	if err := json.NewDecoder(rc).Decode(&ds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ds.Rows[1].BasicInfo[0] != "Kim" {
		t.Fatalf("pending edit missing from export: %+v", ds.Rows[1].BasicInfo)
	}
	if s.Scheduler().PendingCount() != 0 {
		t.Fatalf("export should flush pending edits")
	}
}

func TestQueueFullIsNotAudited(t *testing.T) {
	audit := &MemoryAuditLog{}
	w := NewWorker(sampleSource(), openStore(t, blob.DriverMemory), audit, WithQueueSize(1))
	first, err := w.EnqueueExport(context.Background(), ExportInput{})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := w.EnqueueExport(context.Background(), ExportInput{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	entries := audit.Entries()
	if len(entries) != 1 || entries[0].ExportID != first.ID {
		t.Fatalf("only the accepted job should be audited, got %+v", entries)
	}
}
