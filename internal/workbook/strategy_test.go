package workbook

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestSelectStrategyTiers(t *testing.T) {
	w := NewWorker(1)
	cases := []struct {
		name string
		env  Environment
		w    *Worker
		want Mode
	}{
		{"worker", Environment{WorkersAvailable: true, IdleScheduling: true}, w, ModeWorker},
		{"local file", Environment{WorkersAvailable: true, LocalFileOrigin: true, IdleScheduling: true}, w, ModeChunked},
		{"development", Environment{WorkersAvailable: true, Development: true, IdleScheduling: true}, w, ModeChunked},
		{"no worker", Environment{WorkersAvailable: true, IdleScheduling: true}, nil, ModeChunked},
		{"sync", Environment{}, w, ModeSync},
	}
	for _, tc := range cases {
		if got := SelectStrategy(tc.env, StrategyOptions{Worker: tc.w}).Mode(); got != tc.want {
			t.Fatalf("%s: mode %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestTiersProduceIdenticalResults(t *testing.T) {
	data := buildXLSX(t, clinicalFixture())
	ctx := context.Background()

	w := NewWorker(2)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	var yields int
	strategies := []Strategy{
		SyncStrategy{},
		&ChunkedStrategy{ChunkSize: 1, Yield: func() { yields++ }},
		&WorkerStrategy{Worker: w, ChunkSize: 2},
	}
	var results []*ParseResult
	for _, s := range strategies {
		res, err := s.Parse(ctx, append([]byte(nil), data...), nil)
		if err != nil {
			t.Fatalf("%s: %v", s.Mode(), err)
		}
		results = append(results, res)
	}
	for i := 1; i < len(results); i++ {
		if !reflect.DeepEqual(results[0], results[i]) {
			t.Fatalf("%s result differs from sync:\n%+v\n%+v", strategies[i].Mode(), results[i], results[0])
		}
	}
	if yields != 4 {
		t.Fatalf("expected a yield after each of 4 chunks, got %d", yields)
	}

	ds := sampleDataset()
	var outputs [][]byte
	for _, s := range strategies {
		out, err := s.Export(ctx, ds, FormatTSV)
		if err != nil {
			t.Fatalf("%s export: %v", s.Mode(), err)
		}
		outputs = append(outputs, out)
	}
	for i := 1; i < len(outputs); i++ {
		if string(outputs[0]) != string(outputs[i]) {
			t.Fatalf("%s export differs", strategies[i].Mode())
		}
	}
}

func TestChunkedParseReportsProgress(t *testing.T) {
	data := buildXLSX(t, clinicalFixture())
	var mu sync.Mutex
	var seen []int
	s := &ChunkedStrategy{ChunkSize: 3}
	if _, err := s.Parse(context.Background(), data, func(done, total int) {
		mu.Lock()
		seen = append(seen, done)
		mu.Unlock()
		if total != 4 {
			t.Errorf("total = %d", total)
		}
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(seen, []int{3, 4}) {
		t.Fatalf("progress = %v", seen)
	}
}

func TestChunkedParseHonoursCancellation(t *testing.T) {
	data := buildXLSX(t, clinicalFixture())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&ChunkedStrategy{ChunkSize: 1}).Parse(ctx, data, nil); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestWorkerStrategyFallsBackWhenNotStarted(t *testing.T) {
	data := buildXLSX(t, clinicalFixture())
	var logged bool
	s := &WorkerStrategy{Worker: NewWorker(1), Fallback: SyncStrategy{}, Logger: loggerFunc(func(string, ...any) { logged = true })}
	res, err := s.Parse(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("fallback should be silent, got %v", err)
	}
	if len(res.Rows) != 3 || !logged {
		t.Fatalf("expected fallback parse and debug log, got %d rows logged=%v", len(res.Rows), logged)
	}
}

func TestWorkerReportsParseErrors(t *testing.T) {
	w := NewWorker(1)
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()
	data := buildXLSX(t, [][]any{{"No.", "Is patient"}, {"", ""}})
	s := &WorkerStrategy{Worker: w}
	_, err := s.Parse(context.Background(), data, nil)
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("expected ParseError from worker, got %v", err)
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	w := NewWorker(1)
	w.Start()
	w.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if w.Running() {
		t.Fatalf("worker still running")
	}
}

func TestWorkerStopMidParseFallsBack(t *testing.T) {
	rows := clinicalFixture()[:2]
	for i := 0; i < 300; i++ {
		rows = append(rows, []any{i + 1, "1", fmt.Sprintf("case-%03d", i), "30", "1", "0", "", "1", "0", "", "1", "0"})
	}
	data := buildXLSX(t, rows)
	for run := 0; run < 10; run++ {
		w := NewWorker(1)
		w.Start()
		s := &WorkerStrategy{Worker: w, ChunkSize: 1, Fallback: SyncStrategy{}}
		res, err := s.Parse(context.Background(), append([]byte(nil), data...), func(done, total int) {
			if done == 5 {
				_ = w.Stop(context.Background())
			}
		})
		if err != nil {
			t.Fatalf("run %d: stopping the worker must not surface an error, got %v", run, err)
		}
		if len(res.Rows) != 300 {
			t.Fatalf("run %d: expected 300 rows from the fallback, got %d", run, len(res.Rows))
		}
	}
}

type loggerFunc func(string, ...any)

func (f loggerFunc) Debug(msg string, kv ...any) { f(msg, kv...) }
