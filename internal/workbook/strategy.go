package workbook

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"casegrid/pkg/domain"
)

// DefaultParseChunk is the number of data rows parsed between yields.
const DefaultParseChunk = 100

// Mode names a processing tier.
type Mode string

const (
	ModeWorker  Mode = "worker"
	ModeChunked Mode = "chunked"
	ModeSync    Mode = "sync"
)

// ProgressFunc receives the number of data rows processed so far.
type ProgressFunc func(done, total int)

// Logger is the logging surface the pipeline reports tier fallbacks through.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Environment describes the capabilities probed before each operation.
type Environment struct {
	// WorkersAvailable is set when a dedicated worker goroutine may be used.
	WorkersAvailable bool
	// LocalFileOrigin is set when input comes straight from a local file
	// handle rather than an uploaded buffer.
	LocalFileOrigin bool
	// Development is set for local development and test runs.
	Development bool
	// IdleScheduling is set when the caller can tolerate cooperative
	// yielding between chunks.
	IdleScheduling bool
}

// Strategy is one processing tier. Every tier produces identical results for
// the same input.
type Strategy interface {
	Mode() Mode
	Parse(ctx context.Context, data []byte, progress ProgressFunc) (*ParseResult, error)
	Export(ctx context.Context, ds domain.Dataset, format Format) ([]byte, error)
}

// StrategyOptions configures SelectStrategy.
type StrategyOptions struct {
	Worker    *Worker
	ChunkSize int
	Logger    Logger
}

// SelectStrategy picks the tier for one operation: the worker when the
// environment allows it, chunked processing when the caller can yield, and
// synchronous processing otherwise.
func SelectStrategy(env Environment, opts StrategyOptions) Strategy {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	chunked := &ChunkedStrategy{ChunkSize: opts.ChunkSize}
	switch {
	case env.WorkersAvailable && !env.LocalFileOrigin && !env.Development && opts.Worker != nil:
		return &WorkerStrategy{Worker: opts.Worker, ChunkSize: opts.ChunkSize, Fallback: chunked, Logger: logger}
	case env.IdleScheduling:
		return chunked
	default:
		return SyncStrategy{}
	}
}

// SyncStrategy runs to completion without yielding.
type SyncStrategy struct{}

// Mode implements Strategy.
func (SyncStrategy) Mode() Mode { return ModeSync }

// Parse implements Strategy.
func (SyncStrategy) Parse(_ context.Context, data []byte, progress ProgressFunc) (*ParseResult, error) {
	cells, err := ReadCells(data)
	if err != nil {
		return nil, err
	}
	res, err := ParseCells(cells)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		n := max(0, len(cells)-2)
		progress(n, n)
	}
	return res, nil
}

// Export implements Strategy.
func (SyncStrategy) Export(_ context.Context, ds domain.Dataset, format Format) ([]byte, error) {
	return Encode(ds, format)
}

// ChunkedStrategy parses ChunkSize rows at a time, yielding the processor and
// reporting progress between chunks.
type ChunkedStrategy struct {
	ChunkSize int
	// Yield runs between chunks. It defaults to runtime.Gosched.
	Yield func()
}

// Mode implements Strategy.
func (*ChunkedStrategy) Mode() Mode { return ModeChunked }

// Parse implements Strategy.
func (s *ChunkedStrategy) Parse(ctx context.Context, data []byte, progress ProgressFunc) (*ParseResult, error) {
	cells, err := ReadCells(data)
	if err != nil {
		return nil, err
	}
	return parseChunked(ctx, cells, s.ChunkSize, progress, s.Yield)
}

// Export implements Strategy. Encoding is a single pass; the context is
// checked before it starts.
func (s *ChunkedStrategy) Export(ctx context.Context, ds domain.Dataset, format Format) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Encode(ds, format)
}

func parseChunked(ctx context.Context, cells [][]string, chunk int, progress ProgressFunc, yield func()) (*ParseResult, error) {
	if chunk <= 0 {
		chunk = DefaultParseChunk
	}
	if yield == nil {
		yield = runtime.Gosched
	}
	l, err := detectLayout(cells)
	if err != nil {
		return nil, err
	}
	total := len(cells) - 2
	var rows []domain.GridRow
	dropped := 0
	for from := 2; from < len(cells); from += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		to := min(from+chunk, len(cells))
		var d int
		rows, d = l.parseRange(cells, from, to, rows)
		dropped += d
		if progress != nil {
			progress(to-2, total)
		}
		yield()
	}
	return l.result(rows, dropped), nil
}

// WorkerStrategy hands the operation to a Worker. When the worker cannot
// take the job the operation silently runs on Fallback instead.
type WorkerStrategy struct {
	Worker    *Worker
	ChunkSize int
	Fallback  Strategy
	Logger    Logger
}

// Mode implements Strategy.
func (*WorkerStrategy) Mode() Mode { return ModeWorker }

func (s *WorkerStrategy) fallback() Strategy {
	if s.Fallback != nil {
		return s.Fallback
	}
	return SyncStrategy{}
}

func (s *WorkerStrategy) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return noopLogger{}
}

// Parse implements Strategy.
func (s *WorkerStrategy) Parse(ctx context.Context, data []byte, progress ProgressFunc) (*ParseResult, error) {
	replies, err := s.Worker.SubmitParse(ctx, data, s.ChunkSize)
	if err != nil {
		s.logger().Debug("worker unavailable, falling back", "mode", s.fallback().Mode(), "error", err)
		return s.fallback().Parse(ctx, data, progress)
	}
	msg, err := await(ctx, replies, progress)
	if errors.Is(err, ErrWorkerUnavailable) {
		s.logger().Debug("worker stopped, falling back", "mode", s.fallback().Mode(), "error", err)
		return s.fallback().Parse(ctx, data, progress)
	}
	if err != nil {
		return nil, err
	}
	return msg.Result, nil
}

// Export implements Strategy.
func (s *WorkerStrategy) Export(ctx context.Context, ds domain.Dataset, format Format) ([]byte, error) {
	replies, err := s.Worker.SubmitExport(ctx, ds, format)
	if err != nil {
		s.logger().Debug("worker unavailable, falling back", "mode", s.fallback().Mode(), "error", err)
		return s.fallback().Export(ctx, ds, format)
	}
	msg, err := await(ctx, replies, nil)
	if errors.Is(err, ErrWorkerUnavailable) {
		return s.fallback().Export(ctx, ds, format)
	}
	if err != nil {
		return nil, err
	}
	return msg.Output, nil
}

func await(ctx context.Context, replies <-chan Message, progress ProgressFunc) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case msg, ok := <-replies:
			if !ok {
				return Message{}, fmt.Errorf("%w: reply channel closed", ErrWorkerUnavailable)
			}
			switch msg.Type {
			case MessageProgress:
				if progress != nil {
					progress(msg.Done, msg.Total)
				}
			case MessageDone:
				if progress != nil {
					progress(msg.Done, msg.Total)
				}
				return msg, nil
			case MessageError:
				return Message{}, msg.Err
			}
		}
	}
}
