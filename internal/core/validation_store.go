package core

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"casegrid/pkg/domain"
)

// DefaultRevalidateChunkSize is the number of rows validated per chunk during
// bulk revalidation.
const DefaultRevalidateChunkSize = 500

// ValidationStore holds the current validation errors keyed by
// "{originalRowIndex}_{uniqueKey}". It never fails; it only stores and answers.
type ValidationStore struct {
	mu        sync.RWMutex
	errors    map[string]domain.ValidationError
	version   int64
	now       func() time.Time
	listeners map[int]func(version int64)
	nextID    int
}

// NewValidationStore constructs an empty store.
func NewValidationStore() *ValidationStore {
	return &ValidationStore{
		errors:    make(map[string]domain.ValidationError),
		now:       func() time.Time { return time.Now().UTC() },
		listeners: make(map[int]func(int64)),
	}
}

// Set records an error for a cell.
func (s *ValidationStore) Set(rowIndex int, uniqueKey, message string) {
	s.mu.Lock()
	s.errors[domain.ErrorKey(rowIndex, uniqueKey)] = domain.ValidationError{Message: message, Timestamp: s.now()}
	v := s.bumpLocked()
	s.mu.Unlock()
	s.notify(v)
}

// Clear removes the error for a cell, if any.
func (s *ValidationStore) Clear(rowIndex int, uniqueKey string) {
	key := domain.ErrorKey(rowIndex, uniqueKey)
	s.mu.Lock()
	if _, ok := s.errors[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.errors, key)
	v := s.bumpLocked()
	s.mu.Unlock()
	s.notify(v)
}

// Apply stores or clears the error for a cell according to a verdict.
func (s *ValidationStore) Apply(rowIndex int, h domain.GridHeader, verdict Verdict) {
	if verdict.Valid {
		s.Clear(rowIndex, ColumnUniqueKey(h))
		return
	}
	s.Set(rowIndex, ColumnUniqueKey(h), verdict.Message)
}

// Get returns the error recorded for a cell.
func (s *ValidationStore) Get(rowIndex int, uniqueKey string) (domain.ValidationError, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.errors[domain.ErrorKey(rowIndex, uniqueKey)]
	return e, ok
}

// Has reports whether a cell holds an error.
func (s *ValidationStore) Has(rowIndex int, uniqueKey string) bool {
	_, ok := s.Get(rowIndex, uniqueKey)
	return ok
}

// ErrorsForRow returns the errors of one row keyed by column unique key.
func (s *ValidationStore) ErrorsForRow(rowIndex int) map[string]domain.ValidationError {
	prefix := strconv.Itoa(rowIndex) + "_"
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.ValidationError)
	for k, e := range s.errors {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = e
		}
	}
	return out
}

// Count returns the number of invalid cells.
func (s *ValidationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.errors)
}

// Version increases on every change.
func (s *ValidationStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a copy of the error map.
func (s *ValidationStore) Snapshot() map[string]domain.ValidationError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneErrors(s.errors)
}

// Replace swaps the whole error map in one step.
func (s *ValidationStore) Replace(errs map[string]domain.ValidationError) {
	next := domain.CloneErrors(errs)
	s.mu.Lock()
	s.errors = next
	v := s.bumpLocked()
	s.mu.Unlock()
	s.notify(v)
}

// Reset drops every error.
func (s *ValidationStore) Reset() {
	s.Replace(nil)
}

// Subscribe registers fn to be called with the new version after each change.
// The returned function unsubscribes.
func (s *ValidationStore) Subscribe(fn func(version int64)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *ValidationStore) bumpLocked() int64 {
	s.version++
	return s.version
}

func (s *ValidationStore) notify(version int64) {
	s.mu.RLock()
	fns := make([]func(int64), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(version)
	}
}

// RevalidateOptions tunes bulk revalidation.
type RevalidateOptions struct {
	// ChunkSize is the number of rows per unit of work.
	ChunkSize int
	// Concurrency bounds the number of chunks validated at once.
	Concurrency int
	// Progress, when set, receives the number of rows done so far. It may be
	// called from several goroutines.
	Progress func(done, total int)
}

// Revalidate re-runs every rule over every (row, column) pair and then replaces
// the error map in one step. Partial results are never published: on
// cancellation the store is left untouched.
func (s *ValidationStore) Revalidate(ctx context.Context, engine *RulesEngine, rows []domain.GridRow, headers []domain.GridHeader, opts RevalidateOptions) error {
	errs, err := ValidateAll(ctx, engine, rows, headers, opts)
	if err != nil {
		return err
	}
	s.Replace(errs)
	return nil
}

// ValidateAll computes the full error map for a dataset in chunks.
func ValidateAll(ctx context.Context, engine *RulesEngine, rows []domain.GridRow, headers []domain.GridHeader, opts RevalidateOptions) (map[string]domain.ValidationError, error) {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultRevalidateChunkSize
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	now := time.Now().UTC()
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = ColumnUniqueKey(h)
	}

	nChunks := (len(rows) + chunk - 1) / chunk
	results := make([]map[string]domain.ValidationError, nChunks)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for c := 0; c < nChunks; c++ {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			from := c * chunk
			to := min(from+chunk, len(rows))
			local := make(map[string]domain.ValidationError)
			for r := from; r < to; r++ {
				for i, h := range headers {
					verdict := engine.Validate(rows[r].Value(h), h)
					if !verdict.Valid {
						local[domain.ErrorKey(r, keys[i])] = domain.ValidationError{Message: verdict.Message, Timestamp: now}
					}
				}
			}
			results[c] = local
			n := done.Add(int64(to - from))
			if opts.Progress != nil {
				opts.Progress(int(n), len(rows))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.ValidationError)
	for _, local := range results {
		for k, v := range local {
			out[k] = v
		}
	}
	return out, nil
}
