package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultOperationTimeout bounds how long a long-running operation may hold the lock.
const DefaultOperationTimeout = 5 * time.Minute

// ErrOperationInProgress is returned when a long-running operation is started
// while another one holds the lock.
var ErrOperationInProgress = errors.New("another operation is in progress")

// OperationLock admits one named long-running operation (import, export,
// copy) at a time. Contenders are rejected, never queued.
type OperationLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration

	mu      sync.Mutex
	current string
}

// NewOperationLock constructs a lock whose holders are cancelled after timeout.
// A non-positive timeout disables the bound.
func NewOperationLock(timeout time.Duration) *OperationLock {
	return &OperationLock{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Run executes fn while holding the lock under the given name.
func (l *OperationLock) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !l.sem.TryAcquire(1) {
		holder, _ := l.Current()
		return fmt.Errorf("%w: %s blocked by %s", ErrOperationInProgress, name, holder)
	}
	l.mu.Lock()
	l.current = name
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.current = ""
		l.mu.Unlock()
		l.sem.Release(1)
	}()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// Current returns the name of the operation holding the lock.
func (l *OperationLock) Current() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.current != ""
}
