package workbook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"casegrid/pkg/domain"
)

// ErrWorkerUnavailable is returned by Submit when the worker is not running
// or its queue is full.
var ErrWorkerUnavailable = errors.New("workbook: worker unavailable")

// MessageType tags worker replies.
type MessageType string

const (
	MessageProgress MessageType = "progress"
	MessageDone     MessageType = "done"
	MessageError    MessageType = "error"
)

// Message is a reply from the worker goroutine. The worker shares no state
// with the caller; everything travels in messages.
type Message struct {
	Type   MessageType
	Done   int
	Total  int
	Result *ParseResult
	Output []byte
	Err    error
}

type jobKind int

const (
	jobParse jobKind = iota
	jobExport
)

type job struct {
	ctx     context.Context
	kind    jobKind
	data    []byte
	dataset domain.Dataset
	format  Format
	chunk   int
	reply   chan Message
}

// Worker runs parse and export jobs on a dedicated goroutine.
type Worker struct {
	queue chan job

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker with the given queue capacity.
func NewWorker(queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 4
	}
	return &Worker{queue: make(chan job, queueSize)}
}

// Start begins processing jobs.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true
	w.wg.Add(1)
	go w.loop(w.ctx)
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()
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

// Running reports whether Start has been called without a matching Stop.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case j := <-w.queue:
			w.process(ctx, j)
		}
	}
}

// drain rejects jobs still queued when the worker stops.
func (w *Worker) drain() {
	for {
		select {
		case j := <-w.queue:
			j.reply <- Message{Type: MessageError, Err: fmt.Errorf("%w: stopped", ErrWorkerUnavailable)}
			close(j.reply)
		default:
			return
		}
	}
}

// SubmitParse hands data to the worker. The caller must not touch data
// afterwards. Replies arrive on the returned channel, which is closed after
// the final done or error message.
func (w *Worker) SubmitParse(ctx context.Context, data []byte, chunk int) (<-chan Message, error) {
	return w.submit(job{ctx: ctx, kind: jobParse, data: data, chunk: chunk})
}

// SubmitExport hands a dataset copy to the worker for encoding.
func (w *Worker) SubmitExport(ctx context.Context, ds domain.Dataset, format Format) (<-chan Message, error) {
	return w.submit(job{ctx: ctx, kind: jobExport, dataset: ds.Clone(), format: format})
}

func (w *Worker) submit(j job) (<-chan Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil, fmt.Errorf("%w: not started", ErrWorkerUnavailable)
	}
	j.reply = make(chan Message, 8)
	select {
	case w.queue <- j:
		return j.reply, nil
	default:
		return nil, fmt.Errorf("%w: queue full", ErrWorkerUnavailable)
	}
}

func (w *Worker) process(workerCtx context.Context, j job) {
	defer close(j.reply)
	ctx, cancel := mergeContexts(workerCtx, j.ctx)
	defer cancel()

	send := func(m Message) bool {
		select {
		case j.reply <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// A job cut short by Stop reports nothing: the closed reply channel
	// reads as ErrWorkerUnavailable and the caller falls back.
	fail := func(err error) {
		if workerCtx.Err() != nil && (j.ctx == nil || j.ctx.Err() == nil) {
			return
		}
		send(Message{Type: MessageError, Err: err})
	}
	switch j.kind {
	case jobParse:
		cells, err := ReadCells(j.data)
		if err != nil {
			fail(err)
			return
		}
		res, err := parseChunked(ctx, cells, j.chunk, func(done, total int) {
			send(Message{Type: MessageProgress, Done: done, Total: total})
		}, nil)
		if err != nil {
			fail(err)
			return
		}
		send(Message{Type: MessageDone, Result: res, Done: len(cells) - 2, Total: len(cells) - 2})
	case jobExport:
		out, err := Encode(j.dataset, j.format)
		if err != nil {
			fail(err)
			return
		}
		n := len(j.dataset.Rows)
		send(Message{Type: MessageDone, Output: out, Done: n, Total: n})
	}
}

// mergeContexts returns a context cancelled when either parent is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	if b == nil {
		return context.WithCancel(a)
	}
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
