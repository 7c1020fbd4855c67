// Package queue serializes outbound work per endpoint class: one active
// dispatch at a time per class, a minimum interval between dispatches,
// retry with backoff on transient failure, and cooperative cancellation.
//
// Rate-limit waits and retry backoff are deliberately independent and
// additive: backoff never counts against the class interval, and a
// Retry-After hint delays only the item that received it, never the
// class's lastDispatch marker.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muralgen/muralgen/generr"
	"github.com/muralgen/muralgen/internal/clock"
	"github.com/muralgen/muralgen/internal/retry"
	"github.com/muralgen/muralgen/models"
)

// EndpointClass selects which rate-limit window and retry budget applies.
type EndpointClass string

const (
	ClassImage EndpointClass = "image-generation"
	ClassText  EndpointClass = "text-generation"
)

// Run is one unit of outbound work. The queue may invoke it up to the
// policy's attempt budget, so it must be safe to call more than once. It
// must honor ctx for abort.
type Run func(ctx context.Context) ([]byte, error)

// Status tracks an item through its lifecycle.
type Status int32

const (
	StatusQueued Status = iota
	StatusDispatching
	StatusRetrying
	StatusDone
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusDispatching:
		return "dispatching"
	case StatusRetrying:
		return "retrying"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type item struct {
	id         string
	class      EndpointClass
	run        Run
	attempt    int
	enqueuedAt time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}

	settleOnce sync.Once
	settledCh  chan struct{}
	val        []byte
	err        error

	statusMu sync.Mutex
	status   Status
	onStatus func(Status)
}

func (it *item) setStatus(s Status) {
	it.statusMu.Lock()
	it.status = s
	cb := it.onStatus
	it.statusMu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (it *item) currentStatus() Status {
	it.statusMu.Lock()
	defer it.statusMu.Unlock()
	return it.status
}

// settle records the outcome exactly once.
func (it *item) settle(val []byte, err error, s Status) {
	it.settleOnce.Do(func() {
		it.val = val
		it.err = err
		it.setStatus(s)
		close(it.settledCh)
	})
}

func (it *item) isCancelled() bool {
	select {
	case <-it.cancelCh:
		return true
	default:
		return false
	}
}

// Handle is the caller's side of an enqueued item.
type Handle struct {
	q  *Queue
	it *item
}

// ID returns the work item id.
func (h *Handle) ID() string { return h.it.id }

// Status returns the item's current lifecycle status.
func (h *Handle) Status() Status { return h.it.currentStatus() }

// Cancel withdraws the item. Before dispatch this guarantees its run is
// never invoked; after dispatch it detaches the caller and aborts the
// run's context best-effort. Always settles the item with a cancellation
// error unless it already settled.
func (h *Handle) Cancel() {
	h.it.cancelOnce.Do(func() {
		close(h.it.cancelCh)
	})
	h.q.remove(h.it)
	h.it.settle(nil, generr.Cancelled(string(h.it.class)), StatusCancelled)
	h.q.metrics.Cancels.Inc()
}

// Wait blocks until the item settles or ctx is done. A ctx expiry here
// abandons the wait only; use Cancel to withdraw the item itself.
func (h *Handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-h.it.settledCh:
		return h.it.val, h.it.err
	case <-ctx.Done():
		return nil, generr.New(generr.KindCancelled, string(h.it.class), ctx.Err())
	}
}

type classQueue struct {
	class       EndpointClass
	minInterval time.Duration

	mu    sync.Mutex
	items []*item
	wake  chan struct{}

	// Owned by the dispatcher goroutine; no lock needed.
	lastDispatch  time.Time
	hasDispatched bool
}

func (cq *classQueue) pushBack(it *item) {
	cq.mu.Lock()
	cq.items = append(cq.items, it)
	cq.mu.Unlock()
	cq.signal()
}

// pushFront re-inserts a retried item ahead of later-enqueued work so that
// new arrivals cannot starve an in-progress retry.
func (cq *classQueue) pushFront(it *item) {
	cq.mu.Lock()
	cq.items = append([]*item{it}, cq.items...)
	cq.mu.Unlock()
	cq.signal()
}

func (cq *classQueue) signal() {
	select {
	case cq.wake <- struct{}{}:
	default:
	}
}

func (cq *classQueue) popFront() *item {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for len(cq.items) > 0 {
		it := cq.items[0]
		cq.items = cq.items[1:]
		if it.isCancelled() {
			continue
		}
		return it
	}
	return nil
}

func (cq *classQueue) remove(target *item) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for i, it := range cq.items {
		if it == target {
			cq.items = append(cq.items[:i], cq.items[i+1:]...)
			return
		}
	}
}

func (cq *classQueue) drain() []*item {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	items := cq.items
	cq.items = nil
	return items
}

// Queue dispatches work serialized per endpoint class. Distinct classes run
// concurrently with each other; within a class there is exactly one active
// dispatcher goroutine, which is the sole writer of that class's
// lastDispatch marker.
type Queue struct {
	policy  *retry.Policy
	clk     clock.Clock
	logger  *zap.Logger
	metrics *models.Metrics

	defaultInterval time.Duration
	windows         map[EndpointClass]time.Duration

	mu      sync.Mutex
	classes map[EndpointClass]*classQueue

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Queue. windows maps each endpoint class to its minimum
// inter-dispatch interval; classes not listed use defaultInterval.
//
// The queue imposes no depth limit; bounding total in-flight domain
// requests is the caller's responsibility.
func New(policy *retry.Policy, clk clock.Clock, logger *zap.Logger, metrics *models.Metrics,
	defaultInterval time.Duration, windows map[EndpointClass]time.Duration) *Queue {
	w := make(map[EndpointClass]time.Duration, len(windows))
	for class, d := range windows {
		w[class] = d
	}
	return &Queue{
		policy:          policy,
		clk:             clk,
		logger:          logger,
		metrics:         metrics,
		defaultInterval: defaultInterval,
		windows:         w,
		classes:         make(map[EndpointClass]*classQueue),
		closed:          make(chan struct{}),
	}
}

// EnqueueOption customizes a single enqueued item.
type EnqueueOption func(*item)

// WithStatusFunc registers a callback invoked on every status transition.
func WithStatusFunc(f func(Status)) EnqueueOption {
	return func(it *item) {
		it.onStatus = f
	}
}

// Enqueue appends run to the class's FIFO and returns a Handle. Cancelling
// ctx cancels the item, so a caller's context doubles as its cancellation
// token.
func (q *Queue) Enqueue(ctx context.Context, class EndpointClass, run Run, opts ...EnqueueOption) *Handle {
	it := &item{
		id:         uuid.NewString(),
		class:      class,
		run:        run,
		attempt:    1,
		enqueuedAt: q.clk.Now(),
		cancelCh:   make(chan struct{}),
		settledCh:  make(chan struct{}),
		status:     StatusQueued,
	}
	for _, opt := range opts {
		opt(it)
	}
	h := &Handle{q: q, it: it}

	select {
	case <-q.closed:
		it.settle(nil, generr.Cancelled(string(class)), StatusCancelled)
		return h
	default:
	}

	q.classFor(class).pushBack(it)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.Cancel()
			case <-it.settledCh:
			}
		}()
	}

	return h
}

func (q *Queue) classFor(class EndpointClass) *classQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq, ok := q.classes[class]
	if !ok {
		interval := q.defaultInterval
		if d, found := q.windows[class]; found {
			interval = d
		}
		cq = &classQueue{
			class:       class,
			minInterval: interval,
			wake:        make(chan struct{}, 1),
		}
		q.classes[class] = cq
		q.wg.Add(1)
		go q.dispatchLoop(cq)
	}
	return cq
}

func (q *Queue) remove(it *item) {
	q.mu.Lock()
	cq := q.classes[it.class]
	q.mu.Unlock()
	if cq != nil {
		cq.remove(it)
	}
}

// Close stops all dispatchers and settles still-queued items as cancelled.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	q.wg.Wait()
}

func (q *Queue) dispatchLoop(cq *classQueue) {
	defer q.wg.Done()
	for {
		it := cq.popFront()
		if it == nil {
			select {
			case <-cq.wake:
				continue
			case <-q.closed:
				q.cancelRemaining(cq)
				return
			}
		}

		if !q.awaitWindow(cq, it) {
			continue
		}

		// Dispatch boundary: a cancel landing before this check still
		// guarantees run is never invoked.
		if it.isCancelled() {
			continue
		}

		cq.lastDispatch = q.clk.Now()
		cq.hasDispatched = true

		if !q.dispatch(cq, it) {
			q.cancelRemaining(cq)
			return
		}
	}
}

// awaitWindow enforces the class's minimum inter-dispatch interval. It
// reports false when the item was cancelled or the queue closed while
// waiting.
func (q *Queue) awaitWindow(cq *classQueue, it *item) bool {
	if !cq.hasDispatched {
		return true
	}
	wait := cq.minInterval - q.clk.Now().Sub(cq.lastDispatch)
	if wait <= 0 {
		return true
	}
	select {
	case <-q.clk.After(wait):
		return true
	case <-it.cancelCh:
		return false
	case <-q.closed:
		it.settle(nil, generr.Cancelled(string(cq.class)), StatusCancelled)
		q.cancelRemaining(cq)
		return false
	}
}

type outcome struct {
	val []byte
	err error
}

// dispatch runs the item once and applies retry policy on failure. It
// reports false when the queue closed and the loop should exit.
func (q *Queue) dispatch(cq *classQueue, it *item) bool {
	it.setStatus(StatusDispatching)
	q.metrics.Dispatches.Inc()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	done := make(chan outcome, 1)
	go func() {
		val, err := it.run(runCtx)
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			it.settle(out.val, nil, StatusDone)
			return true
		}
		return q.handleFailure(cq, it, out.err)
	case <-it.cancelCh:
		// Best-effort abort: stop waiting, signal the run's context.
		// Cancel() has already settled the item.
		return true
	case <-q.closed:
		it.settle(nil, generr.Cancelled(string(cq.class)), StatusCancelled)
		return false
	}
}

func (q *Queue) handleFailure(cq *classQueue, it *item, runErr error) bool {
	if !q.policy.ShouldRetry(runErr, it.attempt) {
		q.logger.Debug("item failed terminally",
			zap.String("class", string(cq.class)),
			zap.String("id", it.id),
			zap.Int("attempt", it.attempt),
			zap.Error(runErr))
		it.settle(nil, runErr, StatusFailed)
		q.metrics.Failures.Inc()
		return true
	}

	delay := q.policy.NextDelay(runErr, it.attempt)
	it.attempt++
	it.setStatus(StatusRetrying)
	q.metrics.Retries.Inc()
	q.logger.Debug("retrying item",
		zap.String("class", string(cq.class)),
		zap.String("id", it.id),
		zap.Int("next_attempt", it.attempt),
		zap.Duration("backoff", delay),
		zap.Error(runErr))

	select {
	case <-q.clk.After(delay):
		cq.pushFront(it)
		return true
	case <-it.cancelCh:
		return true
	case <-q.closed:
		it.settle(nil, generr.Cancelled(string(cq.class)), StatusCancelled)
		return false
	}
}

func (q *Queue) cancelRemaining(cq *classQueue) {
	for _, it := range cq.drain() {
		it.settle(nil, generr.Cancelled(string(cq.class)), StatusCancelled)
	}
}
