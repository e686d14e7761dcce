package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/ericfisherdev/vendorvault/internal/domain/model"
)

const meterName = "github.com/ericfisherdev/vendorvault/internal/application"

type taskState int

const (
	taskPending taskState = iota
	taskDispatching
	taskRunning
	taskDone
)

// queuedTask is one submission waiting for, or holding, a slot.
type queuedTask struct {
	ctx         context.Context
	submittedAt time.Time
	state       taskState // guarded by TestQueue.mu
	run         func(ctx context.Context)
	fail        func(err error)
	stopCancel  func() bool
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Limit     int    `json:"limit"`
	Running   int    `json:"running"`
	Waiting   int    `json:"waiting"`
	Completed uint64 `json:"completed"`
	Closed    bool   `json:"closed"`
}

// QueueOption configures a TestQueue.
type QueueOption func(*TestQueue)

// WithQueueClock sets the clock used to measure queue wait time.
func WithQueueClock(clk clock.Clock) QueueOption {
	return func(q *TestQueue) { q.clock = clk }
}

// WithMeter sets the meter that records queue metrics. The global meter
// provider is used otherwise.
func WithMeter(m metric.Meter) QueueOption {
	return func(q *TestQueue) { q.meter = m }
}

// TestQueue runs outbound vendor calls under a process-wide concurrency
// ceiling. Submissions beyond the ceiling wait in a FIFO list and are started
// in submission order as slots free up. A waiting task is abandoned when the
// context it was submitted with is cancelled; a running task always runs to
// completion.
type TestQueue struct {
	limit  int
	sem    *semaphore.Weighted
	clock  clock.Clock
	meter  metric.Meter
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []*queuedTask
	inflight  int // dispatching or running
	running   int
	completed uint64
	closed    bool

	closing        context.Context
	cancelClosing  context.CancelFunc
	dispatcherDone chan struct{}
	tasks          sync.WaitGroup

	waitingGauge metric.Int64UpDownCounter
	runningGauge metric.Int64UpDownCounter
	waitTime     metric.Float64Histogram
}

// NewTestQueue creates a queue admitting at most limit concurrent tasks and
// starts its dispatcher.
func NewTestQueue(limit int, logger *slog.Logger, opts ...QueueOption) (*TestQueue, error) {
	if limit < 1 {
		return nil, fmt.Errorf("queue concurrency must be at least 1, got %d", limit)
	}

	q := &TestQueue{
		limit:          limit,
		sem:            semaphore.NewWeighted(int64(limit)),
		clock:          clock.WallClock,
		logger:         logger,
		dispatcherDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.meter == nil {
		q.meter = otel.Meter(meterName)
	}
	if err := q.initMetrics(); err != nil {
		return nil, err
	}

	q.cond = sync.NewCond(&q.mu)
	q.closing, q.cancelClosing = context.WithCancel(context.Background())

	go q.dispatch()
	return q, nil
}

func (q *TestQueue) initMetrics() error {
	var err error
	q.waitingGauge, err = q.meter.Int64UpDownCounter("vendorvault.queue.waiting",
		metric.WithDescription("Tasks waiting for a connection test slot."))
	if err != nil {
		return fmt.Errorf("create waiting metric: %w", err)
	}
	q.runningGauge, err = q.meter.Int64UpDownCounter("vendorvault.queue.running",
		metric.WithDescription("Tasks holding a connection test slot."))
	if err != nil {
		return fmt.Errorf("create running metric: %w", err)
	}
	q.waitTime, err = q.meter.Float64Histogram("vendorvault.queue.wait",
		metric.WithDescription("Time from submission to start."),
		metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("create wait metric: %w", err)
	}
	return nil
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(value T, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
	})
}

// Done is closed when the task has finished or was abandoned.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done. Returning early on ctx
// does not cancel the task; cancel the context passed to Submit for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues task on q. The task starts once a slot is free and every
// earlier submission has started. Cancelling ctx before the task starts
// removes it from the queue and fails its Future with ctx.Err(). The task
// itself receives a context that carries ctx's values but not its
// cancellation. Submit fails with model.ErrQueueClosed after Close.
func Submit[T any](ctx context.Context, q *TestQueue, task func(ctx context.Context) (T, error)) (*Future[T], error) {
	f := newFuture[T]()
	var zero T

	t := &queuedTask{
		ctx:         ctx,
		submittedAt: q.clock.Now(),
		fail:        func(err error) { f.complete(zero, err) },
	}
	t.run = func(runCtx context.Context) {
		defer func() {
			if p := recover(); p != nil {
				q.logger.Error("queued task panicked", "panic", p)
				f.complete(zero, fmt.Errorf("queued task panicked: %v", p))
			}
		}()
		v, err := task(runCtx)
		f.complete(v, err)
	}

	if err := q.enqueue(t); err != nil {
		return nil, err
	}
	return f, nil
}

func (q *TestQueue) enqueue(t *queuedTask) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return model.ErrQueueClosed
	}
	if err := t.ctx.Err(); err != nil {
		q.mu.Unlock()
		return err
	}
	// abandon takes q.mu, so it cannot observe the task before it is queued.
	t.stopCancel = context.AfterFunc(t.ctx, func() { q.abandon(t) })
	q.pending = append(q.pending, t)
	q.waitingGauge.Add(context.Background(), 1)
	q.cond.Signal()
	q.mu.Unlock()
	return nil
}

// abandon drops a task whose submitter cancelled before it started.
func (q *TestQueue) abandon(t *queuedTask) {
	q.mu.Lock()
	if t.state != taskPending {
		// A dispatching task is failed by the dispatcher; a running one is
		// left to finish.
		q.mu.Unlock()
		return
	}
	if i := slices.Index(q.pending, t); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
	}
	t.state = taskDone
	q.mu.Unlock()

	q.waitingGauge.Add(context.Background(), -1)
	t.fail(t.ctx.Err())
}

// next blocks until a task is pending and marks it dispatching. It returns
// nil once the queue is closed.
func (q *TestQueue) next() *queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	t := q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	t.state = taskDispatching
	q.inflight++
	return t
}

// dispatch admits tasks one at a time in FIFO order. Only this goroutine
// acquires slots, so a later task can never overtake an earlier one.
func (q *TestQueue) dispatch() {
	defer close(q.dispatcherDone)

	for {
		t := q.next()
		if t == nil {
			return
		}

		acquireCtx, cancel := context.WithCancel(t.ctx)
		stop := context.AfterFunc(q.closing, cancel)
		err := q.sem.Acquire(acquireCtx, 1)
		stop()
		cancel()

		q.mu.Lock()
		if err == nil && t.ctx.Err() != nil {
			q.sem.Release(1)
			err = t.ctx.Err()
		}
		if err != nil {
			if q.closed {
				err = model.ErrQueueClosed
			}
			t.state = taskDone
			q.inflight--
			q.mu.Unlock()

			q.waitingGauge.Add(context.Background(), -1)
			t.fail(err)
			continue
		}
		t.state = taskRunning
		q.running++
		q.tasks.Add(1)
		q.mu.Unlock()

		t.stopCancel()
		q.waitingGauge.Add(context.Background(), -1)
		q.runningGauge.Add(context.Background(), 1)
		q.waitTime.Record(context.Background(), q.clock.Now().Sub(t.submittedAt).Seconds())

		go q.execute(t)
	}
}

func (q *TestQueue) execute(t *queuedTask) {
	defer func() {
		q.sem.Release(1)

		q.mu.Lock()
		t.state = taskDone
		q.running--
		q.inflight--
		q.completed++
		q.mu.Unlock()

		q.runningGauge.Add(context.Background(), -1)
		q.tasks.Done()
	}()

	t.run(context.WithoutCancel(t.ctx))
}

// Stats returns the current queue occupancy.
func (q *TestQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Limit:     q.limit,
		Running:   q.running,
		Waiting:   len(q.pending) + q.inflight - q.running,
		Completed: q.completed,
		Closed:    q.closed,
	}
}

// Close stops accepting submissions and fails every waiting task with
// model.ErrQueueClosed. It then waits for running tasks to finish or for ctx
// to be done, whichever comes first. Close is safe to call more than once.
func (q *TestQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
	} else {
		q.closed = true
		waiting := q.pending
		q.pending = nil
		for _, t := range waiting {
			t.state = taskDone
		}
		q.cond.Broadcast()
		q.mu.Unlock()

		q.cancelClosing()
		for _, t := range waiting {
			t.stopCancel()
			q.waitingGauge.Add(context.Background(), -1)
			t.fail(model.ErrQueueClosed)
		}
		if len(waiting) > 0 {
			q.logger.Info("connection test queue closed with waiting tasks", "abandoned", len(waiting))
		}
	}

	<-q.dispatcherDone

	done := make(chan struct{})
	go func() {
		q.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(model.ErrQueueClosed, ctx.Err())
	}
}
