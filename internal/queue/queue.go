// Package queue runs per-state work units with bounded concurrency and a
// minimum spacing between task starts.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Task is one unit of work. A returned error is logged and counted; it never
// stops the queue.
type Task func(ctx context.Context) error

// Options configures a Queue.
type Options struct {
	// Concurrency is the maximum number of tasks running at once.
	Concurrency int
	// Interval is the minimum time between two consecutive task starts.
	Interval time.Duration
	// OnStart, when set, is called by the dispatcher as each task is
	// launched, in start order.
	OnStart func(name string, at time.Time)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Submitted int `json:"submitted"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

type item struct {
	name string
	task Task
}

// Queue is a FIFO scheduler. A task starts only when a worker slot is free
// and Interval has elapsed since the previous start.
type Queue struct {
	opts  Options
	ctx   context.Context
	slots chan struct{}
	wake  chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	pending     []item
	outstanding int
	idle        chan struct{}
	stopped     bool
	stats       Stats
	lastStart   time.Time

	now func() time.Time
}

// New starts a queue whose tasks run under ctx. Cancelling ctx drops tasks
// that have not started yet.
func New(ctx context.Context, opts Options) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		opts:  opts,
		ctx:   ctx,
		slots: make(chan struct{}, opts.Concurrency),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		idle:  idle,
		now:   time.Now,
	}
	go q.dispatch()
	return q
}

// Submit appends a task. The name identifies it in logs.
func (q *Queue) Submit(name string, task Task) {
	q.mu.Lock()
	if q.stopped {
		q.stats.Dropped++
		q.mu.Unlock()
		zap.L().Warn("queue: task submitted after shutdown", zap.String("task", name))
		return
	}
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	q.stats.Submitted++
	q.pending = append(q.pending, item{name: name, task: task})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Idle blocks until every submitted task has finished or ctx is done.
func (q *Queue) Idle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "queue: wait for idle")
	}
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Done is closed once the dispatcher has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		it, ok := q.next()
		if !ok {
			return
		}

		select {
		case q.slots <- struct{}{}:
		case <-q.ctx.Done():
			q.finish(it, false, true)
			q.drain()
			return
		}

		if wait := q.untilNextStart(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
				<-q.slots
				q.finish(it, false, true)
				q.drain()
				return
			}
		}

		at := q.now()
		q.mu.Lock()
		q.lastStart = at
		q.stats.Running++
		q.mu.Unlock()
		if q.opts.OnStart != nil {
			q.opts.OnStart(it.name, at)
		}
		go q.run(it)
	}
}

func (q *Queue) next() (item, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			it := q.pending[0]
			q.pending[0] = item{}
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			q.drain()
			return item{}, false
		}
	}
}

func (q *Queue) untilNextStart() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastStart.IsZero() {
		return 0
	}
	return q.lastStart.Add(q.opts.Interval).Sub(q.now())
}

func (q *Queue) run(it item) {
	failed := false
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("queue: task panicked",
				zap.String("task", it.name),
				zap.String("panic", fmt.Sprint(r)),
			)
			failed = true
		}
		<-q.slots
		q.mu.Lock()
		q.stats.Running--
		q.mu.Unlock()
		q.finish(it, failed, false)
	}()

	if err := it.task(q.ctx); err != nil {
		zap.L().Error("queue: task failed", zap.String("task", it.name), zap.Error(err))
		failed = true
	}
}

func (q *Queue) finish(_ item, failed, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case dropped:
		q.stats.Dropped++
	case failed:
		q.stats.Failed++
		q.stats.Completed++
	default:
		q.stats.Completed++
	}
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
}

// drain drops every task that has not started and refuses new ones.
func (q *Queue) drain() {
	q.mu.Lock()
	q.stopped = true
	rest := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range rest {
		zap.L().Warn("queue: dropping task on shutdown", zap.String("task", it.name))
		q.finish(it, false, true)
	}
}
