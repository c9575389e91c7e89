// ============================================================================
// Eventbus Worker-Thread Pool
// ============================================================================
//
// Package: internal/threadpool
// File: pool.go
// Function: Fixed-size pool of goroutines draining a priority queue,
// applying per-event timeouts and retries.
//
// Adapted from internal/worker/worker_pool.go (teacher): keeps the
// channel + sync.WaitGroup + stopCh shutdown shape and the
// ErrPoolClosed/ErrPoolNotStarted sentinel errors, but replaces the single
// FIFO chan Task with the priorityQueue from queue.go, and replaces the
// simulated random-delay execute() with real Handler dispatch under a
// context.WithTimeout guard plus retry-by-requeue (spec.md §4.D).
//
// Architecture:
//   Submit(task) -> heap push (mu-protected) -> cond.Signal()
//                                                     |
//                                                     v
//                                         N worker goroutines draining heap
//                                                     |
//                                      handler run -> success/fail -> sink
//
// Concurrency Control:
//   - mu + cond: protects the heap and wakes idle workers
//   - stopCh: closed on Stop(), observed between dequeues
//   - wg: tracks worker goroutines for graceful shutdown
//
// ============================================================================

package threadpool

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

var log = slog.Default()

// ErrPoolClosed indicates the pool is closed and cannot accept new tasks.
var ErrPoolClosed = errors.New("threadpool: pool is closed")

// ErrPoolNotStarted indicates the pool has not been started yet.
var ErrPoolNotStarted = errors.New("threadpool: pool not started")

// HandlerSource resolves a handler instance for an event type. It is
// satisfied by *registry.Registry.
type HandlerSource interface {
	Create(eventType string, args ...any) (eventbus.Handler, error)
}

// Pool is the worker-thread pool described in spec.md §4.D.
type Pool struct {
	handlers HandlerSource
	sink     ResultSink

	mu       sync.Mutex
	cond     *sync.Cond
	queue    priorityQueue
	seq      uint64
	started  bool
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	queueDepth atomic.Int64
}

// NewPool creates a Pool. handlers resolves event types to Handler
// instances; sink receives lifecycle notifications and finalized results.
func NewPool(handlers HandlerSource, sink ResultSink) *Pool {
	p := &Pool{
		handlers: handlers,
		sink:     sink,
		stopCh:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches workerCount goroutines draining the priority queue.
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("threadpool: pool already started")
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	p.started = true
	return nil
}

// Submit enqueues a task, assigning it the next publish_sequence.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	p.seq++
	heap.Push(&p.queue, &queueItem{task: task, seq: p.seq})
	p.queueDepth.Store(int64(p.queue.Len()))
	p.cond.Signal()
	return nil
}

// QueueDepth reports the current number of pending (not yet dispatched)
// tasks, used by internal/metrics to expose a saturation gauge.
func (p *Pool) QueueDepth() int {
	return int(p.queueDepth.Load())
}

// Stop gracefully drains the pool: stops accepting new tasks, wakes every
// worker, and waits for in-flight handlers to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) dequeue() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queue.Len() == 0 {
		if p.stopped {
			return Task{}, false
		}
		p.cond.Wait()
	}
	item := heap.Pop(&p.queue).(*queueItem)
	p.queueDepth.Store(int64(p.queue.Len()))
	return item.task, true
}

// requeue re-enqueues a failed task at its original priority, preserving
// the attempt counter but assigning a fresh sequence so it goes to the back
// of its priority band - spec.md §4.D step 5.
func (p *Pool) requeue(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.seq++
	heap.Push(&p.queue, &queueItem{task: task, seq: p.seq})
	p.queueDepth.Store(int64(p.queue.Len()))
	p.cond.Signal()
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	tls := eventbus.NewThreadLocalStorage()
	handlerCache := make(map[string]eventbus.Handler)

	for {
		// Between tasks is the only point cancellation is observed for
		// thread-mode work, per spec.md §5: "cancellation is observed
		// between events; an in-flight handler runs to completion."
		select {
		case <-p.stopCh:
			return
		default:
		}

		task, ok := p.dequeue()
		if !ok {
			return
		}

		p.execute(id, tls, handlerCache, task)
	}
}

func (p *Pool) execute(workerID int, tls *eventbus.ThreadLocalStorage, cache map[string]eventbus.Handler, task Task) {
	ev := task.Event
	p.sink.OnStarted(ev)

	handler, ok := cache[ev.EventType]
	if !ok {
		var err error
		handler, err = p.handlers.Create(ev.EventType)
		if err != nil {
			// spec.md §4.D edge case: an empty registry lookup is a
			// terminal failure - no retry makes sense.
			p.finalize(eventbus.EventResult{
				EventID: ev.EventID, Success: false,
				ErrText: err.Error(), Err: err, Attempts: task.Attempt + 1,
			}, ev)
			return
		}
		cache[ev.EventType] = handler
	}

	ec := &eventbus.EventContext{
		Storage:   tls,
		ThreadID:  workerID,
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ev.Timeout)
	defer cancel()

	data, err := runWithTimeout(ctx, handler, ec, ev)

	attempt := task.Attempt + 1
	if err != nil {
		if attempt <= ev.MaxRetries {
			task.Attempt = attempt
			log.Warn("thread task failed, retrying", "event_id", ev.EventID, "attempt", attempt, "error", err)
			p.sink.OnRetried(ev, attempt)
			p.requeue(task)
			return
		}
		log.Error("thread task failed permanently", "event_id", ev.EventID, "attempts", attempt, "error", err)
		p.finalize(eventbus.EventResult{
			EventID: ev.EventID, Success: false, ErrText: err.Error(), Err: err, Attempts: attempt,
		}, ev)
		return
	}

	p.finalize(eventbus.EventResult{
		EventID: ev.EventID, Success: true, Data: data, Attempts: attempt,
	}, ev)
}

func (p *Pool) finalize(res eventbus.EventResult, ev *eventbus.Event) {
	p.sink.OnFinalized(res, ev)
}

// runWithTimeout executes handler.Handle on its own goroutine and returns
// ErrTimeout as soon as ctx's deadline passes, without waiting for the
// handler to return; the handler itself is not stopped and only sees the
// deadline through ctx - spec.md §4.D step 4 / §9 "cooperative thread
// timeouts."
func runWithTimeout(ctx context.Context, handler eventbus.Handler, ec *eventbus.EventContext, ev *eventbus.Event) ([]byte, error) {
	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := handler.Handle(ctx, ec, ev)
		done <- outcome{data, err}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// ErrTimeout is returned when a sync/thread handler does not return before
// its deadline. The handler goroutine above is leaked until it returns on
// its own - Go cannot forcibly kill a goroutine, matching spec.md §9's note
// that in-thread handlers must themselves honor the deadline for a hard
// timeout; corelet mode is the only mode with an authoritative kill.
var ErrTimeout = errors.New("threadpool: handler did not return before timeout")
