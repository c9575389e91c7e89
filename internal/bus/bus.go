// ============================================================================
// Eventbus - Public Façade
// ============================================================================
//
// Package: internal/bus
// File: bus.go
// Purpose: The Event Bus described in spec.md §4.E: Publish/GetResults/
// Join/Shutdown/RegisterEventType, routing each event to the pool its
// ExecMode names and feeding progress trackers and the result store.
//
// Generalizes internal/controller.Controller's loop-based coordination:
// the dispatch/result/timeout/snapshot loops collapse to direct routing
// (Publish calls straight into the right pool; sync mode runs inline on
// the caller's own goroutine) plus a single timeout sweep is unnecessary
// since each pool already enforces its own deadline. The snapshot loop and
// WAL replay on Start are dropped outright (Non-goal: no persistence).
// What survives from the teacher: the mu + stopCh + sync.WaitGroup
// shutdown shape and the log/slog structured-logging idiom.
//
// ============================================================================

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/eventbus/internal/cmdhandler"
	"github.com/ChuLiYu/eventbus/internal/corelet"
	"github.com/ChuLiYu/eventbus/internal/registry"
	"github.com/ChuLiYu/eventbus/internal/threadpool"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

var log = slog.Default()

// Recorder receives bus-level event counters. internal/metrics.Collector
// satisfies this interface without internal/bus importing
// internal/metrics directly, the same inversion internal/threadpool uses
// for ResultSink.
type Recorder interface {
	RecordPublished()
	RecordCompleted(latencySeconds float64)
	RecordFailed()
	RecordRetried()
}

type noopRecorder struct{}

func (noopRecorder) RecordPublished()               {}
func (noopRecorder) RecordCompleted(float64)        {}
func (noopRecorder) RecordFailed()                  {}
func (noopRecorder) RecordRetried()                 {}

// Bus is the public event-bus façade (spec.md §4.E).
type Bus struct {
	cfg      Config
	registry *registry.Registry
	threads  *threadpool.Pool
	corelets *corelet.Pool
	results  *resultStore
	recorder Recorder

	mu        sync.Mutex
	pending   map[eventbus.EventID]*eventbus.Event
	stopped   bool
	startedAt time.Time
}

// New constructs and starts a Bus: the thread pool starts immediately
// (it owns no external resources); the worker-process pool spawns
// processes lazily on first corelet-mode dispatch. recorder may be nil,
// in which case bus-level counters are simply not recorded.
func New(cfg Config, recorder Recorder) (*Bus, error) {
	cfg = cfg.withDefaults()
	if recorder == nil {
		recorder = noopRecorder{}
	}

	reg := registry.New()
	cmdhandler.Register(reg)

	b := &Bus{
		cfg:       cfg,
		registry:  reg,
		results:   newResultStore(),
		recorder:  recorder,
		pending:   make(map[eventbus.EventID]*eventbus.Event),
		startedAt: time.Now(),
	}

	b.threads = threadpool.NewPool(reg, b)
	if err := b.threads.Start(cfg.ThreadPoolSize); err != nil {
		return nil, fmt.Errorf("bus: start thread pool: %w", err)
	}

	b.corelets = corelet.NewPool(corelet.Config{
		ProcessPoolMax:        cfg.ProcessPoolMax,
		ProcessIdleTimeout:    cfg.ProcessIdleTimeout,
		HealthInterval:        cfg.HealthInterval,
		HealthGraceMisses:     cfg.HealthGraceMisses,
		WorkerBinaryPath:      cfg.WorkerBinaryPath,
		WorkerBinaryExtraArgs: cfg.WorkerBinaryExtraArgs,
	}, b)

	log.Info("bus started", "thread_pool_size", cfg.ThreadPoolSize, "process_pool_max", cfg.ProcessPoolMax)
	return b, nil
}

// RegisterEventType installs a handler factory under eventType, the
// public entry point to internal/registry for callers embedding the bus.
func (b *Bus) RegisterEventType(eventType, modulePath, className string, factory registry.HandlerFactory) {
	b.registry.Register(eventType, modulePath, className, factory)
}

// Publish validates ev, assigns an EventID/Timestamp if unset, applies the
// bus's default timeout if ev.Timeout is zero, notifies ev's progress
// tracker that it was published, and routes it to the pool its ExecMode
// names - spec.md §4.E "publish." A cmd-mode event is always retyped to
// registry.CmdExecutionEventType, so it runs its Data as a shell command.
func (b *Bus) Publish(ev *eventbus.Event) (eventbus.EventID, error) {
	if ev.ExecMode == eventbus.ExecCmd {
		ev.EventType = registry.CmdExecutionEventType
	}
	if ev.EventID == "" {
		ev.EventID = eventbus.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Timeout == 0 {
		ev.Timeout = b.cfg.DefaultTimeout
	}
	if ev.MaxRetries == 0 {
		ev.MaxRetries = b.cfg.DefaultMaxRetries
	}

	if err := ev.Validate(); err != nil {
		return ev.EventID, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ev.EventID, ErrShutdownInProgress
	}
	b.pending[ev.EventID] = ev
	b.mu.Unlock()

	b.recorder.RecordPublished()
	b.notifyPublished(ev)

	switch ev.ExecMode {
	case eventbus.ExecSync:
		b.runSync(ev)
	case eventbus.ExecThread, eventbus.ExecCmd:
		if err := b.threads.Submit(threadpool.Task{Event: ev, Priority: ev.Priority}); err != nil {
			b.forgetPending(ev.EventID)
			return ev.EventID, err
		}
	case eventbus.ExecCorelet:
		go b.runCorelet(ev)
	default:
		b.forgetPending(ev.EventID)
		return ev.EventID, fmt.Errorf("%w: unknown exec_mode %q", ErrValidation, ev.ExecMode)
	}

	return ev.EventID, nil
}

// runSync executes a sync-mode event inline, on the publisher's own
// goroutine, retrying up to ev.MaxRetries before finalizing - spec.md §4.E
// "sync events bypass both pools entirely, with retries and timeout applied
// in-process" and §7's HandlerExecutionError/TimeoutError retry policy.
// Mirrors threadpool.Pool.execute's retry loop, just run synchronously.
func (b *Bus) runSync(ev *eventbus.Event) {
	b.OnStarted(ev)

	handler, err := b.registry.Create(ev.EventType)
	if err != nil {
		b.OnFinalized(eventbus.EventResult{EventID: ev.EventID, Success: false, ErrText: err.Error(), Err: err, Attempts: 1}, ev)
		return
	}

	ec := &eventbus.EventContext{Storage: eventbus.NewThreadLocalStorage(), Timestamp: time.Now()}

	var data []byte
	attempt := 0
	for {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), ev.Timeout)
		data, err = handler.Handle(ctx, ec, ev)
		cancel()

		if err == nil {
			b.OnFinalized(eventbus.EventResult{EventID: ev.EventID, Success: true, Data: data, Attempts: attempt}, ev)
			return
		}
		if attempt > ev.MaxRetries {
			log.Error("sync task failed permanently", "event_id", ev.EventID, "attempts", attempt, "error", err)
			b.OnFinalized(eventbus.EventResult{EventID: ev.EventID, Success: false, ErrText: err.Error(), Err: err, Attempts: attempt}, ev)
			return
		}
		log.Warn("sync task failed, retrying", "event_id", ev.EventID, "attempt", attempt, "error", err)
		b.OnRetried(ev, attempt)
	}
}

// runCorelet dispatches a corelet-mode event to the worker-process pool,
// re-dispatching (acquiring a fresh worker each time) up to ev.MaxRetries
// on failure before finalizing - spec.md §4.C step 4 "apply retry policy
// at the bus level" and §7's per-mode retry table. Run on its own
// goroutine from Publish since corelet.Pool.Dispatch blocks for the
// task's full duration, and Publish itself must not block the caller
// beyond enqueue time.
func (b *Bus) runCorelet(ev *eventbus.Event) {
	b.OnStarted(ev)

	locator, err := b.registry.Locator(ev.EventType)
	if err != nil {
		b.OnFinalized(eventbus.EventResult{EventID: ev.EventID, Success: false, ErrText: err.Error(), Err: err, Attempts: 1}, ev)
		return
	}

	var res eventbus.EventResult
	attempt := 0
	for {
		attempt++
		res, err = b.corelets.Dispatch(context.Background(), ev, locator)
		if err != nil {
			log.Warn("corelet dispatch failed", "event_id", ev.EventID, "attempt", attempt, "error", err)
			res = eventbus.EventResult{EventID: ev.EventID, Success: false, ErrText: err.Error(), Err: err}
		}
		res.Attempts = attempt

		if res.Success || attempt > ev.MaxRetries {
			b.OnFinalized(res, ev)
			return
		}
		log.Warn("corelet task failed, retrying", "event_id", ev.EventID, "attempt", attempt)
		b.OnRetried(ev, attempt)
	}
}

// OnStarted implements threadpool.ResultSink, notifying ev's progress
// tracker that execution has begun.
func (b *Bus) OnStarted(ev *eventbus.Event) {
	if ev.ProgressTracker == nil {
		return
	}
	safeNotify(func() { ev.ProgressTracker.OnStarted(ev) })
}

// OnRetried implements threadpool.ResultSink, recording a retry counter
// tick. It does not touch the result store or progress tracker - a retry
// is not a completion.
func (b *Bus) OnRetried(ev *eventbus.Event, attempt int) {
	b.recorder.RecordRetried()
}

// OnFinalized implements threadpool.ResultSink: records the result, drops
// it from the pending set, and notifies ev's progress tracker - exactly
// once per event, per spec.md §7.
//
// Idempotent by construction: a corelet worker's death can reach this
// method from two independent races at once (the health monitor's async
// declareDead -> OnWorkerDied, and corelet.Pool.Dispatch's own blocked
// read unblocking with an error once that same worker is killed). Gating
// on "was eventID still pending" ensures only the first caller finalizes.
func (b *Bus) OnFinalized(res eventbus.EventResult, ev *eventbus.Event) {
	if !b.forgetPending(res.EventID) {
		return
	}
	b.results.put(res)

	if res.Success {
		b.recorder.RecordCompleted(time.Since(ev.Timestamp).Seconds())
	} else {
		b.recorder.RecordFailed()
	}

	if ev.ProgressTracker != nil {
		safeNotify(func() { ev.ProgressTracker.OnCompleted(ev, res.Success) })
	}
}

// OnWorkerDied implements corelet.DyingNotifier: a corelet worker died
// with eventID still assigned, so the bus finalizes it as a failure -
// spec.md §7 WorkerDied. See OnFinalized's idempotency note: this may
// lose the race to the Dispatch call's own error return, in which case it
// is a no-op.
func (b *Bus) OnWorkerDied(eventID eventbus.EventID) {
	b.mu.Lock()
	ev, ok := b.pending[eventID]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.OnFinalized(eventbus.EventResult{
		EventID: eventID, Success: false, ErrText: ErrWorkerDied.Error(), Err: ErrWorkerDied, Attempts: 1,
	}, ev)
}

func (b *Bus) notifyPublished(ev *eventbus.Event) {
	if ev.ProgressTracker == nil {
		return
	}
	safeNotify(func() { ev.ProgressTracker.OnPublished(ev) })
}

// forgetPending removes id from the pending set and reports whether it
// was still present - the single point of truth for "has this event
// already been finalized."
func (b *Bus) forgetPending(id eventbus.EventID) bool {
	b.mu.Lock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	return ok
}

// safeNotify runs a progress-tracker callback outside any bus lock and
// recovers a panic into a log line rather than letting a caller's broken
// tracker take the bus down - spec.md §7 "tracker panics/errors recovered
// and logged, never propagated."
func safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("progress tracker panicked", "panic", r)
		}
	}()
	fn()
}

// GetResults returns whichever of ids already have a finalized result,
// removing them from the store. If ids is nil, every currently finalized
// result is drained instead - spec.md §4.E "get_results (non-blocking
// drain): if event_ids is omitted, returns all currently finalized
// results."
func (b *Bus) GetResults(ids []eventbus.EventID) map[eventbus.EventID]eventbus.EventResult {
	if ids == nil {
		return b.results.drainAll()
	}
	return b.results.drain(ids)
}

// Join blocks until every id in ids has a result or timeout elapses,
// returning whatever resolved in time and whether all of them did -
// spec.md §4.E "join (blocking wait with timeout)."
func (b *Bus) Join(ids []eventbus.EventID, timeout time.Duration) (map[eventbus.EventID]eventbus.EventResult, bool) {
	return b.results.join(ids, timeout)
}

// Stats reports point-in-time bus counters, the backing data for both
// internal/cli's status command and internal/metrics' gauges.
type Stats struct {
	Uptime              time.Duration
	PendingEvents       int
	ThreadQueueDepth    int
	CoreletWorkersAlive int
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	return Stats{
		Uptime:              time.Since(b.startedAt),
		PendingEvents:       pending,
		ThreadQueueDepth:    b.threads.QueueDepth(),
		CoreletWorkersAlive: b.corelets.ActiveCount(),
	}
}

// Shutdown stops accepting new events, stops the thread pool (waiting for
// in-flight handlers to return), and tears down the worker-process pool -
// spec.md §4.E "shutdown." deadline bounds how long corelet shutdown waits
// for a worker's ShutdownComplete before it is killed outright.
func (b *Bus) Shutdown(deadline time.Duration) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	log.Info("bus shutting down")
	b.threads.Stop()
	b.corelets.Shutdown(deadline)
	log.Info("bus stopped")
}
