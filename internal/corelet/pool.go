// ============================================================================
// Eventbus Worker-Process Pool
// ============================================================================
//
// Package: internal/corelet
// File: pool.go
// Function: Spawns, tracks, reuses, health-checks, and tears down worker
// processes, pairing each with a health monitor goroutine (spec.md §4.C).
//
// Adapted from internal/worker/worker_pool.go's lifecycle shape
// (Start/Stop, sync.WaitGroup-tracked goroutines, mu-protected state), with
// the task channel replaced by real OS processes connected over pipes
// (process.go) and the "destroy on timeout" / "health-monitor declares
// dead" behavior of spec.md §4.C/§7 layered on top.
//
// ============================================================================

package corelet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/eventbus/internal/corelet/wire"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

var log = slog.Default()

// Config controls process pool behavior - the corelet-relevant subset of
// spec.md §6's bus configuration table.
type Config struct {
	ProcessPoolMax        int
	ProcessIdleTimeout    time.Duration
	HealthInterval        time.Duration
	HealthGraceMisses     int
	WorkerBinaryPath      string
	WorkerBinaryExtraArgs []string
}

// DyingNotifier is told when a worker dies with a task still assigned, so
// the bus can finalize that event as a failure without the pool importing
// the bus package.
type DyingNotifier interface {
	OnWorkerDied(eventID eventbus.EventID)
}

// Pool is the worker-process pool described in spec.md §4.C.
type Pool struct {
	cfg      Config
	notifier DyingNotifier

	mu      sync.Mutex
	idle    []*workerProcess
	busy    map[string]*workerProcess
	all     map[string]*workerProcess
	nextID  int
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a worker-process pool. notifier may be nil if the caller
// does not need WorkerDied notifications for in-flight tasks.
func NewPool(cfg Config, notifier DyingNotifier) *Pool {
	if cfg.HealthGraceMisses < 1 {
		cfg.HealthGraceMisses = 1
	}
	return &Pool{
		cfg:      cfg,
		notifier: notifier,
		busy:     make(map[string]*workerProcess),
		all:      make(map[string]*workerProcess),
	}
}

// Dispatch executes ev on an idle or freshly spawned worker process,
// following the acquire-and-dispatch procedure of spec.md §4.C.
func (p *Pool) Dispatch(ctx context.Context, ev *eventbus.Event, locator *eventbus.HandlerLocator) (eventbus.EventResult, error) {
	w, err := p.acquire()
	if err != nil {
		return eventbus.EventResult{}, err
	}

	w.mu.Lock()
	w.assignedEventID = string(ev.EventID)
	w.mu.Unlock()

	defer func() {
		p.clearAssignment(w)
		p.release(w)
	}()

	if !w.hasSeen(ev.EventType) {
		if err := p.registerHandler(w, locator); err != nil {
			p.clearAssignment(w)
			p.destroy(w)
			return eventbus.EventResult{}, err
		}
		w.markSeen(ev.EventType)
	}

	grace := 2 * time.Second
	deadline := ev.Timeout + grace

	res, err := p.dispatchTask(w, ev, locator, deadline)
	if err != nil {
		// Clear the assignment before destroying: this failure is about to
		// be returned directly to our own caller (the bus, which applies
		// retry policy), so destroy must not also fire a WorkerDied
		// notification for it - that path is reserved for monitorHealth's
		// declareDead, which races an in-flight Dispatch no caller is
		// watching synchronously.
		p.clearAssignment(w)
		p.destroy(w)
		return eventbus.EventResult{}, err
	}
	return res, nil
}

func (p *Pool) clearAssignment(w *workerProcess) {
	w.mu.Lock()
	w.assignedEventID = ""
	w.mu.Unlock()
}

func (p *Pool) registerHandler(w *workerProcess, locator *eventbus.HandlerLocator) error {
	if err := wire.Encode(w.taskW, wire.KindRegister, wire.TaskRequest{HandlerLocator: locator}); err != nil {
		return fmt.Errorf("corelet: send register: %w", err)
	}
	rec, err := readWithDeadline(w.taskR, 10*time.Second)
	if err != nil {
		return fmt.Errorf("corelet: read register ack: %w", err)
	}
	var result wire.TaskResult
	if err := rec.Unmarshal(&result); err != nil {
		return fmt.Errorf("corelet: decode register ack: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("corelet: worker rejected registration: %s", result.Exception)
	}
	w.markActivity()
	return nil
}

func (p *Pool) dispatchTask(w *workerProcess, ev *eventbus.Event, locator *eventbus.HandlerLocator, deadline time.Duration) (eventbus.EventResult, error) {
	if err := wire.Encode(w.taskW, wire.KindTask, wire.TaskRequest{Event: ev, HandlerLocator: locator}); err != nil {
		return eventbus.EventResult{}, fmt.Errorf("corelet: send task: %w", err)
	}

	rec, err := readWithDeadline(w.taskR, deadline)
	if err != nil {
		if err == errTimedOut {
			return eventbus.EventResult{}, ErrTaskTimeout
		}
		return eventbus.EventResult{}, ErrWorkerDied
	}
	w.markActivity()

	var result wire.TaskResult
	if err := rec.Unmarshal(&result); err != nil {
		return eventbus.EventResult{}, fmt.Errorf("corelet: decode task result: %w", err)
	}

	er := eventbus.EventResult{EventID: result.EventID, Success: result.Success, Data: result.Data}
	if !result.Success {
		er.ErrText = result.Exception
	}
	return er, nil
}

// acquire returns an idle worker, spawning one if under process_pool_max.
func (p *Pool) acquire() (*workerProcess, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.busy[w.id] = w
		p.mu.Unlock()
		return w, nil
	}
	if len(p.all) >= p.cfg.ProcessPoolMax {
		p.mu.Unlock()
		return nil, ErrProcessLimitReached
	}
	p.nextID++
	id := fmt.Sprintf("corelet-%d", p.nextID)
	p.mu.Unlock()

	extraArgs := p.cfg.WorkerBinaryExtraArgs
	if p.cfg.ProcessIdleTimeout > 0 {
		extraArgs = append([]string{"-idle-timeout", p.cfg.ProcessIdleTimeout.String()}, extraArgs...)
	}
	w, err := spawnWorkerProcess(id, spawnConfig{binaryPath: p.cfg.WorkerBinaryPath, extraArgs: extraArgs})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		w.kill()
		return nil, ErrPoolClosed
	}
	p.all[id] = w
	p.busy[id] = w
	p.mu.Unlock()

	p.wg.Add(1)
	go p.monitorHealth(w)

	return w, nil
}

// release returns a worker to the idle set after a successful dispatch.
func (p *Pool) release(w *workerProcess) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, w.id)
	if p.stopped {
		return
	}
	if _, ok := p.all[w.id]; ok {
		p.idle = append(p.idle, w)
	}
}

// destroy removes a worker from every set and kills its process - used on
// task timeout and on health-monitor-declared death. It is idempotent: a
// worker can be destroyed concurrently from Dispatch's own error path and
// from monitorHealth's declareDead, and only the first caller should kill
// the process, so the second is a no-op. It only notifies the bus of
// WorkerDied when the worker still carries an assignment - Dispatch clears
// its own assignment before calling destroy, since it returns the error to
// its caller directly; only declareDead's asynchronous death leaves the
// assignment in place for destroy to report.
func (p *Pool) destroy(w *workerProcess) {
	p.mu.Lock()
	if _, present := p.all[w.id]; !present {
		p.mu.Unlock()
		return
	}
	delete(p.busy, w.id)
	delete(p.all, w.id)
	for i, idleW := range p.idle {
		if idleW == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	w.mu.Lock()
	assigned := w.assignedEventID
	w.mu.Unlock()

	w.kill()

	if assigned != "" && p.notifier != nil {
		p.notifier.OnWorkerDied(eventbus.EventID(assigned))
	}
}

// ActiveCount returns the number of worker processes currently tracked
// (idle + busy), used by internal/metrics for the corelet_workers_alive
// gauge.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Shutdown sends ShutdownRequest on every task pipe, waits for
// ShutdownComplete on the health pipe up to deadline, then kills any
// worker that did not respond in time - spec.md §4.C "Shutdown".
func (p *Pool) Shutdown(deadline time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	workers := make([]*workerProcess, 0, len(p.all))
	for _, w := range p.all {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *workerProcess) {
			defer wg.Done()
			shutdownWorker(w, deadline)
		}(w)
	}
	wg.Wait()

	p.wg.Wait()
}

func shutdownWorker(w *workerProcess, deadline time.Duration) {
	if err := wire.Encode(w.taskW, wire.KindShutdown, struct{}{}); err == nil {
		_, _ = readWithDeadline(w.taskR, deadline)
	}
	if err := wire.Encode(w.healthW, wire.KindHealthShutdown, struct{}{}); err == nil {
		_, _ = readWithDeadline(w.healthR, deadline)
	}
	w.kill()
	log.Info("corelet worker shut down", "worker_id", w.id)
}
