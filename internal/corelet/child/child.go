// ============================================================================
// Eventbus Worker Process - Child Main Loop
// ============================================================================
//
// Package: internal/corelet/child
// Purpose: The worker-process side of the pipe protocol (spec.md §4.B),
// run from cmd/eventbus-corelet's main(). Services three concurrent duties
// over the pipes process.go wires up on the pool side:
//
//  1. task pipe (stdin/stdout): REGISTER resolves and caches a handler by
//     event_type, TASK runs it and replies with a result, SHUTDOWN
//     acknowledges and exits.
//  2. health pipe (fd 3 in / fd 4 out): replies to PING with PONG, and to
//     HealthShutdown with ShutdownComplete.
//  3. idle-timeout: if no task-pipe record arrives within IdleTimeout, the
//     worker declares itself dead on the health pipe and exits - spec.md
//     §4.B step 5.
//
// Handler resolution: unlike the Python original, a Go worker process
// cannot dynamically import a module by string path. The locator's
// event_type is used to resolve a handler from the same process-global
// registry the parent links against (cmd/eventbus-corelet registers the
// same handler set as cmd/eventbusd); module_path/class_name travel across
// the pipe for parity with spec.md §3 but are not used to locate code.
//
// ============================================================================

package child

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/eventbus/internal/corelet/wire"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

var log = slog.Default()

// HandlerSource resolves a handler instance for an event type. It is
// satisfied by *registry.Registry.
type HandlerSource interface {
	Create(eventType string, args ...any) (eventbus.Handler, error)
}

// Config wires the pipes and dependencies a worker process main() needs.
type Config struct {
	WorkerID    string
	TaskR       io.Reader
	TaskW       io.Writer
	HealthR     io.Reader
	HealthW     io.Writer
	IdleTimeout time.Duration
	Handlers    HandlerSource
}

type worker struct {
	cfg   Config
	taskR *bufio.Reader
	taskW io.Writer

	healthR   *bufio.Reader
	healthW   io.Writer
	healthWMu sync.Mutex

	mu           sync.Mutex
	cache        map[string]eventbus.Handler
	lastActivity time.Time
}

// Run blocks until the worker exits (shutdown, idle timeout, or pipe
// closure) and returns the process exit code.
func Run(cfg Config) int {
	w := &worker{
		cfg:     cfg,
		taskR:   bufio.NewReader(cfg.TaskR),
		taskW:   cfg.TaskW,
		healthR: bufio.NewReader(cfg.HealthR),
		healthW: cfg.HealthW,
		cache:   make(map[string]eventbus.Handler),
	}
	w.touch()

	go w.serveHealth()

	idleExit := make(chan struct{})
	if cfg.IdleTimeout > 0 {
		go w.watchIdle(idleExit)
	}

	taskDone := make(chan int, 1)
	go func() { taskDone <- w.serveTasks() }()

	select {
	case code := <-taskDone:
		return code
	case <-idleExit:
		log.Info("corelet child: idle timeout, exiting", "worker_id", w.cfg.WorkerID)
		return 0
	}
}

func (w *worker) touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *worker) lastActivityUnix() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity.Unix()
}

// serveTasks is the main loop reading the task pipe until SHUTDOWN, EOF, or
// a decode error.
func (w *worker) serveTasks() int {
	for {
		rec, err := wire.Decode(w.taskR)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0
			}
			log.Error("corelet child: task pipe decode failed", "error", err)
			return 1
		}
		w.touch()

		switch rec.Kind {
		case wire.KindShutdown:
			_ = wire.Encode(w.taskW, wire.KindShutdownAck, struct{}{})
			return 0
		case wire.KindRegister:
			w.handleRegister(rec)
		case wire.KindTask:
			w.handleTask(rec)
		default:
			log.Warn("corelet child: unexpected record kind on task pipe", "kind", rec.Kind)
		}
	}
}

func (w *worker) handleRegister(rec wire.Record) {
	var req wire.TaskRequest
	if err := rec.Unmarshal(&req); err != nil || req.HandlerLocator == nil {
		_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{Success: false, Exception: "corelet child: malformed register request"})
		return
	}
	if _, err := w.resolve(req.HandlerLocator); err != nil {
		_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{Success: false, Exception: err.Error()})
		return
	}
	_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{Success: true})
}

func (w *worker) handleTask(rec wire.Record) {
	var req wire.TaskRequest
	if err := rec.Unmarshal(&req); err != nil || req.Event == nil {
		_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{Success: false, Exception: "corelet child: malformed task request"})
		return
	}
	ev := req.Event

	handler, err := w.resolve(req.HandlerLocator)
	if err != nil {
		_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{EventID: ev.EventID, Success: false, Exception: err.Error()})
		return
	}

	ec := &eventbus.EventContext{
		Storage:   eventbus.NewThreadLocalStorage(),
		ProcessID: os.Getpid(),
		Worker:    w,
		Timestamp: time.Now(),
	}

	data, err := w.runHandler(handler, ec, ev)
	if err != nil {
		_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{EventID: ev.EventID, Success: false, Exception: err.Error()})
		return
	}
	_ = wire.Encode(w.taskW, wire.KindResult, wire.TaskResult{EventID: ev.EventID, Success: true, Data: data})
}

// runHandler guards a single handler invocation with the event's own
// timeout and recovers a handler panic into an error result, so one bad
// handler cannot take the worker process down with it.
func (w *worker) runHandler(handler eventbus.Handler, ec *eventbus.EventContext, ev *eventbus.Event) (data []byte, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), ev.Timeout)
	defer cancel()

	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, fmt.Errorf("handler panic: %v", r)}
			}
		}()
		d, e := handler.Handle(ctx, ec, ev)
		done <- outcome{d, e}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		return nil, errors.New("corelet child: handler did not return before timeout")
	}
}

func (w *worker) resolve(loc *eventbus.HandlerLocator) (eventbus.Handler, error) {
	if loc == nil {
		return nil, errors.New("corelet child: missing handler_locator")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.cache[loc.EventType]; ok {
		return h, nil
	}
	h, err := w.cfg.Handlers.Create(loc.EventType)
	if err != nil {
		return nil, err
	}
	w.cache[loc.EventType] = h
	return h, nil
}

// SendAlive implements eventbus.AliveSignaler, letting a long-running
// handler report progress over the health pipe - spec.md §4.B "in-band
// ALIVE signal."
func (w *worker) SendAlive(status string) {
	w.healthWMu.Lock()
	defer w.healthWMu.Unlock()
	_ = wire.Encode(w.healthW, wire.KindAlive, wire.Alive{ComputationStatus: status})
}

var _ eventbus.AliveSignaler = (*worker)(nil)

// serveHealth answers PING with PONG and HealthShutdown with
// ShutdownComplete until the health pipe closes.
func (w *worker) serveHealth() {
	for {
		rec, err := wire.Decode(w.healthR)
		if err != nil {
			return
		}
		switch rec.Kind {
		case wire.KindPing:
			w.healthWMu.Lock()
			_ = wire.Encode(w.healthW, wire.KindPong, wire.Pong{LastAliveTimestamp: w.lastActivityUnix(), Status: "ok"})
			w.healthWMu.Unlock()
		case wire.KindHealthShutdown:
			w.healthWMu.Lock()
			_ = wire.Encode(w.healthW, wire.KindShutdownComplete, wire.ShutdownComplete{WorkerID: w.cfg.WorkerID})
			w.healthWMu.Unlock()
			return
		}
	}
}

// watchIdle declares the worker dead and exits if IdleTimeout elapses
// without a task-pipe record - spec.md §4.B step 5.
func (w *worker) watchIdle(exit chan struct{}) {
	interval := w.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		w.mu.Lock()
		idleFor := time.Since(w.lastActivity)
		w.mu.Unlock()

		if idleFor >= w.cfg.IdleTimeout {
			w.healthWMu.Lock()
			_ = wire.Encode(w.healthW, wire.KindDied, wire.Died{WorkerID: w.cfg.WorkerID})
			w.healthWMu.Unlock()
			close(exit)
			return
		}
	}
}
