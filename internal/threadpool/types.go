package threadpool

import "github.com/ChuLiYu/eventbus/pkg/eventbus"

// Task is a unit of work submitted to the thread pool. It wraps the public
// Event together with the bookkeeping the pool needs to retry it.
type Task struct {
	Event    *eventbus.Event
	Attempt  int // attempts already made, 0 before the first try
	Priority int // snapshot of Event.Priority at enqueue time
}

// Result wraps the outcome of a finalized task. The pool itself reports
// outcomes through ResultSink.OnFinalized as a plain eventbus.EventResult.
type Result struct {
	eventbus.EventResult
}

// ResultSink receives finalized results and per-event lifecycle
// notifications. internal/bus implements this to feed its result store,
// progress trackers, and metrics without the pool importing the bus
// package.
type ResultSink interface {
	OnStarted(ev *eventbus.Event)
	OnRetried(ev *eventbus.Event, attempt int)
	OnFinalized(res eventbus.EventResult, ev *eventbus.Event)
}
