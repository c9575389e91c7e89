package wire

import "github.com/ChuLiYu/eventbus/pkg/eventbus"

// TaskRequest is the pool->worker task-pipe payload for both KindRegister
// (HandlerLocator only, Event nil) and KindTask (full Event + locator) -
// spec.md §6 task pipe table.
type TaskRequest struct {
	Event          *eventbus.Event         `json:"event,omitempty"`
	HandlerLocator *eventbus.HandlerLocator `json:"handler_locator"`
}

// TaskResult is the worker->pool task-pipe payload.
type TaskResult struct {
	EventID   eventbus.EventID `json:"event_id"`
	Success   bool             `json:"success"`
	Data      []byte           `json:"data,omitempty"`
	Exception string           `json:"exception,omitempty"`
}

// Pong is the worker->pool health-pipe reply to a Ping.
type Pong struct {
	LastAliveTimestamp int64  `json:"last_alive_timestamp"`
	Status             string `json:"status,omitempty"`
}

// Alive is an in-band progress signal a handler emits via
// EventContext.Worker.SendAlive during a long computation.
type Alive struct {
	ComputationStatus string `json:"computation_status,omitempty"`
}

// Died announces that the worker is declaring itself dead (health handler
// side) - spec.md §4.B step 5 / health handler bullet.
type Died struct {
	WorkerID string `json:"worker_id"`
}

// ShutdownComplete acknowledges a Shutdown on the health pipe.
type ShutdownComplete struct {
	WorkerID string `json:"worker_id"`
}
