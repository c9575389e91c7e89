package bus

import "errors"

// The error taxonomy from spec.md §7, as sentinel/wrapped errors.
var (
	ErrValidation         = errors.New("bus: event failed validation")
	ErrNoHandlerRegistered = errors.New("bus: no handler registered for event type")
	ErrHandlerExecution   = errors.New("bus: handler returned an error")
	ErrTimeout            = errors.New("bus: event did not complete before its timeout")
	ErrWorkerDied         = errors.New("bus: worker process died while executing the event")
	ErrShutdownInProgress = errors.New("bus: bus is shutting down, no new events accepted")
)
