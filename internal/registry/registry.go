// ============================================================================
// Eventbus Handler Registry
// ============================================================================
//
// Package: internal/registry
// File: registry.go
// Purpose: Process-global, thread-safe map from event_type to a handler
// constructor and its serializable locator.
//
// Lifecycle: entries are created on Register and never deleted - the same
// guarantee jobmanager.JobManager gives its jobs map, just for handler
// identities instead of job state.
//
// Concurrency: a single sync.RWMutex protects the map. Go has no portable
// reentrant mutex, so (unlike the Python original) internal methods never
// re-lock; Register/Create/Locator/IsRegistered each take the lock once and
// release it before returning.
//
// Two internal event types are always registered by internal/cmdhandler's
// Register helper, called once from the bus constructor: ShutdownEventType
// (signals a worker/thread to terminate) and CmdExecutionEventType (runs a
// shell command in cmd mode).
//
// ============================================================================

package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

// Internal event types that are always registered.
const (
	ShutdownEventType     = "_shutdown"
	CmdExecutionEventType = "_cmd_execution"
)

// ErrNoHandlerRegistered indicates no entry exists for the requested event
// type. Terminal; no retry makes sense for it.
var ErrNoHandlerRegistered = errors.New("registry: no handler registered for event type")

// HandlerFactory builds a fresh Handler instance. Registries store
// constructors rather than shared instances so every Create() call (and
// every worker-process handler cache miss) gets its own instance, matching
// the Python original's "instantiates" contract.
type HandlerFactory func(args ...any) (eventbus.Handler, error)

type entry struct {
	factory    HandlerFactory
	modulePath string
	className  string
}

// Registry is a process-wide map from event_type to handler identity.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry. bus.New builds its own registry with New;
// the package-level Default() singleton is the one cmd/eventbus-corelet
// registers its handlers into.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register records a handler factory and its locator. Last writer wins.
func (r *Registry) Register(eventType, modulePath, className string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[eventType] = entry{factory: factory, modulePath: modulePath, className: className}
}

// Create instantiates a handler for eventType.
func (r *Registry) Create(eventType string, args ...any) (eventbus.Handler, error) {
	r.mu.RLock()
	e, ok := r.entries[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, eventType)
	}
	return e.factory(args...)
}

// Locator returns the serializable handler identity used to carry a
// handler's identity across a process boundary in corelet mode.
func (r *Registry) Locator(eventType string) (*eventbus.HandlerLocator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, eventType)
	}
	return &eventbus.HandlerLocator{
		ModulePath: e.modulePath,
		ClassName:  e.className,
		EventType:  eventType,
	}, nil
}

// IsRegistered reports whether eventType has a registered handler.
func (r *Registry) IsRegistered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[eventType]
	return ok
}

var defaultRegistry = New()

// Default returns the process-global registry singleton.
func Default() *Registry { return defaultRegistry }
