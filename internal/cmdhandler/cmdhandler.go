// ============================================================================
// Internal Event Handlers
// ============================================================================
//
// Package: internal/cmdhandler
// Purpose: Implements the two event types the registry always pre-registers:
// "_shutdown" (signals a worker/thread to terminate) and "_cmd_execution"
// (runs a shell command in cmd exec mode, §4.A / §11 of SPEC_FULL.md).
//
// ============================================================================

package cmdhandler

import (
	"context"
	"os/exec"

	"github.com/ChuLiYu/eventbus/internal/registry"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

// ShutdownHandler is a no-op: neither the thread pool nor the corelet pool
// treats ShutdownEventType specially, so an event of that type runs this
// handler like any other, succeeds with no data, and stops no worker.
type ShutdownHandler struct{}

func (ShutdownHandler) Handle(context.Context, *eventbus.EventContext, *eventbus.Event) ([]byte, error) {
	return nil, nil
}

func (ShutdownHandler) PreferredExecMode() eventbus.ExecMode { return eventbus.ExecThread }

// CmdExecutionHandler runs Event.Data (a shell command line) via
// os/exec.CommandContext, honoring the event's timeout through ctx.
//
// Stdlib-over-ecosystem: os/exec is the idiomatic, and only, tool in the
// pack for running an external command; no retrieved repo imports a
// higher-level shell-exec library for this concern.
type CmdExecutionHandler struct{}

func (CmdExecutionHandler) Handle(ctx context.Context, _ *eventbus.EventContext, ev *eventbus.Event) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", string(ev.Data))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, err
	}
	return out, nil
}

func (CmdExecutionHandler) PreferredExecMode() eventbus.ExecMode { return eventbus.ExecThread }

// Register installs both internal handlers into r. Called once from the bus
// constructor so every new bus starts with the two always-present event
// types from spec.md §4.A.
func Register(r *registry.Registry) {
	r.Register(registry.ShutdownEventType, "internal/cmdhandler", "ShutdownHandler",
		func(...any) (eventbus.Handler, error) { return ShutdownHandler{}, nil })
	r.Register(registry.CmdExecutionEventType, "internal/cmdhandler", "CmdExecutionHandler",
		func(...any) (eventbus.Handler, error) { return CmdExecutionHandler{}, nil })
}
