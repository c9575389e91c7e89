package cmdhandler

import (
	"context"
	"testing"

	"github.com/ChuLiYu/eventbus/internal/registry"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHandlerIsNoop(t *testing.T) {
	h := ShutdownHandler{}
	assert.Equal(t, eventbus.ExecThread, h.PreferredExecMode())

	data, err := h.Handle(context.Background(), &eventbus.EventContext{}, &eventbus.Event{})
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCmdExecutionHandlerRunsCommand(t *testing.T) {
	h := CmdExecutionHandler{}
	ev := &eventbus.Event{Data: []byte("echo hello")}

	out, err := h.Handle(context.Background(), &eventbus.EventContext{}, ev)
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestCmdExecutionHandlerReturnsErrorOnFailure(t *testing.T) {
	h := CmdExecutionHandler{}
	ev := &eventbus.Event{Data: []byte("exit 1")}

	_, err := h.Handle(context.Background(), &eventbus.EventContext{}, ev)
	assert.Error(t, err)
}

func TestRegisterInstallsInternalEventTypes(t *testing.T) {
	r := registry.New()
	Register(r)

	assert.True(t, r.IsRegistered(registry.ShutdownEventType))
	assert.True(t, r.IsRegistered(registry.CmdExecutionEventType))

	h, err := r.Create(registry.ShutdownEventType)
	require.NoError(t, err)
	_, ok := h.(ShutdownHandler)
	assert.True(t, ok)

	h, err = r.Create(registry.CmdExecutionEventType)
	require.NoError(t, err)
	_, ok = h.(CmdExecutionHandler)
	assert.True(t, ok)
}
