package child

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ChuLiYu/eventbus/internal/corelet/wire"
	"github.com/ChuLiYu/eventbus/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandlers struct {
	fn func(ctx context.Context, ec *eventbus.EventContext, ev *eventbus.Event) ([]byte, error)
}

func (f fakeHandlers) Create(eventType string, _ ...any) (eventbus.Handler, error) {
	return fakeHandler{fn: f.fn}, nil
}

type fakeHandler struct {
	fn func(ctx context.Context, ec *eventbus.EventContext, ev *eventbus.Event) ([]byte, error)
}

func (h fakeHandler) Handle(ctx context.Context, ec *eventbus.EventContext, ev *eventbus.Event) ([]byte, error) {
	return h.fn(ctx, ec, ev)
}

func (fakeHandler) PreferredExecMode() eventbus.ExecMode { return eventbus.ExecCorelet }

// harness wires a worker's pipes to in-process io.Pipe ends so the test can
// drive the protocol as the pool side would, without spawning a process.
type harness struct {
	taskToChild    *io.PipeWriter
	taskFromChild  *io.PipeReader
	healthToChild  *io.PipeWriter
	healthFromChild *io.PipeReader

	done chan int
}

func newHarness(t *testing.T, handlers HandlerSource, idleTimeout time.Duration) *harness {
	taskR, taskToChild := io.Pipe()
	taskFromChild, taskW := io.Pipe()
	healthR, healthToChild := io.Pipe()
	healthFromChild, healthW := io.Pipe()

	h := &harness{
		taskToChild:     taskToChild,
		taskFromChild:   taskFromChild,
		healthToChild:   healthToChild,
		healthFromChild: healthFromChild,
		done:            make(chan int, 1),
	}

	go func() {
		h.done <- Run(Config{
			WorkerID:    "test-worker",
			TaskR:       taskR,
			TaskW:       taskW,
			HealthR:     healthR,
			HealthW:     healthW,
			IdleTimeout: idleTimeout,
			Handlers:    handlers,
		})
	}()

	return h
}

func TestChildHandlesRegisterThenTask(t *testing.T) {
	handlers := fakeHandlers{fn: func(ctx context.Context, ec *eventbus.EventContext, ev *eventbus.Event) ([]byte, error) {
		return []byte("handled:" + ev.EventType), nil
	}}
	h := newHarness(t, handlers, 0)
	defer h.taskToChild.Close()

	require.NoError(t, wire.Encode(h.taskToChild, wire.KindRegister, wire.TaskRequest{
		HandlerLocator: &eventbus.HandlerLocator{EventType: "greet"},
	}))
	rec, err := wire.Decode(h.taskFromChild)
	require.NoError(t, err)
	var ack wire.TaskResult
	require.NoError(t, rec.Unmarshal(&ack))
	assert.True(t, ack.Success)

	require.NoError(t, wire.Encode(h.taskToChild, wire.KindTask, wire.TaskRequest{
		Event:          &eventbus.Event{EventID: "e1", EventType: "greet", Timeout: time.Second},
		HandlerLocator: &eventbus.HandlerLocator{EventType: "greet"},
	}))
	rec, err = wire.Decode(h.taskFromChild)
	require.NoError(t, err)
	var result wire.TaskResult
	require.NoError(t, rec.Unmarshal(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "handled:greet", string(result.Data))
}

func TestChildRegisterRejectsMissingLocator(t *testing.T) {
	handlers := fakeHandlers{fn: func(context.Context, *eventbus.EventContext, *eventbus.Event) ([]byte, error) {
		t.Fatal("handler should never run for a malformed register")
		return nil, nil
	}}
	h := newHarness(t, handlers, 0)
	defer h.taskToChild.Close()

	require.NoError(t, wire.Encode(h.taskToChild, wire.KindRegister, wire.TaskRequest{}))
	rec, err := wire.Decode(h.taskFromChild)
	require.NoError(t, err)
	var ack wire.TaskResult
	require.NoError(t, rec.Unmarshal(&ack))
	assert.False(t, ack.Success)
}

func TestChildHandlerErrorIsReportedNotFatal(t *testing.T) {
	handlers := fakeHandlers{fn: func(context.Context, *eventbus.EventContext, *eventbus.Event) ([]byte, error) {
		return nil, assertErr
	}}
	h := newHarness(t, handlers, 0)
	defer h.taskToChild.Close()

	require.NoError(t, wire.Encode(h.taskToChild, wire.KindTask, wire.TaskRequest{
		Event:          &eventbus.Event{EventID: "e1", EventType: "boom", Timeout: time.Second},
		HandlerLocator: &eventbus.HandlerLocator{EventType: "boom"},
	}))
	rec, err := wire.Decode(h.taskFromChild)
	require.NoError(t, err)
	var result wire.TaskResult
	require.NoError(t, rec.Unmarshal(&result))
	assert.False(t, result.Success)
	assert.Equal(t, assertErr.Error(), result.Exception)
}

func TestChildHandlerPanicIsRecovered(t *testing.T) {
	handlers := fakeHandlers{fn: func(context.Context, *eventbus.EventContext, *eventbus.Event) ([]byte, error) {
		panic("handler exploded")
	}}
	h := newHarness(t, handlers, 0)
	defer h.taskToChild.Close()

	require.NoError(t, wire.Encode(h.taskToChild, wire.KindTask, wire.TaskRequest{
		Event:          &eventbus.Event{EventID: "e1", EventType: "panics", Timeout: time.Second},
		HandlerLocator: &eventbus.HandlerLocator{EventType: "panics"},
	}))
	rec, err := wire.Decode(h.taskFromChild)
	require.NoError(t, err)
	var result wire.TaskResult
	require.NoError(t, rec.Unmarshal(&result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Exception, "handler panic")
}

func TestChildShutdownAcksAndExits(t *testing.T) {
	handlers := fakeHandlers{}
	h := newHarness(t, handlers, 0)

	require.NoError(t, wire.Encode(h.taskToChild, wire.KindShutdown, struct{}{}))
	rec, err := wire.Decode(h.taskFromChild)
	require.NoError(t, err)
	assert.Equal(t, wire.KindShutdownAck, rec.Kind)

	select {
	case code := <-h.done:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after shutdown")
	}
}

func TestChildAnswersHealthPing(t *testing.T) {
	handlers := fakeHandlers{}
	h := newHarness(t, handlers, 0)
	defer h.taskToChild.Close()

	require.NoError(t, wire.Encode(h.healthToChild, wire.KindPing, struct{}{}))
	rec, err := wire.Decode(h.healthFromChild)
	require.NoError(t, err)
	assert.Equal(t, wire.KindPong, rec.Kind)
}

func TestChildIdleTimeoutDeclaresDied(t *testing.T) {
	handlers := fakeHandlers{}
	h := newHarness(t, handlers, 20*time.Millisecond)
	defer h.taskToChild.Close()

	rec, err := wire.Decode(h.healthFromChild)
	require.NoError(t, err)
	assert.Equal(t, wire.KindDied, rec.Kind)

	select {
	case code := <-h.done:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after declaring itself dead")
	}
}

var assertErr = errDeliberate{}

type errDeliberate struct{}

func (errDeliberate) Error() string { return "deliberate handler failure" }
