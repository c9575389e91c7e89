package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidEvent() *Event {
	return &Event{
		EventID:   "evt-1",
		EventType: "test.event",
		ExecMode:  ExecSync,
		Timeout:   time.Second,
		Priority:  DefaultPriority,
	}
}

func TestExecModeIsValid(t *testing.T) {
	assert.True(t, ExecSync.IsValid())
	assert.True(t, ExecThread.IsValid())
	assert.True(t, ExecCorelet.IsValid())
	assert.True(t, ExecCmd.IsValid())
	assert.False(t, ExecMode("bogus").IsValid())
	assert.False(t, ExecMode("").IsValid())
}

func TestEventValidate(t *testing.T) {
	t.Run("valid event passes", func(t *testing.T) {
		ev := newValidEvent()
		require.NoError(t, ev.Validate())
	})

	t.Run("empty event_type rejected", func(t *testing.T) {
		ev := newValidEvent()
		ev.EventType = ""
		assert.Error(t, ev.Validate())
	})

	t.Run("unknown exec_mode rejected", func(t *testing.T) {
		ev := newValidEvent()
		ev.ExecMode = "bogus"
		assert.Error(t, ev.Validate())
	})

	t.Run("sub-second timeout rejected", func(t *testing.T) {
		ev := newValidEvent()
		ev.Timeout = 500 * time.Millisecond
		assert.Error(t, ev.Validate())
	})

	t.Run("zero timeout rejected", func(t *testing.T) {
		ev := newValidEvent()
		ev.Timeout = 0
		assert.Error(t, ev.Validate())
	})

	t.Run("negative max_retries rejected", func(t *testing.T) {
		ev := newValidEvent()
		ev.MaxRetries = -1
		assert.Error(t, ev.Validate())
	})

	t.Run("priority out of range rejected", func(t *testing.T) {
		ev := newValidEvent()
		ev.Priority = MaxPriority + 1
		assert.Error(t, ev.Validate())

		ev.Priority = MinPriority - 1
		assert.Error(t, ev.Validate())
	})

	t.Run("boundary priorities accepted", func(t *testing.T) {
		ev := newValidEvent()
		ev.Priority = MinPriority
		assert.NoError(t, ev.Validate())

		ev.Priority = MaxPriority
		assert.NoError(t, ev.Validate())
	})
}

func TestThreadLocalStorage(t *testing.T) {
	tls := NewThreadLocalStorage()

	_, ok := tls.Get("missing")
	assert.False(t, ok)

	tls.Set("key", 42)
	v, ok := tls.Get("key")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestNewEventIDUnique(t *testing.T) {
	a := NewEventID()
	b := NewEventID()
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

func TestNoopProgressTracker(t *testing.T) {
	var tracker ProgressTracker = NoopProgressTracker{}
	ev := newValidEvent()
	assert.NotPanics(t, func() {
		tracker.OnPublished(ev)
		tracker.OnStarted(ev)
		tracker.OnCompleted(ev, true)
	})
}
