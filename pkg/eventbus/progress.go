package eventbus

// NoopProgressTracker discards every notification. The bus does not install
// it on events; an Event with a nil ProgressTracker simply receives no
// notifications.
type NoopProgressTracker struct{}

func (NoopProgressTracker) OnPublished(*Event)            {}
func (NoopProgressTracker) OnStarted(*Event)              {}
func (NoopProgressTracker) OnCompleted(*Event, bool)      {}

var _ ProgressTracker = NoopProgressTracker{}
