package manager

// Event represents a task lifecycle event.
// Minimal and stable: name + task ID and optional fields via key/values.
type Event struct {
	Name   string
	TaskID int64
	Fields map[string]any
}

// Event names published by the manager.
const (
	EventSubmitted = "task_submitted"
	EventStarted   = "task_started"
	EventFinished  = "task_finished"
	EventRetired   = "task_retired"
	EventShutdown  = "shutdown"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
