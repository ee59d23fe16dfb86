package manager

import "sync"

// MemoryPublisher stores events in-memory. The CLI uses it to print a run
// timeline; tests use it to assert ordering.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ForTask returns the names of the events recorded for one task, in order.
func (p *MemoryPublisher) ForTask(id int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.TaskID == id {
			out = append(out, e.Name)
		}
	}
	return out
}
