package main

import (
	"io"
	"time"

	"taskd/internal/manager"
	"taskd/pkg/types"
)

type followOptions struct {
	interval time.Duration
	capacity int
	// stream receives new text as polls observe it; nil disables streaming.
	stream io.Writer
	// interrupt, when closed, cancels the task once.
	interrupt   <-chan struct{}
	onInterrupt func()
}

// followTask polls id until a poll retires it and returns that final
// snapshot. Text already written to stream is never repeated.
func followTask(m *manager.Manager, id int64, opts followOptions) (types.TaskSnapshot, error) {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	printed := 0
	interrupt := opts.interrupt
	for {
		snap, err := m.Poll(id, opts.capacity)
		if err != nil {
			return snap, err
		}
		if opts.stream != nil && len(snap.Text) > printed {
			if _, err := io.WriteString(opts.stream, snap.Text[printed:]); err != nil {
				m.Cancel(id)
				return snap, err
			}
			printed = len(snap.Text)
		}
		if snap.Retired {
			return snap, nil
		}
		select {
		case <-ticker.C:
		case <-interrupt:
			interrupt = nil
			m.Cancel(id)
			if opts.onInterrupt != nil {
				opts.onInterrupt()
			}
		}
	}
}
