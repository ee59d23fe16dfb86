package manager

import (
	"time"

	"taskd/pkg/types"
)

// Status summarizes the registry.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := types.StatusResponse{
		Workers:       m.workers,
		MaxConcurrent: m.maxConcurrent,
		NextID:        m.nextID,
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		TokensTotal:   m.tokens,
		Closed:        m.closed,
	}
	for _, t := range m.tasks {
		switch t.status {
		case StatusQueued:
			resp.Queued++
		case StatusRunning:
			resp.Running++
		case StatusFinished:
			resp.Finished++
		case StatusError:
			resp.Errored++
		case StatusInterrupted:
			resp.Interrupted++
		}
	}
	return resp
}
