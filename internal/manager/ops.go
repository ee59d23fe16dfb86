package manager

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskd/internal/engine"
	"taskd/internal/sampling"
	"taskd/pkg/types"
)

// SamplerAck reports the configuration a task will actually run with.
type SamplerAck struct {
	Status      Status
	Config      sampling.Config
	Adjustments []sampling.Adjustment
}

// Submit registers a new queued task and returns its id. Ids start at 1 and
// are never reused.
func (m *Manager) Submit(prompt string, maxTokens int) (int64, error) {
	if maxTokens <= 0 {
		return 0, ErrInvalidMaxTokens
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	id := m.nextID
	m.nextID++
	t := &Task{
		ID:        id,
		TraceID:   uuid.New(),
		Prompt:    prompt,
		MaxTokens: maxTokens,
		CreatedAt: time.Now(),
		status:    StatusQueued,
		sampler:   m.defaultSampler,
	}
	m.tasks[id] = t
	m.mu.Unlock()

	tasksSubmittedTotal.Inc()
	m.log.Debug().Int64("task_id", id).Str("trace_id", t.TraceID.String()).Int("max_tokens", maxTokens).Msg("task submitted")
	m.publisher.Publish(Event{Name: EventSubmitted, TaskID: id, Fields: map[string]any{"max_tokens": maxTokens}})
	return id, nil
}

// SetTerminator sets the stop string. Empty disables it. Only queued tasks
// accept it; for others the current status is returned with an error.
func (m *Manager) SetTerminator(id int64, text string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return StatusInvalidID, countInvalid("set_terminator", err)
	}
	if t.status != StatusQueued {
		return t.status, notQueuedError{id: id, status: t.status}
	}
	t.terminator = text
	return t.status, nil
}

// SetSampler replaces the sampler configuration of a queued task. Out of
// range values are clamped and reported in the ack.
func (m *Manager) SetSampler(id int64, cfg sampling.Config) (SamplerAck, error) {
	norm, adj := cfg.Normalize()
	m.mu.Lock()
	t, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return SamplerAck{Status: StatusInvalidID}, countInvalid("set_sampler", err)
	}
	if t.status != StatusQueued {
		st := t.status
		m.mu.Unlock()
		return SamplerAck{Status: st, Config: norm, Adjustments: adj}, notQueuedError{id: id, status: st}
	}
	t.sampler = norm
	trace := t.TraceID
	m.mu.Unlock()

	for _, a := range adj {
		samplerAdjustmentsTotal.WithLabelValues(a.Field).Inc()
		m.log.Warn().Int64("task_id", id).Str("trace_id", trace.String()).Str("field", a.Field).
			Float64("from", a.From).Float64("to", a.To).Msg("sampler parameter clamped")
	}
	return SamplerAck{Status: StatusQueued, Config: norm, Adjustments: adj}, nil
}

// SetSamplerGreedy switches a queued task to argmax decoding.
func (m *Manager) SetSamplerGreedy(id int64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return StatusInvalidID, countInvalid("set_sampler", err)
	}
	if t.status != StatusQueued {
		return t.status, notQueuedError{id: id, status: t.status}
	}
	t.sampler.Mode = sampling.Greedy
	return t.status, nil
}

// Start launches the worker for a queued task. Starting a task in any other
// status is a no-op that reports the current status.
func (m *Manager) Start(id int64) (Status, error) {
	m.mu.Lock()
	t, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return StatusInvalidID, countInvalid("start", err)
	}
	if t.status != StatusQueued {
		st := t.status
		m.mu.Unlock()
		return st, nil
	}
	if m.closed {
		m.mu.Unlock()
		return StatusQueued, ErrClosed
	}
	t.status = StatusRunning
	t.startedAt = time.Now()
	ctx, cancel := context.WithCancel(m.baseCtx)
	t.cancel = cancel
	if t.cancelRequested {
		cancel()
	}
	j := job{prompt: t.Prompt, maxTokens: t.MaxTokens, sampler: t.sampler, terminator: t.terminator}
	m.workers++
	m.wg.Add(1)
	m.mu.Unlock()

	runningWorkers.Inc()
	m.log.Info().Int64("task_id", id).Str("trace_id", t.TraceID.String()).
		Str("sampler", j.sampler.Mode.String()).Msg("task started")
	m.publisher.Publish(Event{Name: EventStarted, TaskID: id})
	go m.runWorker(ctx, t, j)
	return StatusRunning, nil
}

// Cancel requests cooperative cancellation and returns immediately with the
// status at the time of the call. A queued task keeps the request and stops
// at its first step once started. Cancelling a terminal task does nothing.
func (m *Manager) Cancel(id int64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return StatusInvalidID, countInvalid("cancel", err)
	}
	if t.status.Terminal() {
		return t.status, nil
	}
	t.cancelRequested = true
	if t.cancel != nil {
		t.cancel()
	}
	m.log.Debug().Int64("task_id", id).Str("status", string(t.status)).Msg("cancel requested")
	return t.status, nil
}

// Poll returns a consistent snapshot of the task with at most capacity-1
// bytes of text, never splitting a UTF-8 sequence. A poll that observes a
// terminal status retires the task: its decoding context is freed and the id
// becomes invalid.
func (m *Manager) Poll(id int64, capacity int) (types.TaskSnapshot, error) {
	m.mu.Lock()
	t, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return types.TaskSnapshot{ID: id, Status: string(StatusInvalidID)}, countInvalid("poll", err)
	}
	snap := types.TaskSnapshot{
		ID:              id,
		TraceID:         t.TraceID.String(),
		Status:          string(t.status),
		GeneratedTokens: t.generated,
		MaxTokens:       t.MaxTokens,
		Error:           t.errMsg,
	}
	if capacity < 1 {
		capacity = 1
	}
	snap.Text, snap.Truncated = clip(t.result, capacity-1)

	var release engine.Context
	if t.status.Terminal() {
		delete(m.tasks, id)
		t.retired = true
		release, t.engCtx = t.engCtx, nil
		if t.cancel != nil {
			t.cancel()
		}
		snap.Retired = true
	}
	m.mu.Unlock()

	if snap.Retired {
		m.closeContext(id, release)
		m.log.Debug().Int64("task_id", id).Str("status", snap.Status).Msg("task retired")
		m.publisher.Publish(Event{Name: EventRetired, TaskID: id, Fields: map[string]any{"status": snap.Status}})
	}
	return snap, nil
}

// Shutdown stops every worker, waits for them until ctx is done and frees all
// decoding contexts. Workers still running when ctx expires free their own
// context on exit. The engine stays open; close it after Shutdown returns.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	live := len(m.tasks)
	for _, t := range m.tasks {
		if !t.status.Terminal() {
			t.cancelRequested = true
		}
	}
	m.mu.Unlock()

	m.log.Info().Int("tasks", live).Msg("shutdown: cancelling workers")
	m.cancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		m.log.Warn().Err(waitErr).Msg("shutdown: workers still running")
	}

	m.mu.Lock()
	var release []engine.Context
	for id, t := range m.tasks {
		t.retired = true
		// A running worker still owns its context and frees it on exit.
		if t.status != StatusRunning && t.engCtx != nil {
			release = append(release, t.engCtx)
			t.engCtx = nil
		}
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	for _, c := range release {
		m.closeContext(0, c)
	}
	m.publisher.Publish(Event{Name: EventShutdown, Fields: map[string]any{"tasks": live, "timed_out": waitErr != nil}})
	return waitErr
}

func (m *Manager) closeContext(id int64, c engine.Context) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		m.log.Warn().Err(err).Int64("task_id", id).Msg("close decoding context")
	}
}

// clip returns at most n bytes of b, backing off to a rune boundary.
func clip(b []byte, n int) (string, bool) {
	if n < 0 {
		n = 0
	}
	if len(b) <= n {
		return string(b), false
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]), true
}
