package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskd/internal/engine"
	"taskd/internal/sampling"
)

// Status is the externally observable state of a task.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusFinished    Status = "finished"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	StatusInvalidID   Status = "invalid_id"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusInterrupted
}

// Task is one generation request and its execution state. Every field below
// the immutable block is guarded by Manager.mu.
type Task struct {
	ID        int64
	TraceID   uuid.UUID
	Prompt    string
	MaxTokens int
	CreatedAt time.Time

	status          Status
	result          []byte
	generated       int
	errMsg          string
	cancelRequested bool
	sampler         sampling.Config
	terminator      string
	startedAt       time.Time
	endedAt         time.Time

	// set once by the worker
	engCtx  engine.Context
	history *sampling.History
	cancel  context.CancelFunc

	// removed from the map by Shutdown; the worker frees engCtx on exit
	retired bool
}

// job is the configuration a worker runs with, captured at Start. Sampler and
// terminator cannot change once a task leaves the queue.
type job struct {
	prompt     string
	maxTokens  int
	sampler    sampling.Config
	terminator string
}

// outcome is how a worker run ended.
type outcome struct {
	status Status
	err    error
}
