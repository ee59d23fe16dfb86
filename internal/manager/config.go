package manager

import (
	"github.com/rs/zerolog"

	"taskd/internal/engine"
	"taskd/internal/sampling"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultContextSize = 2048
	defaultHistoryCap  = sampling.HistoryCap
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Engine is shared read-only by all tasks. Required.
	Engine engine.Engine
	// ContextSize sizes every per-task decoding context.
	ContextSize int
	// MaxConcurrent caps tasks decoding at once; 0 means unbounded.
	MaxConcurrent int
	// DefaultSampler is the sampler a task starts with. Nil means greedy.
	DefaultSampler *sampling.Config
	// HistoryCap bounds the per-task repetition history.
	HistoryCap int

	Publisher EventPublisher
	Logger    *zerolog.Logger
}
