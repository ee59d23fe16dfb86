package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"taskd/internal/engine"
	"taskd/internal/sampling"
)

// Manager is the task registry. Construct one per process, drive it from any
// number of goroutines, and call Shutdown before freeing the engine.
type Manager struct {
	mu      sync.Mutex
	tasks   map[int64]*Task
	nextID  int64
	closed  bool
	workers int
	tokens  uint64

	eng            engine.Engine
	contextSize    int
	historyCap     int
	defaultSampler sampling.Config
	maxConcurrent  int
	sem            *semaphore.Weighted

	// baseCtx parents every task context; cancelAll stops all workers.
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	publisher EventPublisher
	log       zerolog.Logger
	startTime time.Time
}

// New constructs a Manager from ManagerConfig.
func New(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, ErrNoEngine
	}
	m := &Manager{
		tasks:         make(map[int64]*Task),
		nextID:        1,
		eng:           cfg.Engine,
		contextSize:   cfg.ContextSize,
		historyCap:    cfg.HistoryCap,
		maxConcurrent: cfg.MaxConcurrent,
		publisher:     cfg.Publisher,
		startTime:     time.Now(),
	}
	// Apply defaults if unset
	if m.contextSize <= 0 {
		m.contextSize = defaultContextSize
	}
	if m.historyCap <= 0 {
		m.historyCap = defaultHistoryCap
	}
	if cfg.DefaultSampler != nil {
		m.defaultSampler, _ = cfg.DefaultSampler.Normalize()
	} else {
		m.defaultSampler, _ = sampling.DefaultConfig().Normalize()
	}
	if m.maxConcurrent > 0 {
		m.sem = semaphore.NewWeighted(int64(m.maxConcurrent))
	} else {
		m.maxConcurrent = 0
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	m.baseCtx, m.cancelAll = context.WithCancel(context.Background())
	return m, nil
}

// Engine returns the engine shared by all tasks.
func (m *Manager) Engine() engine.Engine { return m.eng }

// ContextSize returns the size of every per-task decoding context.
func (m *Manager) ContextSize() int { return m.contextSize }

// lookup returns the live task for id. Caller holds m.mu.
func (m *Manager) lookup(id int64) (*Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, invalidIDError{id: id}
	}
	return t, nil
}
