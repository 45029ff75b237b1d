package isolation

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultIdleTTL      = 30 * time.Minute
	DefaultReapInterval = 5 * time.Minute
)

// Reaper evicts contexts that have been idle longer than a TTL. Without it,
// a long-running process serving many short-lived conversations grows its
// registry without bound; cleanup is otherwise explicit only.
type Reaper struct {
	manager  *Manager
	idleTTL  time.Duration
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewReaper creates an idle-context reaper for the given manager.
func NewReaper(manager *Manager, idleTTL, interval time.Duration, logger zerolog.Logger) *Reaper {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		manager:  manager,
		idleTTL:  idleTTL,
		interval: interval,
		logger:   logger.With().Str("component", "reaper").Logger(),
	}
}

// Start starts the background reap loop. A stopped reaper can be started
// again.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reaper is already running")
	}
	r.stopCh = make(chan struct{})
	r.running = true
	go r.run(r.stopCh)

	r.logger.Info().
		Dur("idle_ttl", r.idleTTL).
		Dur("interval", r.interval).
		Msg("Context reaper started")

	return nil
}

// Stop stops the background reap loop.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("reaper is not running")
	}
	close(r.stopCh)
	r.running = false

	r.logger.Info().Msg("Context reaper stopped")
	return nil
}

// IsRunning returns whether the reap loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reaper) run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReapNow()
		case <-stop:
			return
		}
	}
}

// ReapNow evicts every context idle longer than the TTL and returns how many
// were removed. An eviction races benignly with a concurrent dispatch: if
// the dispatch wins, the context simply reappears with a fresh handle.
func (r *Reaper) ReapNow() int {
	now := time.Now()
	reaped := 0

	for contextID, stats := range r.manager.Stats() {
		idle := now.Sub(stats.LastAccessedAt)
		if idle < r.idleTTL {
			continue
		}
		if r.manager.Cleanup(contextID) {
			reaped++
			r.logger.Debug().
				Str("context_id", contextID).
				Dur("idle", idle).
				Msg("Reaped idle context")
		}
	}

	if reaped > 0 {
		r.logger.Info().Int("reaped", reaped).Msg("Idle contexts evicted")
	}

	return reaped
}
