package isolation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dita/anygate/internal/observability"
	"github.com/dita/anygate/pkg/agent"
	"github.com/rs/zerolog"
)

// DefaultContextID replaces an absent context id on inbound calls.
const DefaultContextID = "default"

// Config holds manager configuration.
type Config struct {
	// Handle is the runtime handle. It is the shared handle for the
	// native-session and delegated-session strategies, and the
	// classification probe for everything else.
	Handle agent.Handle

	// Family is static metadata about which runtime produced the handle.
	Family agent.Family

	// Factory builds isolated handles for the per-context strategy.
	Factory agent.Factory

	// Strategy forces a wrapping strategy. StrategyAuto classifies from
	// Handle and Family.
	Strategy Strategy

	Logger zerolog.Logger
}

// Manager owns the context registry and routes every dispatch through the
// strategy chosen at construction.
type Manager struct {
	strategy Strategy
	family   agent.Family
	logger   zerolog.Logger

	native agent.SessionHandle // native-session only
	shared agent.Handle        // delegated-session only
	slotMu sync.Mutex          // serializes delegated swap/invoke/restore

	factory agent.Factory // per-context only

	mu      sync.Mutex
	records map[string]*Record
}

// NewManager creates a manager. Classification failures are fatal here: no
// dispatch is possible without a strategy.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	strategy := cfg.Strategy
	if strategy == StrategyAuto {
		s, err := Classify(cfg.Handle, cfg.Family)
		if err != nil {
			return nil, err
		}
		strategy = s
	}

	logger := cfg.Logger.With().Str("component", "isolation").Logger()

	m := &Manager{
		strategy: strategy,
		family:   cfg.Family,
		logger:   logger,
		records:  make(map[string]*Record),
	}

	switch strategy {
	case StrategyNativeSession:
		native, ok := cfg.Handle.(agent.SessionHandle)
		if !ok {
			return nil, fmt.Errorf("%w: native-session strategy requires a session-aware handle", ErrClassification)
		}
		m.native = native
	case StrategyDelegatedSession:
		if cfg.Handle == nil {
			return nil, fmt.Errorf("%w: delegated-session strategy requires a shared handle", ErrClassification)
		}
		m.shared = cfg.Handle
	case StrategyPerContext:
		if cfg.Factory == nil {
			return nil, fmt.Errorf("per-context isolation requires an agent factory")
		}
		m.factory = cfg.Factory
	default:
		return nil, fmt.Errorf("unsupported strategy: %s", strategy)
	}

	logger.Info().
		Str("strategy", strategy.String()).
		Str("family", string(cfg.Family)).
		Msg("Context isolation manager initialized")

	return m, nil
}

// Strategy returns the wrapping strategy fixed at construction.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Dispatch routes one conversational turn to the strategy's wrapper and
// returns the agent's reply unchanged. An empty context id resolves to
// DefaultContextID. Invocation failures propagate unmodified; record
// bookkeeping still reflects the attempt.
func (m *Manager) Dispatch(ctx context.Context, contextID, text string) (string, error) {
	if contextID == "" {
		contextID = DefaultContextID
	}

	start := time.Now()

	var reply string
	var err error
	switch m.strategy {
	case StrategyNativeSession:
		reply, err = m.dispatchNative(ctx, contextID, text)
	case StrategyDelegatedSession:
		reply, err = m.dispatchDelegated(ctx, contextID, text)
	default:
		reply, err = m.dispatchPerContext(ctx, contextID, text)
	}

	observability.RecordDispatch(m.strategy.String(), time.Since(start), err == nil)

	if err != nil {
		m.logger.Debug().Str("context_id", contextID).Err(err).Msg("Dispatch failed")
		return "", err
	}
	return reply, nil
}

// dispatchNative passes the context id straight to the runtime's own
// session-aware entry point.
func (m *Manager) dispatchNative(ctx context.Context, contextID, text string) (string, error) {
	m.touch(contextID)
	return m.native.InvokeSession(ctx, contextID, text)
}

// touch counts a dispatch attempt against a metadata-only record, creating
// the record the first time a context id is seen.
func (m *Manager) touch(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[contextID]
	if !ok {
		rec = newRecord(contextID, nil)
		m.records[contextID] = rec
		observability.RecordContextCreated(len(m.records))
		m.logger.Debug().Str("context_id", contextID).Msg("Tracking new context")
	}
	rec.touch()
}

// Cleanup removes the record for contextID and releases its bound handle.
// Returns false when no record existed; that is not an error. Safe to call
// concurrently with an in-flight Dispatch for the same context id: the
// dispatch completes on the handle it already obtained (the close is
// deferred until the last in-flight invocation drains), and the next
// dispatch transparently builds a fresh one.
func (m *Manager) Cleanup(contextID string) bool {
	m.mu.Lock()
	rec, ok := m.records[contextID]
	busy := false
	if ok {
		delete(m.records, contextID)
		rec.removed = true
		busy = rec.inFlight > 0
		observability.RecordContextCleaned(len(m.records))
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	// A busy record is closed by dropRef when its last invocation returns.
	if !busy {
		if err := rec.release(); err != nil {
			m.logger.Warn().Str("context_id", contextID).Err(err).Msg("Failed to close agent handle")
		}
	}

	m.logger.Info().
		Str("context_id", contextID).
		Int("messages", rec.messageCount).
		Msg("Context cleaned up")

	return true
}

// ListContexts returns a snapshot of all tracked context ids. Ordering is
// unspecified.
func (m *Manager) ListContexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a read-only diagnostic snapshot of every tracked context.
func (m *Manager) Stats() map[string]ContextStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]ContextStats, len(m.records))
	for id, rec := range m.records {
		stats[id] = ContextStats{
			MessageCount:   rec.messageCount,
			CreatedAt:      rec.createdAt,
			LastAccessedAt: rec.lastAccessedAt,
		}
	}
	return stats
}

// Close releases every tracked context and the shared handle, if any.
// Records with in-flight invocations are closed once they drain.
func (m *Manager) Close() error {
	m.mu.Lock()
	records := m.records
	m.records = make(map[string]*Record)
	idle := make([]*Record, 0, len(records))
	for _, rec := range records {
		rec.removed = true
		if rec.inFlight == 0 {
			idle = append(idle, rec)
		}
	}
	m.mu.Unlock()

	for _, rec := range idle {
		if err := rec.release(); err != nil {
			m.logger.Warn().Str("context_id", rec.contextID).Err(err).Msg("Failed to close agent handle")
		}
	}
	observability.SetActiveContexts(0)

	var shared agent.Handle
	switch {
	case m.native != nil:
		shared = m.native
	case m.shared != nil:
		shared = m.shared
	}
	if closer, ok := shared.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close shared handle: %w", err)
		}
	}

	m.logger.Info().Int("contexts", len(records)).Msg("Context isolation manager closed")
	return nil
}
