package isolation

import (
	"context"
	"fmt"

	"github.com/dita/anygate/internal/observability"
)

// contextRecord returns the record exclusively bound to contextID, building
// its handle via the factory the first time the context id is seen. A factory
// failure inserts no record: the error propagates and a later dispatch for
// the same context id retries construction from scratch. The returned record
// carries an in-flight reference that the caller must drop via dropRef.
func (m *Manager) contextRecord(contextID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[contextID]
	if !ok {
		handle, err := m.factory()
		if err != nil {
			return nil, fmt.Errorf("agent factory failed for context %q: %w", contextID, err)
		}
		rec = newRecord(contextID, handle)
		m.records[contextID] = rec
		observability.RecordContextCreated(len(m.records))
		m.logger.Info().Str("context_id", contextID).Msg("Created isolated agent instance")
	}

	rec.touch()
	rec.inFlight++
	return rec, nil
}

// dropRef releases one in-flight reference. If the record was removed while
// this invocation was running, the last reference out closes the handle.
func (m *Manager) dropRef(rec *Record) {
	m.mu.Lock()
	rec.inFlight--
	idle := rec.removed && rec.inFlight == 0
	m.mu.Unlock()

	if !idle {
		return
	}
	if err := rec.release(); err != nil {
		m.logger.Warn().Str("context_id", rec.contextID).Err(err).Msg("Failed to close agent handle")
	}
}

// dispatchPerContext invokes the context's own handle. The invocation runs
// outside the registry lock so concurrent conversations in different
// contexts never block each other; only registry bookkeeping is serialized.
// Concurrent calls within one context id are not serialized here — that is
// the handle's documented contract.
func (m *Manager) dispatchPerContext(ctx context.Context, contextID, text string) (string, error) {
	rec, err := m.contextRecord(contextID)
	if err != nil {
		return "", err
	}
	defer m.dropRef(rec)
	return rec.handle.Invoke(ctx, text)
}
