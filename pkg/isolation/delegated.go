package isolation

import (
	"context"

	"github.com/dita/anygate/pkg/agent"
)

// dispatchDelegated makes a runtime that supports only one active session at
// a time behave as if it supported many: save the slot, point it at the
// requested context, invoke, restore. The whole sequence runs inside one
// lock shared across all context ids — the slot is a single point of truth
// that cannot tolerate interleaving, so this strategy trades concurrency for
// compatibility with runtimes whose internal client connections must not be
// duplicated per context.
func (m *Manager) dispatchDelegated(ctx context.Context, contextID, text string) (string, error) {
	m.touch(contextID)

	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	slot, ok := m.shared.(agent.SessionSlot)
	if !ok {
		// Degraded: the runtime has no session slot at all. Invoke
		// directly; isolation is best effort here, not guaranteed.
		m.logger.Warn().
			Str("context_id", contextID).
			Msg("Handle exposes no session slot; invoking without isolation")
		return m.shared.Invoke(ctx, text)
	}

	prev := slot.SessionID()
	slot.SetSessionID(contextID)
	defer slot.SetSessionID(prev)

	return slot.Invoke(ctx, text)
}
