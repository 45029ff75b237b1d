package isolation

import (
	"io"
	"time"

	"github.com/dita/anygate/pkg/agent"
)

// Record tracks one active conversation. For the per-context strategy it
// exclusively owns the bound handle; for shared-handle strategies it carries
// metadata only and handle is nil.
//
// inFlight and removed are guarded by the manager's registry lock. A removed
// record with in-flight invocations keeps its handle alive until the last
// invocation drains; release then runs outside the lock.
type Record struct {
	contextID      string
	handle         agent.Handle
	createdAt      time.Time
	lastAccessedAt time.Time
	messageCount   int
	inFlight       int
	removed        bool
}

func newRecord(contextID string, handle agent.Handle) *Record {
	now := time.Now()
	return &Record{
		contextID:      contextID,
		handle:         handle,
		createdAt:      now,
		lastAccessedAt: now,
	}
}

// touch counts a dispatch attempt. Callers must hold the registry lock.
func (r *Record) touch() {
	r.messageCount++
	r.lastAccessedAt = time.Now()
}

// release closes the bound handle if it owns one and the handle supports it.
func (r *Record) release() error {
	if r.handle == nil {
		return nil
	}
	if closer, ok := r.handle.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ContextStats is a read-only diagnostic snapshot of one Record.
type ContextStats struct {
	MessageCount   int       `json:"messageCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}
