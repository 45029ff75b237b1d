package isolation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dita/anygate/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slotRuntime holds exactly one active session at a time in a mutable slot.
type slotRuntime struct {
	mu          sync.Mutex
	sessionID   string
	transcripts map[string][]string
	fail        error
}

func newSlotRuntime(sessionID string) *slotRuntime {
	return &slotRuntime{
		sessionID:   sessionID,
		transcripts: make(map[string][]string),
	}
}

func (s *slotRuntime) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *slotRuntime) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *slotRuntime) Invoke(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return "", s.fail
	}
	s.transcripts[s.sessionID] = append(s.transcripts[s.sessionID], text)
	return fmt.Sprintf("[%s] %s", s.sessionID, text), nil
}

func newDelegatedManager(t *testing.T, runtime agent.Handle) *Manager {
	t.Helper()

	mgr, err := NewManager(Config{
		Handle: runtime,
		Family: agent.FamilyStrands,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, StrategyDelegatedSession, mgr.Strategy())
	return mgr
}

func TestDelegated_SwapAndRestore(t *testing.T) {
	runtime := newSlotRuntime("original")
	mgr := newDelegatedManager(t, runtime)
	defer mgr.Close()

	reply, err := mgr.Dispatch(context.Background(), "ctx1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "[ctx1] hello", reply)

	// The slot equals whatever it held immediately before the dispatch.
	assert.Equal(t, "original", runtime.SessionID())
	assert.Equal(t, []string{"hello"}, runtime.transcripts["ctx1"])
}

func TestDelegated_RestoreOnFailure(t *testing.T) {
	runtime := newSlotRuntime("original")
	runtime.fail = errors.New("runtime crashed")
	mgr := newDelegatedManager(t, runtime)
	defer mgr.Close()

	_, err := mgr.Dispatch(context.Background(), "ctx1", "hello")
	require.Error(t, err)

	assert.Equal(t, "original", runtime.SessionID())

	// The failed attempt still counts.
	assert.Equal(t, 1, mgr.Stats()["ctx1"].MessageCount)
}

func TestDelegated_ConcurrentContextsSerialized(t *testing.T) {
	runtime := newSlotRuntime("base")
	mgr := newDelegatedManager(t, runtime)
	defer mgr.Close()

	const workers = 8
	const turns = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			contextID := fmt.Sprintf("ctx%d", i)
			for j := 0; j < turns; j++ {
				reply, err := mgr.Dispatch(context.Background(), contextID, "turn")
				assert.NoError(t, err)
				// Every reply was produced under the caller's own
				// session id: no interleaving mid-call.
				assert.Equal(t, fmt.Sprintf("[%s] turn", contextID), reply)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, "base", runtime.SessionID())
	for i := 0; i < workers; i++ {
		assert.Len(t, runtime.transcripts[fmt.Sprintf("ctx%d", i)], turns)
	}
}

func TestDelegated_DegradedWithoutSlot(t *testing.T) {
	// Forcing the delegated strategy onto a handle without a session slot
	// falls back to direct calls: best effort, not an error.
	handle := &countingHandle{}
	mgr, err := NewManager(Config{
		Handle:   handle,
		Family:   agent.FamilyGeneric,
		Strategy: StrategyDelegatedSession,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	defer mgr.Close()

	reply, err := mgr.Dispatch(context.Background(), "ctx1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)
	assert.Equal(t, 1, handle.callCount())
}
