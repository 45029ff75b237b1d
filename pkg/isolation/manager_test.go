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

// countingHandle is a minimal stateful runtime: it counts calls and keeps a
// mutable memory, which must never be visible across contexts.
type countingHandle struct {
	mu     sync.Mutex
	calls  int
	memory []string
	fail   error
	closed bool
}

func (h *countingHandle) Invoke(_ context.Context, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++
	if h.fail != nil {
		return "", h.fail
	}
	h.memory = append(h.memory, text)
	return "echo: " + text, nil
}

func (h *countingHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *countingHandle) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// handleRecorder is a factory that remembers every handle it builds.
type handleRecorder struct {
	mu       sync.Mutex
	handles  []*countingHandle
	failNext error
}

func (r *handleRecorder) factory() (agent.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return nil, err
	}
	h := &countingHandle{}
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *handleRecorder) built() []*countingHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*countingHandle, len(r.handles))
	copy(out, r.handles)
	return out
}

func newPerContextManager(t *testing.T) (*Manager, *handleRecorder) {
	t.Helper()

	recorder := &handleRecorder{}
	mgr, err := NewManager(Config{
		Handle:  &countingHandle{},
		Family:  agent.FamilyGeneric,
		Factory: recorder.factory,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, StrategyPerContext, mgr.Strategy())
	return mgr, recorder
}

func TestManager_PerContextScenario(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()

	reply, err := mgr.Dispatch(ctx, "ctx1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)

	_, err = mgr.Dispatch(ctx, "ctx2", "hi")
	require.NoError(t, err)

	_, err = mgr.Dispatch(ctx, "ctx1", "again")
	require.NoError(t, err)

	handles := recorder.built()
	require.Len(t, handles, 2)
	assert.Equal(t, 2, handles[0].callCount())
	assert.Equal(t, 1, handles[1].callCount())

	assert.ElementsMatch(t, []string{"ctx1", "ctx2"}, mgr.ListContexts())

	assert.True(t, mgr.Cleanup("ctx1"))
	assert.ElementsMatch(t, []string{"ctx2"}, mgr.ListContexts())
}

func TestManager_ReuseInvariant(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "ctx1", "one")
	require.NoError(t, err)
	_, err = mgr.Dispatch(ctx, "ctx1", "two")
	require.NoError(t, err)

	handles := recorder.built()
	require.Len(t, handles, 1, "same context id must reuse the identical handle")
	assert.Equal(t, 2, handles[0].callCount())
}

func TestManager_IsolationInvariant(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "a", "secret-for-a")
	require.NoError(t, err)
	_, err = mgr.Dispatch(ctx, "b", "secret-for-b")
	require.NoError(t, err)

	handles := recorder.built()
	require.Len(t, handles, 2)
	assert.NotSame(t, handles[0], handles[1])
	assert.Equal(t, []string{"secret-for-a"}, handles[0].memory)
	assert.Equal(t, []string{"secret-for-b"}, handles[1].memory)
}

func TestManager_DefaultContextID(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "", "hello")
	require.NoError(t, err)
	_, err = mgr.Dispatch(ctx, DefaultContextID, "again")
	require.NoError(t, err)

	require.Len(t, recorder.built(), 1, "absent context id must alias %q", DefaultContextID)
	assert.ElementsMatch(t, []string{DefaultContextID}, mgr.ListContexts())
	assert.Equal(t, 2, mgr.Stats()[DefaultContextID].MessageCount)
}

func TestManager_CleanupIdempotence(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "x", "hello")
	require.NoError(t, err)

	assert.True(t, mgr.Cleanup("x"))
	assert.False(t, mgr.Cleanup("x"))

	// Cleanup released the bound handle.
	assert.True(t, recorder.built()[0].closed)

	// The next dispatch builds a brand-new handle.
	_, err = mgr.Dispatch(ctx, "x", "back")
	require.NoError(t, err)

	handles := recorder.built()
	require.Len(t, handles, 2)
	assert.NotSame(t, handles[0], handles[1])
}

func TestManager_FactoryFailureRetries(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	recorder.failNext = errors.New("backend unavailable")

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "ctx1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")

	// No partial record was inserted.
	assert.Empty(t, mgr.ListContexts())

	// A later dispatch retries construction from scratch.
	reply, err := mgr.Dispatch(ctx, "ctx1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)
	assert.Len(t, recorder.built(), 1)
}

func TestManager_InvocationErrorStillCounts(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "ctx1", "hello")
	require.NoError(t, err)

	recorder.built()[0].fail = errors.New("model exploded")

	_, err = mgr.Dispatch(ctx, "ctx1", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")

	// The attempt still shows in the bookkeeping.
	assert.Equal(t, 2, mgr.Stats()["ctx1"].MessageCount)
}

func TestManager_Stats(t *testing.T) {
	mgr, _ := newPerContextManager(t)
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "ctx1", "one")
	require.NoError(t, err)
	_, err = mgr.Dispatch(ctx, "ctx1", "two")
	require.NoError(t, err)

	stats := mgr.Stats()
	require.Contains(t, stats, "ctx1")
	assert.Equal(t, 2, stats["ctx1"].MessageCount)
	assert.False(t, stats["ctx1"].CreatedAt.IsZero())
	assert.False(t, stats["ctx1"].LastAccessedAt.Before(stats["ctx1"].CreatedAt))
}

func TestManager_Close(t *testing.T) {
	mgr, recorder := newPerContextManager(t)

	ctx := context.Background()
	_, err := mgr.Dispatch(ctx, "ctx1", "hello")
	require.NoError(t, err)
	_, err = mgr.Dispatch(ctx, "ctx2", "hi")
	require.NoError(t, err)

	require.NoError(t, mgr.Close())

	for _, h := range recorder.built() {
		assert.True(t, h.closed)
	}
	assert.Empty(t, mgr.ListContexts())
}

func TestManager_ConcurrentDispatch(t *testing.T) {
	mgr, recorder := newPerContextManager(t)
	defer mgr.Close()

	const workers = 16
	const turns = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			contextID := fmt.Sprintf("ctx%d", i)
			for j := 0; j < turns; j++ {
				_, err := mgr.Dispatch(context.Background(), contextID, fmt.Sprintf("msg-%d", j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	handles := recorder.built()
	require.Len(t, handles, workers)
	for _, h := range handles {
		assert.Equal(t, turns, h.callCount())
	}

	stats := mgr.Stats()
	require.Len(t, stats, workers)
	for _, s := range stats {
		assert.Equal(t, turns, s.MessageCount)
	}
}

// gatedHandle blocks inside Invoke until its gate opens and fails the call
// if the handle was closed underneath it.
type gatedHandle struct {
	mu      sync.Mutex
	closed  bool
	entered chan struct{}
	gate    chan struct{}
}

func newGatedHandle() *gatedHandle {
	return &gatedHandle{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (h *gatedHandle) Invoke(_ context.Context, text string) (string, error) {
	close(h.entered)
	<-h.gate
	if h.isClosed() {
		return "", errors.New("invoked on closed handle")
	}
	return "echo: " + text, nil
}

func (h *gatedHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *gatedHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func TestManager_CleanupDuringInFlightDispatch(t *testing.T) {
	gated := newGatedHandle()
	builds := 0
	mgr, err := NewManager(Config{
		Handle: &countingHandle{},
		Family: agent.FamilyGeneric,
		Factory: func() (agent.Handle, error) {
			builds++
			if builds == 1 {
				return gated, nil
			}
			return &countingHandle{}, nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer mgr.Close()

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Dispatch(context.Background(), "ctx1", "hello")
		done <- err
	}()
	<-gated.entered

	// Cleanup wins the race: the record goes away immediately, but the
	// handle must stay usable for the invocation already running on it.
	assert.True(t, mgr.Cleanup("ctx1"))
	assert.Empty(t, mgr.ListContexts())
	assert.False(t, gated.isClosed())

	close(gated.gate)
	require.NoError(t, <-done)

	// The close happened once the invocation drained.
	assert.True(t, gated.isClosed())

	// The next dispatch builds a brand-new handle.
	reply, err := mgr.Dispatch(context.Background(), "ctx1", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "echo: fresh", reply)
	assert.Equal(t, 2, builds)
}

func TestNewManager_ClassificationFailureIsFatal(t *testing.T) {
	_, err := NewManager(Config{
		Family: agent.FamilyGeneric,
		Logger: zerolog.Nop(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClassification)
}

func TestNewManager_PerContextRequiresFactory(t *testing.T) {
	_, err := NewManager(Config{
		Handle: &countingHandle{},
		Family: agent.FamilyGeneric,
		Logger: zerolog.Nop(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory")
}

// nativeRuntime multiplexes sessions itself.
type nativeRuntime struct {
	mu          sync.Mutex
	transcripts map[string][]string
}

func newNativeRuntime() *nativeRuntime {
	return &nativeRuntime{transcripts: make(map[string][]string)}
}

func (n *nativeRuntime) Invoke(ctx context.Context, text string) (string, error) {
	return n.InvokeSession(ctx, DefaultContextID, text)
}

func (n *nativeRuntime) InvokeSession(_ context.Context, contextID, text string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transcripts[contextID] = append(n.transcripts[contextID], text)
	return fmt.Sprintf("[%s] %s", contextID, text), nil
}

func TestManager_NativeSessionPassthrough(t *testing.T) {
	runtime := newNativeRuntime()
	mgr, err := NewManager(Config{
		Handle: runtime,
		Family: agent.FamilyADK,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, StrategyNativeSession, mgr.Strategy())
	defer mgr.Close()

	ctx := context.Background()
	reply, err := mgr.Dispatch(ctx, "ctx1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "[ctx1] hello", reply)

	_, err = mgr.Dispatch(ctx, "ctx2", "hi")
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, runtime.transcripts["ctx1"])
	assert.Equal(t, []string{"hi"}, runtime.transcripts["ctx2"])

	// Metadata records are still tracked for the admin surface.
	assert.ElementsMatch(t, []string{"ctx1", "ctx2"}, mgr.ListContexts())
	assert.Equal(t, 1, mgr.Stats()["ctx1"].MessageCount)
}
