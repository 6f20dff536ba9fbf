package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VulnFusion/go-api/fusion/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyRunner records its execution order and returns a canned result.
type spyRunner struct {
	mu    *sync.Mutex
	calls *[]string
	key   string
	err   error
}

func (s *spyRunner) Run(ctx context.Context) (string, error) {
	s.mu.Lock()
	*s.calls = append(*s.calls, s.key)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

type spyPublisher struct {
	mu       sync.Mutex
	messages []string
}

func (p *spyPublisher) Publish(qName, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *spyPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type spyHarness struct {
	mu    sync.Mutex
	calls []string
}

func (h *spyHarness) source(order int, key string, mode FailureMode, err error) SourceDefinition {
	return SourceDefinition{
		Order:          order,
		Key:            key,
		Name:           key,
		DefaultEnabled: true,
		FailureMode:    mode,
		Runner:         &spyRunner{mu: &h.mu, calls: &h.calls, key: key, err: err},
	}
}

func waitForTerminal(t *testing.T, progress *store.ProgressStore) store.SyncProgress {
	t.Helper()
	var final store.SyncProgress
	require.Eventually(t, func() bool {
		p, err := progress.Load(context.Background())
		if err != nil {
			return false
		}
		final = p
		return p.IsComplete
	}, 5*time.Second, 10*time.Millisecond)
	return final
}

func waitForLockRelease(t *testing.T, progress *store.ProgressStore) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok, err := progress.AcquireLock(context.Background(), "probe")
		if err != nil || !ok {
			return false
		}
		require.NoError(t, progress.ReleaseLock(context.Background()))
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestResolveDefaultsAndOrder(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(
		h.source(30, "third", FailureIsolated, nil),
		h.source(10, "first", FailureFatal, nil),
		h.source(20, "second", FailureIsolated, nil),
	)

	selected, err := registry.Resolve(nil)
	require.NoError(t, err)
	require.Len(t, selected, 3)
	assert.Equal(t, "first", selected[0].Key)
	assert.Equal(t, "second", selected[1].Key)
	assert.Equal(t, "third", selected[2].Key)

	// Request order does not override registry order.
	selected, err = registry.Resolve([]string{"third", "first"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "first", selected[0].Key)
	assert.Equal(t, "third", selected[1].Key)
}

func TestResolveUnknownSource(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(h.source(10, "first", FailureFatal, nil))

	_, err := registry.Resolve([]string{"first", "bogus"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestResolveNoDefaults(t *testing.T) {
	registry := NewRegistry(SourceDefinition{Order: 10, Key: "opt-in"})

	_, err := registry.Resolve(nil)
	assert.True(t, errors.Is(err, ErrNoSources))
}

func TestStartRunsSourcesInOrder(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(
		h.source(20, "second", FailureIsolated, nil),
		h.source(10, "first", FailureFatal, nil),
	)
	progress := store.NewProgressStore(store.NewMemoryKVStore())
	events := &spyPublisher{}
	orch := NewOrchestrator(registry, progress, events)
	defer orch.Close()

	require.NoError(t, orch.Start(context.Background(), nil))

	final := waitForTerminal(t, progress)
	assert.Equal(t, "complete", final.Stage)
	assert.Equal(t, 100, final.Progress)
	assert.False(t, final.IsSyncing)
	require.Len(t, final.Sources, 2)
	assert.Equal(t, store.SourceStatusSuccess, final.Sources[0].Status)
	assert.Equal(t, store.SourceStatusSuccess, final.Sources[1].Status)

	h.mu.Lock()
	assert.Equal(t, []string{"first", "second"}, h.calls)
	h.mu.Unlock()

	waitForLockRelease(t, progress)
	assert.Equal(t, 1, events.count())
}

func TestFatalFailureLeavesRemainingPending(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(
		h.source(10, "primary", FailureFatal, errors.New("feed exploded")),
		h.source(20, "enrichment", FailureIsolated, nil),
	)
	progress := store.NewProgressStore(store.NewMemoryKVStore())
	orch := NewOrchestrator(registry, progress, nil)
	defer orch.Close()

	require.NoError(t, orch.Start(context.Background(), nil))

	final := waitForTerminal(t, progress)
	assert.Equal(t, "error", final.Stage)
	require.Len(t, final.Sources, 2)
	assert.Equal(t, store.SourceStatusError, final.Sources[0].Status)
	assert.Contains(t, final.Sources[0].Message, "feed exploded")
	assert.Equal(t, store.SourceStatusPending, final.Sources[1].Status)

	h.mu.Lock()
	assert.Equal(t, []string{"primary"}, h.calls)
	h.mu.Unlock()

	waitForLockRelease(t, progress)
}

func TestIsolatedFailureContinues(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(
		h.source(10, "primary", FailureFatal, nil),
		h.source(20, "enrichment", FailureIsolated, errors.New("feed down")),
		h.source(30, "feeds", FailureIsolated, nil),
	)
	progress := store.NewProgressStore(store.NewMemoryKVStore())
	orch := NewOrchestrator(registry, progress, nil)
	defer orch.Close()

	require.NoError(t, orch.Start(context.Background(), nil))

	final := waitForTerminal(t, progress)
	assert.Equal(t, "complete", final.Stage)
	assert.Equal(t, store.SourceStatusSuccess, final.Sources[0].Status)
	assert.Equal(t, store.SourceStatusError, final.Sources[1].Status)
	assert.Equal(t, store.SourceStatusSuccess, final.Sources[2].Status)

	h.mu.Lock()
	assert.Equal(t, []string{"primary", "enrichment", "feeds"}, h.calls)
	h.mu.Unlock()
}

func TestStartConflict(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(h.source(10, "primary", FailureFatal, nil))
	progress := store.NewProgressStore(store.NewMemoryKVStore())
	orch := NewOrchestrator(registry, progress, nil)
	defer orch.Close()

	ctx := context.Background()
	acquired, err := progress.AcquireLock(ctx, "other-run")
	require.NoError(t, err)
	require.True(t, acquired)

	inFlight := store.SyncProgress{Stage: "Device vulnerabilities", Progress: 40, IsSyncing: true}
	require.NoError(t, progress.Save(ctx, inFlight))

	err = orch.Start(ctx, nil)
	assert.True(t, errors.Is(err, ErrSyncInProgress))

	// The conflicting trigger must not have run anything or touched the
	// in-flight run's progress.
	h.mu.Lock()
	assert.Empty(t, h.calls)
	h.mu.Unlock()

	current, err := progress.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, inFlight, current)
}

func TestStartUnknownSourceBeforeLock(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(h.source(10, "primary", FailureFatal, nil))
	progress := store.NewProgressStore(store.NewMemoryKVStore())
	orch := NewOrchestrator(registry, progress, nil)
	defer orch.Close()

	ctx := context.Background()
	err := orch.Start(ctx, []string{"nope"})
	assert.True(t, errors.Is(err, ErrUnknownSource))

	// The failed trigger must not have taken the lock.
	acquired, err := progress.AcquireLock(ctx, "check")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestCloseAbortsBetweenSources(t *testing.T) {
	h := &spyHarness{}
	registry := NewRegistry(
		h.source(10, "primary", FailureFatal, nil),
		h.source(20, "enrichment", FailureIsolated, nil),
	)
	progress := store.NewProgressStore(store.NewMemoryKVStore())
	orch := NewOrchestrator(registry, progress, nil)

	// Cancel before the run starts; the loop sees a dead context at the
	// first source boundary.
	orch.Close()
	require.NoError(t, orch.Start(context.Background(), nil))

	final := waitForTerminal(t, progress)
	assert.Equal(t, "error", final.Stage)
	assert.Equal(t, "aborted", final.Message)
	for _, src := range final.Sources {
		assert.Equal(t, store.SourceStatusPending, src.Status)
	}

	h.mu.Lock()
	assert.Empty(t, h.calls)
	h.mu.Unlock()
}
