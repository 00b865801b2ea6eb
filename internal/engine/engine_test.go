package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aidlc/gorilla-troop/internal/envelope"
)

func TestSpawnRunsToStopped(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 2, InvocationTimeout: time.Second})
	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		return nil, nil
	})

	inst, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return inst.Status() == StatusStopped
	}, time.Second, time.Millisecond)
}

func TestMissingRunnerProducesError(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 2, InvocationTimeout: time.Second})

	inst, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return inst.Status() == StatusError
	}, time.Second, time.Millisecond)
}

func TestConcurrencyCeilingEnforced(t *testing.T) {
	const ceiling = 2
	e := New(Config{ConcurrencyCeiling: ceiling, InvocationTimeout: 5 * time.Second})

	var current int32
	var maxSeen int32
	release := make(chan struct{})

	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
		return nil, nil
	})

	var insts []*Instance
	for i := 0; i < 5; i++ {
		inst, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
		require.NoError(t, err)
		insts = append(insts, inst)
	}

	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(ceiling))

	close(release)

	require.Eventually(t, func() bool {
		for _, inst := range insts {
			if inst.Status() != StatusStopped {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(ceiling))
}

func TestTimeoutReleasesSlot(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 1, InvocationTimeout: 50 * time.Millisecond})
	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	inst, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return inst.Status() == StatusError
	}, 500*time.Millisecond, time.Millisecond)

	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		return nil, nil
	})
	fast, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-2")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return fast.Status() == StatusStopped
	}, 500*time.Millisecond, time.Millisecond)
}

func TestShutdownDrainsAndForcesStop(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 2, InvocationTimeout: 5 * time.Second})
	block := make(chan struct{})
	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		select {
		case <-block:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	_, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	err = e.Shutdown(100 * time.Millisecond)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	require.Empty(t, e.ListActive())

	_, err = e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-2")
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestStopCancelsRunningInstance(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 1, InvocationTimeout: 5 * time.Second})
	started := make(chan struct{})
	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	inst, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
	require.NoError(t, err)

	<-started
	require.NoError(t, e.Stop(inst.ID, "test"))

	require.Eventually(t, func() bool {
		return inst.Status() == StatusError
	}, time.Second, time.Millisecond)
}

func TestListActiveAndListAllAreConcurrencySafe(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 4, InvocationTimeout: time.Second})
	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		return nil, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Spawn(envelope.TroopGeneric, nil, "proj", "gt")
			_ = e.ListActive()
			_ = e.ListAll()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(e.ListActive()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, e.ListAll(), 20)
}

var errSentinel = errors.New("boom")

func TestRunnerErrorDoesNotPropagateOutOfEngine(t *testing.T) {
	e := New(Config{ConcurrencyCeiling: 1, InvocationTimeout: time.Second})
	e.RegisterRunner(envelope.TroopGeneric, func(ctx context.Context, inst *Instance, taskCtx map[string]any) (map[string]any, error) {
		return nil, errSentinel
	})

	inst, err := e.Spawn(envelope.TroopGeneric, nil, "proj", "gt-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return inst.Status() == StatusError
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, inst.Err(), errSentinel)
}
