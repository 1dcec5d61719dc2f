package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/values"
)

type fakeInstance struct {
	id     int
	closed atomic.Bool
}

func (f *fakeInstance) Call(_ context.Context, _ string, _ []byte) ([]byte, error) {
	return []byte("ok"), nil
}

func (f *fakeInstance) ListFunctions() []string { return []string{"run"} }

func (f *fakeInstance) Usage() isolation.Usage {
	return isolation.Usage{FunctionCalls: 1, FuelConsumed: 10}
}

func (f *fakeInstance) Close(_ context.Context) error {
	f.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeInstance
}

func (f *fakeFactory) make(_ context.Context) (Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := &fakeInstance{id: len(f.created)}
	f.created = append(f.created, inst)
	return inst, nil
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	p, err := New(context.Background(), values.NewPluginID(), factory.make, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p, factory
}

func Test_Pool_PreWarmsToMin(t *testing.T) {
	_, factory := newTestPool(t, Config{MinInstances: 2, MaxInstances: 4, WaitTimeout: time.Second})
	assert.Len(t, factory.created, 2)
}

func Test_Pool_GrowsToMax(t *testing.T) {
	p, factory := newTestPool(t, Config{MinInstances: 0, MaxInstances: 2, WaitTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Len(t, factory.created, 2)
	assert.Equal(t, 2, p.Size())

	a.Release(ctx)
	b.Release(ctx)
}

func Test_Pool_BlocksAtMaxAndTimesOut(t *testing.T) {
	p, _ := newTestPool(t, Config{MinInstances: 0, MaxInstances: 1, WaitTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	var timeout *AcquisitionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	lease.Release(ctx)
}

func Test_Pool_ReleaseUnblocksExactlyOneWaiter(t *testing.T) {
	p, _ := newTestPool(t, Config{MinInstances: 0, MaxInstances: 1, WaitTimeout: 500 * time.Millisecond})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			waiter, err := p.Acquire(ctx)
			if err == nil {
				// Hold past the other waiter's timeout so only one
				// can succeed.
				defer waiter.Release(ctx)
				time.Sleep(600 * time.Millisecond)
			}
			results <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	lease.Release(ctx)

	var succeeded, timedOut int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			timedOut++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, timedOut)
}

func Test_Pool_DiscardDropsInstance(t *testing.T) {
	p, factory := newTestPool(t, Config{MinInstances: 0, MaxInstances: 2, WaitTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Discard(ctx)

	assert.True(t, factory.created[0].closed.Load())
	assert.Equal(t, 0, p.Size())

	// A fresh acquire creates a new instance.
	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Len(t, factory.created, 2)
	next.Release(ctx)
}

func Test_Pool_ShutdownDropsReturningInstances(t *testing.T) {
	factory := &fakeFactory{}
	p, err := New(context.Background(), values.NewPluginID(), factory.make,
		Config{MinInstances: 0, MaxInstances: 2, WaitTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Shutdown(ctx)

	_, err = p.Acquire(ctx)
	var down *ShuttingDownError
	assert.ErrorAs(t, err, &down)

	// Returning after shutdown closes the instance instead of pooling it.
	lease.Release(ctx)
	assert.True(t, factory.created[0].closed.Load())
	assert.Equal(t, 0, p.Size())
}

func Test_Pool_SweepRespectsMin(t *testing.T) {
	p, factory := newTestPool(t, Config{
		MinInstances: 1,
		MaxInstances: 3,
		WaitTimeout:  50 * time.Millisecond,
		IdleTimeout:  10 * time.Millisecond,
	})
	ctx := context.Background()

	// Grow to three instances, then park them all.
	a, _ := p.Acquire(ctx)
	b, _ := p.Acquire(ctx)
	c, _ := p.Acquire(ctx)
	a.Release(ctx)
	b.Release(ctx)
	c.Release(ctx)
	require.Equal(t, 3, p.Size())
	require.Len(t, factory.created, 3)

	time.Sleep(20 * time.Millisecond)
	p.sweepOnce(ctx)

	assert.Equal(t, 1, p.Size())
}

func Test_Pool_UsageAggregates(t *testing.T) {
	p, _ := newTestPool(t, Config{MinInstances: 2, MaxInstances: 2, WaitTimeout: 50 * time.Millisecond})

	usage := p.Usage()
	assert.Equal(t, uint64(2), usage.FunctionCalls)
	assert.Equal(t, uint64(20), usage.FuelConsumed)
	// Draining for aggregation must return instances to the queue.
	assert.Equal(t, 2, p.Size())
}
