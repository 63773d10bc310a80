package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFakePool(t *testing.T, max int, acquireTimeout time.Duration) (*Pool, *atomic.Int64) {
	t.Helper()
	var created atomic.Int64
	p := newPool(
		PoolConfig{MaxInstances: max, AcquireTimeout: acquireTimeout},
		zap.NewNop(),
		func() (*Handle, error) {
			created.Add(1)
			ctx, cancel := context.WithCancel(context.Background())
			return &Handle{ctx: ctx, cancel: cancel}, nil
		},
		func(*Handle) error { return nil },
	)
	t.Cleanup(p.Drain)
	return p, &created
}

func TestPoolEnforcesMaxInstances(t *testing.T) {
	p, created := newFakePool(t, 2, 50*time.Millisecond)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)
	h2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, int64(2), created.Load())

	p.Release(h1)
	p.Release(h2)
}

func TestPoolReusesReleasedHandles(t *testing.T) {
	p, created := newFakePool(t, 1, time.Second)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(h)

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, h, again)
	assert.Equal(t, int64(1), created.Load())
	p.Release(again)
}

func TestPoolUnblocksWaiterOnRelease(t *testing.T) {
	p, _ := newFakePool(t, 1, 5*time.Second)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *Handle, 1)
	go func() {
		waited, err := p.Acquire(ctx)
		if err == nil {
			got <- waited
		}
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(h)

	select {
	case waited := <-got:
		assert.Same(t, h, waited)
		p.Release(waited)
	case <-time.After(time.Second):
		t.Fatal("waiter never received released handle")
	}
}

func TestPoolDestroysPoisonedHandleOnRelease(t *testing.T) {
	var created atomic.Int64
	p := newPool(
		PoolConfig{MaxInstances: 1, AcquireTimeout: time.Second},
		zap.NewNop(),
		func() (*Handle, error) {
			created.Add(1)
			ctx, cancel := context.WithCancel(context.Background())
			return &Handle{ctx: ctx, cancel: cancel}, nil
		},
		func(*Handle) error { return errors.New("tab wedged") },
	)
	t.Cleanup(p.Drain)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(h)
	assert.Equal(t, 0, p.Live())

	// The slot freed by the destroy is available for a fresh handle.
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.Equal(t, int64(2), created.Load())
	p.Destroy(h2)
}

func TestPoolAcquireHonorsContextCancellation(t *testing.T) {
	p, _ := newFakePool(t, 1, 10*time.Second)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(h)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolDrainRejectsNewAcquisitions(t *testing.T) {
	p, _ := newFakePool(t, 2, time.Second)

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(h)

	p.Drain()
	assert.Equal(t, 0, p.Live())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolDraining)
}

func TestPoolFailedCreateReleasesSlot(t *testing.T) {
	fail := true
	p := newPool(
		PoolConfig{MaxInstances: 1, AcquireTimeout: 50 * time.Millisecond},
		zap.NewNop(),
		func() (*Handle, error) {
			if fail {
				return nil, errors.New("browser refused to start")
			}
			ctx, cancel := context.WithCancel(context.Background())
			return &Handle{ctx: ctx, cancel: cancel}, nil
		},
		func(*Handle) error { return nil },
	)
	t.Cleanup(p.Drain)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, p.Live())

	fail = false
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Destroy(h)
}
